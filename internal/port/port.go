package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// MaxPort is the highest valid TCP port number.
const MaxPort = 65535

var (
	ErrInvalidCount = errors.New("port: worker count must be positive")
	ErrOutOfRange   = errors.New("port: range exceeds valid port numbers")
	ErrNoFreeRange  = errors.New("port: no free contiguous range")
)

// Range returns the ports base, base+1, ..., base+count-1.
func Range(base, count int) ([]int, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	if base < 1 || base+count-1 > MaxPort {
		return nil, fmt.Errorf("%w: %d..%d", ErrOutOfRange, base, base+count-1)
	}
	ports := make([]int, count)
	for i := range ports {
		ports[i] = base + i
	}
	return ports, nil
}

// Available reports whether a TCP listener can be bound on host:port now.
func Available(host string, port int) bool {
	ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Busy returns the ports from ports that cannot be bound on host.
func Busy(host string, ports []int) []int {
	var busy []int
	for _, p := range ports {
		if !Available(host, p) {
			busy = append(busy, p)
		}
	}
	return busy
}

// FindFreeRange returns the lowest base in [start, end] such that count
// consecutive ports starting at base are all free on host.
func FindFreeRange(host string, start, end, count int) (int, error) {
	if count <= 0 {
		return 0, ErrInvalidCount
	}
	run := 0
	for p := start; p <= end && p <= MaxPort; p++ {
		if !Available(host, p) {
			run = 0
			continue
		}
		run++
		if run == count {
			return p - count + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %d ports in %d-%d", ErrNoFreeRange, count, start, end)
}
