package supervisor

import (
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBasePort = 6000

	// Environment handed to worker processes.
	EnvWorkerPort  = "DGPOOL_WORKER_PORT"
	EnvWorkerIndex = "DGPOOL_WORKER_INDEX"
)

// Config configures the pool.
type Config struct {
	Workers       int
	BasePort      int
	Host          string
	Heartbeat     time.Duration
	ShutdownGrace time.Duration
	// AdminAddr, when set, serves /health, /workers and /metrics.
	AdminAddr string
	// RestartBackoff is how long the tree pauses after repeated worker crashes.
	RestartBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        runtime.NumCPU(),
		BasePort:       DefaultBasePort,
		Host:           "localhost",
		Heartbeat:      time.Second,
		ShutdownGrace:  3 * time.Second,
		RestartBackoff: 5 * time.Second,
	}
}

// ResolveWorkerCount parses the CLI worker count. Anything that is not a
// positive integer falls back to the number of logical CPUs.
func ResolveWorkerCount(arg string) int {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BasePort <= 0 {
		c.BasePort = d.BasePort
	}
	if strings.TrimSpace(c.Host) == "" {
		c.Host = d.Host
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = d.RestartBackoff
	}
	return c
}
