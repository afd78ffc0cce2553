package worker

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("worker: closed")
	ErrNonFinite     = errors.New("worker: non-finite free energy")
	ErrBindExhausted = errors.New("worker: bind attempts exhausted")
)

// FaultKind classifies a failure inside the serve loop.
type FaultKind int

const (
	// ProtocolParseError: the request had no usable sequence.
	ProtocolParseError FaultKind = iota + 1
	// ComputationError: the engine failed, panicked, or produced a non-finite total.
	ComputationError
	// ConnectionError: accept, read, write, or an unexpected panic in the loop.
	ConnectionError
)

// Recovery is the action a worker takes for a fault.
type Recovery int

const (
	// RecoverRestart drops the client and rebinds the listener.
	RecoverRestart Recovery = iota + 1
	// RecoverSentinel answers with the 0.0 sentinel and keeps the connection.
	RecoverSentinel
)

func (k FaultKind) String() string {
	switch k {
	case ProtocolParseError:
		return "protocol"
	case ComputationError:
		return "computation"
	case ConnectionError:
		return "connection"
	default:
		return "unknown"
	}
}

func (k FaultKind) Recovery() Recovery {
	if k == ComputationError {
		return RecoverSentinel
	}
	return RecoverRestart
}

func (r Recovery) String() string {
	switch r {
	case RecoverRestart:
		return "restart"
	case RecoverSentinel:
		return "sentinel"
	default:
		return "unknown"
	}
}

// Fault is a classified serve-loop failure.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func newFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("worker: %s fault during %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// KindOf reports the fault kind carried by err, if any.
func KindOf(err error) (FaultKind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}
