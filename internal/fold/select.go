package fold

import (
	"fmt"
	"strings"
	"time"
)

const (
	KindNearestNeighbor = "nearest-neighbor"
	KindExec            = "exec"
)

// Select builds the engine named by kind. An empty kind selects the
// built-in nearest-neighbor engine.
func Select(kind string, command []string, timeout time.Duration) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindNearestNeighbor, "nn":
		return NearestNeighbor{}, nil
	case KindExec:
		if len(command) == 0 {
			return nil, ErrNoCommand
		}
		return ExecEngine{Command: append([]string{}, command...), Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("fold: unknown engine %q", kind)
	}
}
