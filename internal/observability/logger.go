package observability

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessLogger scopes a logger to one process role. Every line carries the
// pid and a run id that is unique per process start.
func ProcessLogger(base zerolog.Logger, role string) (zerolog.Logger, string) {
	runID := uuid.NewString()
	logger := base.With().
		Str("role", role).
		Int("pid", os.Getpid()).
		Str("run_id", runID).
		Logger()
	return logger, runID
}
