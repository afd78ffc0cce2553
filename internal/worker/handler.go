package worker

import (
	"fmt"
	"math"
	"net"
	"time"

	"github.com/danmuck/dgpool/internal/fold"
	"github.com/danmuck/dgpool/internal/observability"
	"github.com/danmuck/dgpool/internal/protocol"
)

// handleRequest computes dG and writes exactly one response. Computation
// faults are answered with the sentinel; only the write can fail the
// connection.
func (w *Worker) handleRequest(conn net.Conn, req protocol.Request) error {
	start := time.Now()
	dg, fault := w.compute(req)
	outcome := observability.OutcomeOK
	if fault != nil {
		outcome = observability.OutcomeSentinel
		w.noteFault(fault)
	}

	if wt := w.cfg.Session.WriteTimeout; wt > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(wt))
	}
	err := protocol.WriteResponse(conn, dg)
	observability.RecordRequest(w.Port(), outcome, time.Since(start))
	if err != nil {
		return err
	}

	w.log.Debug().
		Int("port", w.Port()).
		Str("sequence", req.Sequence).
		Float64("temperature", req.Temperature).
		Float32("dg", dg).
		Msg("worker.request handled")
	return nil
}

// compute folds the request and returns the weighted total as float32, or
// the sentinel with a ComputationError fault.
func (w *Worker) compute(req protocol.Request) (dg float32, fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			dg = protocol.Sentinel
			fault = newFault(ComputationError, "fold", fmt.Errorf("panic: %v", r))
		}
	}()

	segs, err := w.engine.Fold(req.Sequence, req.Temperature)
	if err != nil {
		return protocol.Sentinel, newFault(ComputationError, "fold", err)
	}
	total := fold.TotalEnergy(segs)
	if !fold.IsFinite(total) || math.IsInf(float64(float32(total)), 0) {
		return protocol.Sentinel, newFault(ComputationError, "sum", fmt.Errorf("%w: %v", ErrNonFinite, total))
	}
	return float32(total), nil
}
