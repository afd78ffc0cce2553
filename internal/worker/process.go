package worker

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/dgpool/internal/fold"
	"github.com/danmuck/dgpool/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProcessConfig configures a worker running as its own OS process.
type ProcessConfig struct {
	Worker Config
	// MetricsAddr, when set, serves /metrics for this process. Failing to
	// serve it is logged, not fatal.
	MetricsAddr string
	// Control is the supervisor's control pipe. EOF on it means shutdown.
	Control io.Reader
}

// RunProcess is the worker process main loop. It returns when SIGINT or
// SIGTERM arrives, the control pipe closes, or ctx is done.
func RunProcess(ctx context.Context, cfg ProcessConfig, engine fold.Engine, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Control != nil {
		var cancel context.CancelFunc
		ctx, cancel = WatchControl(ctx, cfg.Control)
		defer cancel()
	}

	w := New(cfg.Worker, engine, logger)
	logger.Info().Int("port", cfg.Worker.Port).Msg("worker.process started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		g.Go(func() error {
			serveMetrics(gctx, addr, cfg.Worker.Port, logger)
			return nil
		})
	}

	err := g.Wait()
	logger.Info().Int("port", w.Port()).Int("restarts", w.Restarts()).Err(err).Msg("worker.process stopped")
	return err
}

// serveMetrics runs the optional /metrics endpoint until ctx is done. It
// never fails the worker: a bind or serve error is logged and counted and
// the data plane keeps running.
func serveMetrics(ctx context.Context, addr string, port int, logger zerolog.Logger) {
	r := observability.NewRouter("worker", logger)
	if err := observability.Serve(ctx, addr, nil, r, logger); err != nil {
		observability.RecordMetricsServeError(port)
		logger.Error().Err(err).Str("addr", addr).Int("port", port).Msg("worker.metrics unavailable")
	}
}

// WatchControl derives a context that is cancelled once r reaches EOF or
// fails. The supervisor holds the write end; closing it, or the supervisor
// dying, stops the worker.
func WatchControl(ctx context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		_, _ = io.Copy(io.Discard, r)
	}()
	return ctx, cancel
}
