package supervisor

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/dgpool/internal/observability"
	"github.com/danmuck/dgpool/internal/port"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"
)

var ErrStopTimeout = errors.New("supervisor: worker tree did not stop within grace period")

// Supervisor launches one worker process per port in
// [BasePort, BasePort+Workers) and keeps the pool at that size until shutdown.
type Supervisor struct {
	cfg     Config
	log     zerolog.Logger
	procs   []*workerProcess
	tree    *suture.Supervisor
	started time.Time
}

func New(cfg Config, launcher Launcher, logger zerolog.Logger) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	ports, err := port.Range(cfg.BasePort, cfg.Workers)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg: cfg,
		log: logger.With().Str("component", "supervisor").Logger(),
	}
	s.tree = suture.New("dgpool", suture.Spec{
		EventHook:        s.onTreeEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   cfg.RestartBackoff,
		Timeout:          cfg.ShutdownGrace,
	})
	s.procs = make([]*workerProcess, len(ports))
	for i, p := range ports {
		s.procs[i] = newWorkerProcess(WorkerSpec{Index: i, Port: p}, launcher, cfg.ShutdownGrace, s.log)
	}
	return s, nil
}

// Run starts the pool, idles until SIGINT/SIGTERM or ctx is done, then
// shuts the pool down.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The tree outlives ctx so that shutdown can close workers first.
	treeCtx, cancelTree := context.WithCancel(context.Background())
	defer cancelTree()

	treeErr := s.start(treeCtx)

	g, gctx := errgroup.WithContext(ctx)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		g.Go(func() error {
			return observability.Serve(gctx, addr, nil, s.adminRouter(), s.log)
		})
	}
	g.Go(func() error {
		return s.idle(gctx)
	})
	runErr := g.Wait()

	if err := s.shutdown(cancelTree, treeErr); err != nil {
		return err
	}
	return runErr
}

// start launches every worker slot on the tree.
func (s *Supervisor) start(ctx context.Context) <-chan error {
	ports := make([]int, len(s.procs))
	for i, p := range s.procs {
		ports[i] = p.spec.Port
	}
	if busy := port.Busy(s.cfg.Host, ports); len(busy) > 0 {
		s.log.Warn().Ints("ports", busy).Msg("supervisor.start ports already in use")
	}

	for _, p := range s.procs {
		s.tree.Add(p)
	}
	s.started = time.Now()
	s.log.Info().
		Int("workers", len(s.procs)).
		Int("base_port", s.cfg.BasePort).
		Int("last_port", ports[len(ports)-1]).
		Msg("supervisor.start")
	return s.tree.ServeBackground(ctx)
}

// idle blocks on the heartbeat until ctx is done. It only reports; it does
// not probe worker health.
func (s *Supervisor) idle(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("supervisor.idle interrupted")
			return nil
		case <-ticker.C:
			running := 0
			for _, st := range s.Workers() {
				if st.Running {
					running++
				}
			}
			s.log.Debug().
				Int("workers", len(s.procs)).
				Int("running", running).
				Dur("uptime", time.Since(s.started)).
				Msg("supervisor.heartbeat")
		}
	}
}

// shutdown closes every worker slot, then stops the tree and waits at most
// the grace period for it.
func (s *Supervisor) shutdown(cancelTree context.CancelFunc, treeErr <-chan error) error {
	for _, p := range s.procs {
		if err := p.Close(); err != nil {
			s.log.Warn().Err(err).Msg("supervisor.shutdown close failed")
		}
	}
	cancelTree()

	select {
	case err := <-treeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug().Err(err).Msg("supervisor.shutdown tree returned")
		}
	case <-time.After(s.cfg.ShutdownGrace + time.Second):
		s.log.Warn().Dur("grace", s.cfg.ShutdownGrace).Msg("supervisor.shutdown not all workers stopped")
		return ErrStopTimeout
	}
	s.log.Info().Msg("supervisor.shutdown complete")
	return nil
}

// Workers returns a snapshot of every worker slot in port order.
func (s *Supervisor) Workers() []WorkerStatus {
	out := make([]WorkerStatus, len(s.procs))
	for i, p := range s.procs {
		out[i] = p.status()
	}
	return out
}

func (s *Supervisor) Config() Config {
	return s.cfg
}

func (s *Supervisor) onTreeEvent(ev suture.Event) {
	s.log.Warn().Fields(ev.Map()).Msg("supervisor.tree " + ev.String())
}
