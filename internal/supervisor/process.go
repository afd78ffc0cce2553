package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/dgpool/internal/observability"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// WorkerStatus is a snapshot of one worker slot as seen by the supervisor.
type WorkerStatus struct {
	Index    int    `json:"index"`
	Port     int    `json:"port"`
	PID      int    `json:"pid"`
	Running  bool   `json:"running"`
	Starts   int    `json:"starts"`
	Closed   bool   `json:"closed"`
	LastExit string `json:"last_exit,omitempty"`
}

// workerProcess is the supervisor's descriptor for one worker slot. It is a
// suture service: each Serve call runs one child process to completion.
type workerProcess struct {
	spec     WorkerSpec
	launcher Launcher
	grace    time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	control  io.WriteCloser
	running  bool
	closed   bool
	starts   int
	lastExit string
}

func newWorkerProcess(spec WorkerSpec, launcher Launcher, grace time.Duration, logger zerolog.Logger) *workerProcess {
	return &workerProcess{
		spec:     spec,
		launcher: launcher,
		grace:    grace,
		log:      logger.With().Int("port", spec.Port).Int("index", spec.Index).Logger(),
	}
}

func (p *workerProcess) String() string {
	return fmt.Sprintf("worker:%d", p.spec.Port)
}

// Serve launches the child and waits for it. A child that exits while the
// slot is still open is reported as a failure so the tree respawns it.
func (p *workerProcess) Serve(ctx context.Context) error {
	if p.isClosed() {
		return suture.ErrDoNotRestart
	}

	cmd := p.launcher.Command(ctx, p.spec)
	control, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("supervisor: control pipe for %s: %w", p, err)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.grace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start %s: %w", p, err)
	}
	if closed := p.track(cmd, control); closed {
		_ = control.Close()
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	observability.RecordProcessStart(p.spec.Port)
	p.log.Info().Int("child_pid", cmd.Process.Pid).Msg("supervisor.worker started")

	waitErr := cmd.Wait()
	clean := ctx.Err() != nil || p.isClosed()
	p.untrack(waitErr)
	observability.RecordProcessExit(p.spec.Port, clean)

	if clean {
		p.log.Info().Err(waitErr).Msg("supervisor.worker stopped")
		return suture.ErrDoNotRestart
	}
	p.log.Warn().Err(waitErr).Msg("supervisor.worker exited unexpectedly")
	if waitErr == nil {
		waitErr = errors.New("exit status 0")
	}
	return fmt.Errorf("supervisor: %s exited: %w", p, waitErr)
}

// Close stops the child owned by this slot: the control pipe is closed and
// SIGTERM is delivered. The slot is not respawned afterwards. Idempotent.
func (p *workerProcess) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd, control := p.cmd, p.control
	p.mu.Unlock()

	if control != nil {
		_ = control.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("supervisor: signal %s: %w", p, err)
	}
	return nil
}

// track records a started child and reports whether the slot was closed
// while it was starting.
func (p *workerProcess) track(cmd *exec.Cmd, control io.WriteCloser) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd = cmd
	p.control = control
	p.running = true
	p.starts++
	return p.closed
}

func (p *workerProcess) untrack(waitErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.control = nil
	if waitErr != nil {
		p.lastExit = waitErr.Error()
	} else {
		p.lastExit = "exit status 0"
	}
}

func (p *workerProcess) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *workerProcess) status() WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := WorkerStatus{
		Index:    p.spec.Index,
		Port:     p.spec.Port,
		Running:  p.running,
		Starts:   p.starts,
		Closed:   p.closed,
		LastExit: p.lastExit,
	}
	if p.running && p.cmd != nil && p.cmd.Process != nil {
		st.PID = p.cmd.Process.Pid
	}
	return st
}
