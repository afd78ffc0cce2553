package worker

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/dgpool/internal/fold"
	"github.com/danmuck/dgpool/internal/observability"
	"github.com/danmuck/dgpool/internal/protocol"
	"github.com/danmuck/dgpool/internal/session"
	"github.com/rs/zerolog"
)

// State is the connection state of a worker.
type State int32

const (
	Unbound State = iota
	Listening
	Connected
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config configures one worker. Port 0 binds an ephemeral port on first
// start; every later rebind reuses the port that was assigned.
type Config struct {
	Host         string
	Port         int
	BindAttempts int
	Session      session.Config
}

// DefaultIdleTimeout is how long a connected client may stay silent before
// the worker drops it and rebinds.
const DefaultIdleTimeout = 5 * time.Minute

func DefaultConfig(port int) Config {
	sess := session.DefaultConfig()
	sess.ReadTimeout = DefaultIdleTimeout
	return Config{
		Host:         "localhost",
		Port:         port,
		BindAttempts: 10,
		Session:      sess,
	}
}

// Worker serves one TCP port, one client at a time. Each read is one
// request; each handled request produces exactly one 4-byte response.
type Worker struct {
	cfg    Config
	engine fold.Engine
	log    zerolog.Logger
	rng    *rand.Rand

	mu       sync.Mutex
	port     int
	state    State
	listener net.Listener
	conn     net.Conn
	closed   bool
	restarts int
}

func New(cfg Config, engine fold.Engine, logger zerolog.Logger) *Worker {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Worker{
		cfg:    cfg,
		engine: engine,
		log:    logger.With().Str("component", "worker").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		port:   cfg.Port,
	}
}

// Run drives start -> serve -> restart until ctx is done or Close is
// called. It returns nil on shutdown and an error only when the port
// cannot be bound.
func (w *Worker) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	failed := 0
	for {
		if err := w.start(ctx); err != nil {
			if w.stopping(ctx) {
				return nil
			}
			if _, ok := KindOf(err); !ok {
				return err
			}
			w.restart(err)
			failed++
			if err := session.Sleep(ctx, session.NextBackoffDelay(w.cfg.Session.Backoff, failed, w.rng)); err != nil {
				return nil
			}
			continue
		}
		failed = 0

		err := w.serve(ctx)
		if w.stopping(ctx) {
			return nil
		}
		w.restart(err)
	}
}

// start binds the listener and blocks until exactly one client connects.
func (w *Worker) start(ctx context.Context) error {
	ln, err := w.bind(ctx)
	if err != nil {
		return err
	}
	w.log.Debug().Int("port", w.Port()).Msg("worker.start listening")

	conn, err := ln.Accept()
	if err != nil {
		return newFault(ConnectionError, "accept", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	w.conn = conn
	w.state = Connected
	w.mu.Unlock()

	w.log.Info().
		Int("port", w.Port()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("worker.start client connected")
	return nil
}

func (w *Worker) bind(ctx context.Context) (net.Listener, error) {
	for attempt := 1; ; attempt++ {
		addr := net.JoinHostPort(w.cfg.Host, strconv.Itoa(w.Port()))
		ln, err := net.Listen("tcp4", addr)
		if err == nil {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.closed {
				_ = ln.Close()
				return nil, ErrClosed
			}
			if w.port == 0 {
				w.port = ln.Addr().(*net.TCPAddr).Port
			}
			w.listener = ln
			w.state = Listening
			return ln, nil
		}

		if w.cfg.BindAttempts > 0 && attempt >= w.cfg.BindAttempts {
			return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrBindExhausted, addr, attempt, err)
		}
		delay := session.NextBackoffDelay(w.cfg.Session.Backoff, attempt, w.rng)
		w.log.Warn().
			Str("addr", addr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("worker.bind failed")
		if err := session.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		if w.isClosed() {
			return nil, ErrClosed
		}
	}
}

// serve handles requests on the current connection until a fault that
// requires a restart. Panics escaping the loop are contained here.
func (w *Worker) serve(ctx context.Context) (fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = newFault(ConnectionError, "serve", fmt.Errorf("panic: %v", r))
		}
	}()

	conn := w.currentConn()
	if conn == nil {
		return newFault(ConnectionError, "serve", ErrClosed)
	}

	buf := make([]byte, protocol.MaxRequestSize)
	for {
		if err := ctx.Err(); err != nil {
			return newFault(ConnectionError, "serve", err)
		}
		if rt := w.cfg.Session.ReadTimeout; rt > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(rt))
		}
		n, err := conn.Read(buf)
		if err != nil {
			return newFault(ConnectionError, "read", err)
		}

		req, err := protocol.ParseRequest(buf[:n])
		if err != nil {
			return newFault(ProtocolParseError, "parse", err)
		}
		if err := w.handleRequest(conn, req); err != nil {
			return newFault(ConnectionError, "write", err)
		}
	}
}

// restart tears down both sockets; the caller re-enters start on the same port.
func (w *Worker) restart(err error) {
	w.noteFault(err)
	w.teardown()

	w.mu.Lock()
	w.restarts++
	w.mu.Unlock()
	observability.RecordRestart(w.Port())
}

// Close stops the worker permanently. It is idempotent and safe to call
// from any goroutine; blocked accepts and reads return immediately.
func (w *Worker) Close() error {
	w.mu.Lock()
	already := w.closed
	w.closed = true
	w.mu.Unlock()
	if !already {
		w.log.Info().Int("port", w.Port()).Msg("worker.close")
	}
	w.teardown()
	return nil
}

func (w *Worker) teardown() {
	w.mu.Lock()
	ln, conn := w.listener, w.conn
	w.listener, w.conn = nil, nil
	w.state = Unbound
	w.mu.Unlock()

	// Sockets may already be broken; those errors carry no information.
	if conn != nil {
		_ = conn.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
}

// noteFault logs and counts err under its fault kind. Errors that carry no
// kind are connection errors.
func (w *Worker) noteFault(err error) {
	if err == nil {
		return
	}
	kind, ok := KindOf(err)
	if !ok {
		kind = ConnectionError
	}
	observability.RecordFault(w.Port(), kind.String())
	w.log.Warn().
		Int("port", w.Port()).
		Str("kind", kind.String()).
		Str("recovery", kind.Recovery().String()).
		Err(err).
		Msg("worker.fault")
}

func (w *Worker) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || w.isClosed()
}

func (w *Worker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Worker) currentConn() net.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// Port is the configured port, or the assigned one once bound.
func (w *Worker) Port() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Restarts counts teardown-and-rebind cycles so far.
func (w *Worker) Restarts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts
}
