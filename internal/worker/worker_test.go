package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/dgpool/internal/fold"
	"github.com/danmuck/dgpool/internal/protocol"
	"github.com/danmuck/dgpool/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	seq  string
	temp float64
}

// recordingEngine returns fixed segments and remembers every call.
type recordingEngine struct {
	mu    sync.Mutex
	calls []call
	segs  []fold.Segment
	err   error
	boom  bool
}

func (e *recordingEngine) Fold(seq string, temp float64) ([]fold.Segment, error) {
	e.mu.Lock()
	e.calls = append(e.calls, call{seq, temp})
	segs, err, boom := e.segs, e.err, e.boom
	e.mu.Unlock()
	if boom {
		panic("engine exploded")
	}
	return segs, err
}

func (e *recordingEngine) lastCall() call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

func defaultSegments() []fold.Segment {
	return []fold.Segment{
		{Descriptor: "STACK:AT/TA", Energy: -2.0},
		{Descriptor: "HAIRPIN:3", Energy: -1.0},
	}
}

func startWorker(t *testing.T, engine fold.Engine, mutate func(*Config)) (*Worker, <-chan error) {
	t.Helper()
	testlog.Start(t)

	cfg := DefaultConfig(0)
	cfg.Host = "127.0.0.1"
	cfg.Session.Backoff.InitialDelay = 5 * time.Millisecond
	cfg.Session.Backoff.Jitter = false
	if mutate != nil {
		mutate(&cfg)
	}
	w := New(cfg, engine, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("worker did not stop")
		}
	})

	require.Eventually(t, func() bool { return w.State() == Listening }, 2*time.Second, 5*time.Millisecond)
	return w, done
}

func dial(t *testing.T, w *Worker) net.Conn {
	t.Helper()
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(w.Port())))
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, raw string) float32 {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
	buf := make([]byte, protocol.ResponseSize)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	dg, err := protocol.DecodeResponse(buf)
	require.NoError(t, err)
	return dg
}

func TestDefaultTemperatureRequest(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, nil)
	conn := dial(t, w)

	dg := roundTrip(t, conn, "b'ATGC'")
	assert.Equal(t, call{"ATGC", 25.0}, eng.lastCall())
	assert.Equal(t, float32(-2.0), dg)
	assert.Equal(t, Connected, w.State())
}

func TestExplicitTemperatureRequest(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, nil)
	conn := dial(t, w)

	roundTrip(t, conn, "b'ATGC,37.5'")
	assert.Equal(t, call{"ATGC", 37.5}, eng.lastCall())
}

func TestConnectionServesManyRequests(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, nil)
	conn := dial(t, w)

	for i := 0; i < 5; i++ {
		roundTrip(t, conn, "b'GGCC,"+strconv.Itoa(20+i)+"'")
		assert.Equal(t, float64(20+i), eng.lastCall().temp)
	}
	assert.Zero(t, w.Restarts())
}

func TestMalformedRequestRestartsListener(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, nil)
	port := w.Port()
	conn := dial(t, w)

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write([]byte("b''"))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, make([]byte, protocol.ResponseSize))
	require.Error(t, err, "connection should be dropped")

	require.Eventually(t, func() bool { return w.Restarts() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, port, w.Port(), "rebind must reuse the port")

	fresh := dial(t, w)
	assert.Equal(t, float32(-2.0), roundTrip(t, fresh, "b'ATGC'"))
	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Len(t, eng.calls, 1, "garbage never reaches the engine")
}

func TestClientDisconnectRestartsListener(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, nil)

	first := dial(t, w)
	roundTrip(t, first, "b'ATGC'")
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool { return w.Restarts() == 1 }, 2*time.Second, 5*time.Millisecond)
	second := dial(t, w)
	roundTrip(t, second, "b'ATGC'")
}

func TestInfiniteEnergyAnswersSentinel(t *testing.T) {
	eng := &recordingEngine{segs: []fold.Segment{{Descriptor: "HAIRPIN", Energy: math.Inf(1)}}}
	w, _ := startWorker(t, eng, nil)
	conn := dial(t, w)

	assert.Equal(t, protocol.Sentinel, roundTrip(t, conn, "b'ATGC'"))
	// Computation faults keep the connection.
	assert.Equal(t, protocol.Sentinel, roundTrip(t, conn, "b'ATGC'"))
	assert.Zero(t, w.Restarts())
}

func TestEngineErrorAndPanicAnswerSentinel(t *testing.T) {
	eng := &recordingEngine{err: errors.New("no structure")}
	w, _ := startWorker(t, eng, nil)
	conn := dial(t, w)
	assert.Equal(t, protocol.Sentinel, roundTrip(t, conn, "b'ATGC'"))

	eng.mu.Lock()
	eng.err, eng.boom = nil, true
	eng.mu.Unlock()
	assert.Equal(t, protocol.Sentinel, roundTrip(t, conn, "b'ATGC'"))
	assert.Zero(t, w.Restarts())
}

func TestIdleConnectionIsReaped(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, func(c *Config) {
		c.Session.ReadTimeout = 50 * time.Millisecond
	})
	conn := dial(t, w)
	roundTrip(t, conn, "b'ATGC'")

	require.Eventually(t, func() bool { return w.Restarts() >= 1 }, 2*time.Second, 5*time.Millisecond)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestRunStopsOnCloseAndCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig(0)
	cfg.Host = "127.0.0.1"
	w := New(cfg, &recordingEngine{}, log.Logger)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	require.Eventually(t, func() bool { return w.State() == Listening }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, Unbound, w.State())
}

func TestBindExhaustedWhenPortTaken(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig(ln.Addr().(*net.TCPAddr).Port)
	cfg.Host = "127.0.0.1"
	cfg.BindAttempts = 2
	cfg.Session.Backoff.InitialDelay = time.Millisecond
	w := New(cfg, &recordingEngine{}, log.Logger)

	err = w.Run(context.Background())
	assert.ErrorIs(t, err, ErrBindExhausted)
}

func TestComputeWeightsStacks(t *testing.T) {
	testlog.Start(t)
	w := New(DefaultConfig(0), &recordingEngine{segs: []fold.Segment{
		{Descriptor: "STACK:GC/CG", Energy: -3.0},
		{Descriptor: "STACK:CG/GC", Energy: -1.0},
		{Descriptor: "BULGE:1", Energy: 0.5},
	}}, log.Logger)

	dg, fault := w.compute(protocol.Request{Sequence: "GCG", Temperature: 25})
	assert.Nil(t, fault)
	assert.Equal(t, float32(-1.5), dg)
}

func TestComputeFloat32OverflowIsSentinel(t *testing.T) {
	testlog.Start(t)
	w := New(DefaultConfig(0), &recordingEngine{segs: []fold.Segment{{Descriptor: "X", Energy: math.MaxFloat64 / 2}}}, log.Logger)

	dg, fault := w.compute(protocol.Request{Sequence: "A", Temperature: 25})
	require.NotNil(t, fault)
	assert.Equal(t, protocol.Sentinel, dg)
	assert.Equal(t, ComputationError, fault.Kind)
	assert.ErrorIs(t, fault, ErrNonFinite)
}

func TestFaultKindRecovery(t *testing.T) {
	assert.Equal(t, RecoverRestart, ProtocolParseError.Recovery())
	assert.Equal(t, RecoverSentinel, ComputationError.Recovery())
	assert.Equal(t, RecoverRestart, ConnectionError.Recovery())

	err := error(newFault(ProtocolParseError, "parse", protocol.ErrNoSequence))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ProtocolParseError, kind)
	assert.ErrorIs(t, err, protocol.ErrNoSequence)
	assert.True(t, strings.Contains(err.Error(), "protocol fault during parse"))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestNoteFaultLabelsByKind(t *testing.T) {
	var buf bytes.Buffer
	w := New(DefaultConfig(6001), &recordingEngine{}, zerolog.New(&buf))

	w.noteFault(newFault(ProtocolParseError, "parse", protocol.ErrNoSequence))
	w.noteFault(io.EOF)
	w.noteFault(nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	want := []struct{ kind, recovery string }{
		{ProtocolParseError.String(), RecoverRestart.String()},
		{ConnectionError.String(), RecoverRestart.String()},
	}
	for i, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, want[i].kind, entry["kind"])
		assert.Equal(t, want[i].recovery, entry["recovery"])
		assert.EqualValues(t, 6001, entry["port"])
	}
}

func TestWatchControlCancelsOnEOF(t *testing.T) {
	r, wr := io.Pipe()
	ctx, cancel := WatchControl(context.Background(), r)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("cancelled before EOF")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, wr.Close())
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("control EOF did not cancel")
	}
}

func TestSecondClientWaitsWhileFirstIsServed(t *testing.T) {
	eng := &recordingEngine{segs: defaultSegments()}
	w, _ := startWorker(t, eng, nil)

	first := dial(t, w)
	assert.Equal(t, float32(-2.0), roundTrip(t, first, "b'ATGC'"))
	require.Equal(t, Connected, w.State())

	// The kernel completes the second handshake, but the worker never
	// accepts it while the first client is connected.
	second := dial(t, w)
	_, err := second.Write([]byte("b'GGGG'"))
	require.NoError(t, err)
	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = second.Read(make([]byte, protocol.ResponseSize))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "second client must get no response, got %v", err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, float32(-2.0), roundTrip(t, first, "b'ATGC'"))
	}
	eng.mu.Lock()
	for _, c := range eng.calls {
		assert.Equal(t, "ATGC", c.seq, "the waiting client's request must not be handled")
	}
	eng.mu.Unlock()

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return w.Restarts() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The queued connection belonged to the torn-down listener.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = second.Read(make([]byte, protocol.ResponseSize))
	require.Error(t, err)
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "queued connection should be dropped, not left hanging")
	}

	fresh := dial(t, w)
	assert.Equal(t, float32(-2.0), roundTrip(t, fresh, "b'ATGC'"))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	p := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return p
}

func TestRunProcessSurvivesMetricsBindFailure(t *testing.T) {
	testlog.Start(t)
	taken, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := DefaultConfig(freePort(t))
	cfg.Host = "127.0.0.1"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunProcess(ctx, ProcessConfig{
			Worker:      cfg,
			MetricsAddr: taken.Addr().String(),
		}, &recordingEngine{segs: defaultSegments()}, log.Logger)
	}()

	require.Eventually(t, func() bool {
		n, err := promtest.GatherAndCount(prometheus.DefaultGatherer, "dgpool_worker_metrics_serve_errors_total")
		return err == nil && n > 0
	}, 2*time.Second, 5*time.Millisecond)

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 5*time.Millisecond)
	defer conn.Close()
	assert.Equal(t, float32(-2.0), roundTrip(t, conn, "b'ATGC,30'"))

	select {
	case err := <-done:
		t.Fatalf("worker process exited early: %v", err)
	default:
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunProcess did not return after cancel")
	}
}
