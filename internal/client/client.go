package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/dgpool/internal/port"
	"github.com/danmuck/dgpool/internal/protocol"
	"github.com/danmuck/dgpool/internal/session"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("client: closed")

type Config struct {
	Host     string
	BasePort int
	Channels int
	Session  session.Config
}

func DefaultConfig() Config {
	return Config{
		Host:     "127.0.0.1",
		BasePort: 6000,
		Channels: runtime.NumCPU(),
		Session:  session.DefaultConfig(),
	}
}

// Client spreads queries over the channels [BasePort, BasePort+Channels).
// It is safe for concurrent use.
type Client struct {
	cfg      Config
	log      zerolog.Logger
	channels []*channel
	next     atomic.Uint32
	closed   atomic.Bool
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Host == "" {
		cfg.Host = DefaultConfig().Host
	}
	ports, err := port.Range(cfg.BasePort, cfg.Channels)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg: cfg,
		log: logger.With().Str("component", "client").Logger(),
	}
	c.channels = make([]*channel, len(ports))
	for i, p := range ports {
		c.channels[i] = &channel{addr: net.JoinHostPort(cfg.Host, strconv.Itoa(p))}
	}
	return c, nil
}

// DG asks a worker for the free energy of sequence at temperature.
func (c *Client) DG(ctx context.Context, sequence string, temperature float64) (float32, error) {
	payload, err := protocol.EncodeRequest(protocol.Request{Sequence: sequence, Temperature: temperature})
	if err != nil {
		return 0, err
	}
	ch, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.mu.Unlock()

	dg, err := ch.roundTrip(ctx, c.cfg.Session, payload)
	if err != nil {
		c.log.Debug().Err(err).Str("addr", ch.addr).Msg("client.dg channel reset")
		return 0, err
	}
	return dg, nil
}

// acquireBackoff paces full passes over a ring whose channels are all busy.
var acquireBackoff = session.BackoffConfig{
	InitialDelay: 50 * time.Microsecond,
	Multiplier:   2,
	MaxDelay:     5 * time.Millisecond,
}

// acquire returns a locked channel. It walks the ring from a rotating start
// and backs off between full passes.
func (c *Client) acquire(ctx context.Context) (*channel, error) {
	n := len(c.channels)
	start := int(c.next.Add(1)-1) % n
	passes := 0
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		for i := 0; i < n; i++ {
			ch := c.channels[(start+i)%n]
			if ch.mu.TryLock() {
				return ch, nil
			}
		}
		passes++
		if err := session.Sleep(ctx, session.NextBackoffDelay(acquireBackoff, passes, nil)); err != nil {
			return nil, err
		}
	}
}

// Close closes every channel. In-flight queries finish first. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, ch := range c.channels {
		ch.mu.Lock()
		if err := ch.reset(); err != nil {
			errs = append(errs, err)
		}
		ch.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Channels reports how many worker ports the client spreads over.
func (c *Client) Channels() int {
	return len(c.channels)
}

// channel is one connection to one worker port. mu is held for the whole
// round trip.
type channel struct {
	addr string
	mu   sync.Mutex
	conn net.Conn
}

func (ch *channel) roundTrip(ctx context.Context, cfg session.Config, payload []byte) (float32, error) {
	if ch.conn == nil {
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp4", ch.addr)
		if err != nil {
			return 0, fmt.Errorf("client: dial %s: %w", ch.addr, err)
		}
		ch.conn = conn
	}
	conn := ch.conn

	writeBy := time.Now().Add(cfg.WriteTimeout)
	var readBy time.Time
	if cfg.ReadTimeout > 0 {
		readBy = time.Now().Add(cfg.ReadTimeout)
	}
	_ = conn.SetWriteDeadline(writeBy)
	_ = conn.SetReadDeadline(readBy)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		_ = ch.reset()
		return 0, ch.failure(ctx, "write", err)
	}
	buf := make([]byte, protocol.ResponseSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		_ = ch.reset()
		return 0, ch.failure(ctx, "read", err)
	}
	if !stop() {
		// The cancel hook already moved the deadline.
		_ = ch.reset()
	}
	return protocol.DecodeResponse(buf)
}

func (ch *channel) failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("client: %s %s: %w", op, ch.addr, err)
}

func (ch *channel) reset() error {
	if ch.conn == nil {
		return nil
	}
	err := ch.conn.Close()
	ch.conn = nil
	return err
}
