package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/netio"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var (
	// ErrTimeout is returned by WaitForResponse when no response was framed
	// before the deadline. It is an expected outcome, not a fault.
	ErrTimeout   = netio.ErrTimeout
	ErrConnReset = netio.ErrConnReset
	ErrClosed    = errors.New("client: session closed")
)

// Config defines dial and write behavior for a Session.
type Config struct {
	DialTimeout  time.Duration
	DialAttempts int
	WriteTimeout time.Duration
	Backoff      BackoffConfig
	ResolvePeer  bool
	Limits       frame.Limits
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		DialAttempts: 3,
		WriteTimeout: 10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
		ResolvePeer: true,
		Limits:      frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 1
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Limits.MaxPacketSize == 0 {
		c.Limits = d.Limits
	}
	return c
}

// Session is a single client connection. It is not safe for concurrent use.
type Session struct {
	cfg  Config
	conn *netio.Conn
	log  zerolog.Logger

	// claimed counts framed responses already reported by WaitForResponse
	// and not yet taken with Next.
	claimed int
	closed  bool
}

// Dial connects to addr, retrying with backoff up to cfg.DialAttempts.
func Dial(ctx context.Context, addr string, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	log := logging.Component("client")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		d := net.Dialer{Timeout: cfg.DialTimeout}
		raw, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return newSession(ctx, raw, cfg, log), nil
		}
		lastErr = err
		if attempt == cfg.DialAttempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().Err(err).Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("dial %s: %w", addr, lastErr)
}

// NewSession wraps an already connected socket.
func NewSession(raw net.Conn, cfg Config) *Session {
	return newSession(context.Background(), raw, cfg.withDefaults(), logging.Component("client"))
}

func newSession(ctx context.Context, raw net.Conn, cfg Config, log zerolog.Logger) *Session {
	peer := ""
	if raw.RemoteAddr() != nil && cfg.ResolvePeer {
		lctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		peer = netio.PeerName(lctx, raw.RemoteAddr(), true)
		cancel()
	}
	c := netio.New(raw, netio.Options{Limits: cfg.Limits, Logger: log, Peer: peer})
	c.Logger().Debug().Msg("session connected")
	return &Session{cfg: cfg, conn: c, log: log}
}

func (s *Session) Peer() string { return s.conn.Peer }

// Queue encodes cmd onto the outbound queue without sending it.
func (s *Session) Queue(cmd command.Command) error {
	if s.closed {
		return ErrClosed
	}
	pkt, err := command.Encode(cmd)
	if err != nil {
		return err
	}
	return s.conn.Enqueue(pkt)
}

// QueueLine parses a "SUB:verb [argument]" line and queues the command.
func (s *Session) QueueLine(line string) (command.Command, error) {
	cmd, skip, err := ParseLine(line)
	if err != nil {
		return command.Command{}, err
	}
	if skip {
		return command.Command{}, fmt.Errorf("%w: empty command", ErrParseLine)
	}
	return cmd, s.Queue(cmd)
}

// Pending reports the number of queued, unsent commands.
func (s *Session) Pending() int { return s.conn.SendPending() }

// WaitForResponse optionally flushes the outbound queue, then blocks until
// one more response than previously reported is framed, or timeout
// elapses. On success Next returns that response. A peer close that still
// leaves an unreported response is a success; otherwise it returns
// ErrConnReset. Expiry returns ErrTimeout.
func (s *Session) WaitForResponse(timeout time.Duration, flush bool) error {
	if s.closed {
		return ErrClosed
	}
	deadline := time.Now().Add(timeout)
	if flush && s.conn.SendPending() > 0 {
		wdl := deadline
		if wt := time.Now().Add(s.cfg.WriteTimeout); wt.Before(wdl) {
			wdl = wt
		}
		if err := s.conn.SendAll(wdl); err != nil {
			if errors.Is(err, netio.ErrTimeout) {
				return ErrTimeout
			}
			return fmt.Errorf("send: %w", err)
		}
	}

	for {
		_, derr := s.conn.Drain()
		if s.conn.RecvPending() > s.claimed {
			s.claimed++
			return nil
		}
		if derr != nil {
			return derr
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		if _, err := s.conn.Fill(deadline); err != nil && !errors.Is(err, netio.ErrTimeout) {
			return fmt.Errorf("receive: %w", err)
		}
	}
}

// Next dequeues and decodes the oldest framed response. ok is false when
// nothing is queued.
func (s *Session) Next() (cmd command.Command, ok bool, err error) {
	pkt, ok := s.conn.Dequeue()
	if !ok {
		return command.Command{}, false, nil
	}
	if s.claimed > 0 {
		s.claimed--
	}
	cmd, err = command.Decode(pkt)
	return cmd, true, err
}

// Do queues cmd, waits for its response and decodes it.
func (s *Session) Do(cmd command.Command, timeout time.Duration) (command.Command, error) {
	if err := s.Queue(cmd); err != nil {
		return command.Command{}, err
	}
	if err := s.WaitForResponse(timeout, true); err != nil {
		return command.Command{}, err
	}
	resp, _, err := s.Next()
	return resp, err
}

func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
