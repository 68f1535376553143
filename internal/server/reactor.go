package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wrtctl/internal/handlers"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/netio"
	"github.com/danmuck/wrtctl/internal/observability"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

const (
	Version     = "0.1.0"
	DefaultPort = 2450

	readChunk     = 32 * 1024
	eventBacklog  = 64
	lookupTimeout = 500 * time.Millisecond
)

var (
	ErrNoRegistry = errors.New("server: handler registry is nil")
	ErrAccept     = errors.New("server: accept failed")
)

// Config controls the listener and per-turn I/O budgets.
type Config struct {
	ListenAddr     string
	MaxConnections int
	// WriteSlice bounds each socket write during flush; an expired slice
	// leaves the remainder queued for a later turn.
	WriteSlice   time.Duration
	ResolvePeers bool
	Limits       frame.Limits
	// StatusToken, when set, is required as a bearer token on every status
	// route except /health.
	StatusToken string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     fmt.Sprintf(":%d", DefaultPort),
		MaxConnections: 64,
		WriteSlice:     50 * time.Millisecond,
		ResolvePeers:   true,
		Limits:         frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.WriteSlice <= 0 {
		c.WriteSlice = d.WriteSlice
	}
	if c.Limits.MaxPacketSize == 0 {
		c.Limits = d.Limits
	}
	return c
}

// Status is the copy of reactor state published after every turn.
type Status struct {
	Listen      string           `json:"listen"`
	Started     time.Time        `json:"started"`
	Connections []netio.Snapshot `json:"connections"`
	Handlers    []handlers.Info  `json:"handlers"`
	Shutdown    bool             `json:"shutdown"`
}

// Server owns the listener, the live connections and the handler registry.
type Server struct {
	cfg      Config
	registry *handlers.Registry
	log      zerolog.Logger
	started  time.Time

	shutdown atomic.Bool
	wake     chan struct{}

	// reactor-owned
	conns   []*netio.Conn
	live    map[*netio.Conn]struct{}
	events  chan readEvent
	accepts chan acceptEvent
	done    chan struct{}
	wg      sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

type readEvent struct {
	conn *netio.Conn
	data []byte
	err  error
}

type acceptEvent struct {
	raw net.Conn
	err error
}

func New(cfg Config, registry *handlers.Registry) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		registry: registry,
		log:      logging.Component("reactor"),
		started:  time.Now(),
		wake:     make(chan struct{}, 1),
	}
	s.status = Status{Listen: cfg.ListenAddr, Started: s.started}
	if registry != nil {
		s.status.Handlers = registry.List()
	}
	return s
}

func (s *Server) Config() Config { return s.cfg }

// RequestShutdown makes the reactor exit after its current turn and one
// more flush pass. Safe to call from any goroutine.
func (s *Server) RequestShutdown() {
	s.shutdown.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Server) ShutdownRequested() bool { return s.shutdown.Load() }

// Snapshot returns the state published after the last reactor turn.
func (s *Server) Snapshot() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := s.status
	out.Connections = append([]netio.Snapshot(nil), s.status.Connections...)
	out.Handlers = append([]handlers.Info(nil), s.status.Handlers...)
	return out
}

// Listen opens the TCP listener with SO_REUSEADDR set.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return ln, nil
}

// Run listens on the configured address and serves until ctx is cancelled
// or shutdown is requested.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the reactor on ln. It returns nil on a requested shutdown or
// cancelled ctx, and a wrapped ErrAccept when the listener fails. Every
// connection and ln itself are closed before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.registry == nil {
		_ = ln.Close()
		return ErrNoRegistry
	}
	observability.RegisterMetrics()
	s.live = make(map[*netio.Conn]struct{})
	s.events = make(chan readEvent, eventBacklog)
	s.accepts = make(chan acceptEvent)
	s.done = make(chan struct{})

	s.statusMu.Lock()
	s.status.Listen = ln.Addr().String()
	s.statusMu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Int("handlers", s.registry.Len()).Msg("reactor listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)

	err := s.loop(ctx)

	_ = ln.Close()
	close(s.done)
	for _, c := range s.conns {
		s.closeConn(c, "server_exit")
	}
	s.conns = nil
	s.wg.Wait()
	observability.SetActiveConnections(0)
	s.publish()
	s.log.Info().Err(err).Msg("reactor stopped")
	return err
}

func (s *Server) loop(ctx context.Context) error {
	for {
		// select
		var retry <-chan time.Time
		if s.pendingWrites() {
			retry = time.After(s.cfg.WriteSlice)
		}
		var accepted *acceptEvent
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case <-s.wake:
		case <-retry:
		case ev := <-s.accepts:
			accepted = &ev
		case ev := <-s.events:
			s.absorb(ev)
		}
		s.collectEvents()

		// accept
		if accepted != nil {
			if err := s.accept(ctx, *accepted); err != nil {
				return err
			}
		}

		s.drainReceive()
		s.dispatch(ctx)
		s.flush()

		if s.shutdown.Load() {
			s.flush()
			s.reap()
			s.publish()
			s.log.Info().Msg("shutdown requested, leaving reactor")
			return nil
		}
		s.reap()
		s.publish()
	}
}

// collectEvents absorbs every read already waiting on the event channel.
func (s *Server) collectEvents() {
	for {
		select {
		case ev := <-s.events:
			s.absorb(ev)
		default:
			return
		}
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		raw, err := ln.Accept()
		select {
		case s.accepts <- acceptEvent{raw: raw, err: err}:
		case <-s.done:
			if raw != nil {
				_ = raw.Close()
			}
			return
		}
		if err != nil && !transientAccept(err) {
			return
		}
	}
}

func (s *Server) accept(ctx context.Context, ev acceptEvent) error {
	if ev.err != nil {
		if transientAccept(ev.err) {
			observability.RecordAccept("aborted")
			s.log.Warn().Err(ev.err).Msg("accept aborted by peer")
			return nil
		}
		if errors.Is(ev.err, net.ErrClosed) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrAccept, ev.err)
	}

	if len(s.conns) >= s.cfg.MaxConnections {
		observability.RecordAccept("rejected")
		s.log.Warn().
			Str("remote", ev.raw.RemoteAddr().String()).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("connection limit reached, closing new connection")
		_ = ev.raw.Close()
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	peer := netio.PeerName(lctx, ev.raw.RemoteAddr(), s.cfg.ResolvePeers)
	cancel()

	c := netio.New(ev.raw, netio.Options{Limits: s.cfg.Limits, Logger: s.log, Peer: peer})
	s.conns = append(s.conns, c)
	s.live[c] = struct{}{}
	observability.RecordAccept("ok")
	observability.SetActiveConnections(len(s.conns))
	c.Logger().Info().Int("active", len(s.conns)).Msg("client connected")

	s.wg.Add(1)
	go s.readLoop(c)
	return nil
}

// readLoop moves raw bytes from c to the reactor until the socket fails.
func (s *Server) readLoop(c *netio.Conn) {
	defer s.wg.Done()
	buf := make([]byte, readChunk)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.post(readEvent{conn: c, data: chunk}) {
				return
			}
		}
		if err != nil {
			s.post(readEvent{conn: c, err: err})
			return
		}
	}
}

func (s *Server) post(ev readEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) absorb(ev readEvent) {
	if _, ok := s.live[ev.conn]; !ok {
		return
	}
	if len(ev.data) > 0 {
		ev.conn.Absorb(ev.data)
	}
	if ev.err == nil {
		return
	}
	ev.conn.MarkEOF()
	if !errors.Is(ev.err, io.EOF) {
		ev.conn.MarkShutdown(ev.err)
		ev.conn.Logger().Warn().Err(ev.err).Msg("socket read failed")
	}
}

// drainReceive frames every complete packet buffered on each connection.
// A reset or protocol error marks the connection for reaping but keeps the
// packets already framed for dispatch.
func (s *Server) drainReceive() {
	for _, c := range s.conns {
		if c.Buffered() == 0 && !c.EOF() {
			continue
		}
		n, err := c.Drain()
		if err == nil {
			continue
		}
		c.MarkShutdown(err)
		if errors.Is(err, netio.ErrConnReset) {
			c.Logger().Debug().Int("framed", n).Int("queued", c.RecvPending()).Msg("peer closed connection")
			continue
		}
		c.Logger().Warn().Err(err).Int("framed", n).Msg("protocol error, closing connection")
	}
}

func (s *Server) dispatch(ctx context.Context) {
	for _, c := range s.conns {
		for {
			pkt, ok := c.Dequeue()
			if !ok {
				break
			}
			s.handlePacket(ctx, c, pkt)
		}
	}
}

func (s *Server) handlePacket(ctx context.Context, c *netio.Conn, pkt frame.Packet) {
	log := c.Logger()
	observability.RecordPacket("in", pkt.Tag.String())
	cmd, err := command.Decode(pkt)
	if err != nil {
		result := observability.DispatchMalformed
		if errors.Is(err, command.ErrNotCommand) {
			result = observability.DispatchNotCommand
		}
		observability.RecordDispatch("", result, 0)
		log.Warn().Err(err).Str("tag", pkt.Tag.String()).Msg("packet dropped")
		return
	}

	hctx := handlers.WithPeer(handlers.WithLifecycle(ctx, s), c.Peer)
	start := time.Now()
	resp, handled, err := s.registry.Dispatch(hctx, cmd)
	elapsed := time.Since(start)

	switch {
	case !handled:
		observability.RecordDispatch(cmd.Subsystem, observability.DispatchUnhandled, 0)
		log.Warn().Str("cmd", cmd.String()).Msg("no handler for subsystem, command dropped")
		return
	case err != nil:
		observability.RecordDispatch(cmd.Subsystem, observability.DispatchHandlerError, elapsed)
		log.Error().Err(err).Str("cmd", cmd.String()).Msg("handler failed, no response sent")
		return
	}
	observability.RecordDispatch(cmd.Subsystem, observability.DispatchHandled, elapsed)

	if err := c.Enqueue(resp); err != nil {
		log.Error().Err(err).Str("cmd", cmd.String()).Msg("response dropped")
		return
	}
	observability.RecordPacket("out", resp.Tag.String())
	log.Debug().Str("cmd", cmd.String()).Dur("elapsed", elapsed).Msg("command handled")
}

func (s *Server) flush() {
	for _, c := range s.conns {
		if c.SendPending() == 0 {
			continue
		}
		if err := c.Flush(s.cfg.WriteSlice); err != nil {
			c.MarkShutdown(err)
			c.Logger().Warn().Err(err).Msg("write failed, closing connection")
		}
	}
}

func (s *Server) pendingWrites() bool {
	for _, c := range s.conns {
		if c.SendPending() > 0 && !c.ShutdownRequested() {
			return true
		}
	}
	return false
}

func (s *Server) reap() {
	kept := s.conns[:0]
	for _, c := range s.conns {
		if !c.ShutdownRequested() {
			kept = append(kept, c)
			continue
		}
		s.closeConn(c, reapReason(c.LastErr()))
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
	observability.SetActiveConnections(len(s.conns))
}

func (s *Server) closeConn(c *netio.Conn, reason string) {
	delete(s.live, c)
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.Logger().Debug().Err(err).Msg("close failed")
	}
	observability.RecordReap(reason)
	c.Logger().Info().Str("reason", reason).Msg("connection closed")
}

func reapReason(err error) string {
	switch {
	case err == nil:
		return "shutdown"
	case errors.Is(err, netio.ErrConnReset):
		return "reset"
	case errors.Is(err, frame.ErrPacketTooLarge), errors.Is(err, frame.ErrPacketTooSmall):
		return "protocol"
	default:
		return "io"
	}
}

func (s *Server) publish() {
	conns := make([]netio.Snapshot, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c.Snapshot())
	}
	s.statusMu.Lock()
	s.status.Connections = conns
	s.status.Handlers = s.registry.List()
	s.status.Shutdown = s.shutdown.Load()
	s.statusMu.Unlock()
}
