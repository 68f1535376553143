package netio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const readChunk = 32 * 1024

// Options configures a Conn at construction.
type Options struct {
	Limits frame.Limits
	Logger zerolog.Logger
	// Peer overrides the descriptor derived from the remote address.
	Peer string
}

// outbound is one queued packet plus how much of it has reached the socket.
type outbound struct {
	pkt  frame.Packet
	wire []byte
	off  int
}

// Conn is one socket plus its send and receive queues.
type Conn struct {
	ID   string
	Peer string

	raw    net.Conn
	limits frame.Limits
	log    zerolog.Logger

	sendq []outbound
	recvq []frame.Packet
	inbuf []byte
	eof   bool

	shutdown bool
	lastErr  error
}

func New(raw net.Conn, opts Options) *Conn {
	if opts.Limits.MaxPacketSize == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	peer := opts.Peer
	if peer == "" && raw != nil && raw.RemoteAddr() != nil {
		peer = raw.RemoteAddr().String()
	}
	id := uuid.NewString()
	return &Conn{
		ID:     id,
		Peer:   peer,
		raw:    raw,
		limits: opts.Limits,
		log:    opts.Logger.With().Str("conn", id[:8]).Str("peer", peer).Logger(),
	}
}

// PeerName renders addr as host:port, using a reverse lookup when resolve
// is set and the lookup succeeds before ctx expires.
func PeerName(ctx context.Context, addr net.Addr, resolve bool) string {
	if addr == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if resolve {
		names, err := net.DefaultResolver.LookupAddr(ctx, host)
		if err == nil && len(names) > 0 {
			host = strings.TrimSuffix(names[0], ".")
		}
	}
	return net.JoinHostPort(host, port)
}

func (c *Conn) Logger() *zerolog.Logger { return &c.log }

// MarkShutdown flags the connection for reaping and records why.
func (c *Conn) MarkShutdown(err error) {
	if !c.shutdown {
		c.lastErr = err
	}
	c.shutdown = true
}

func (c *Conn) ShutdownRequested() bool { return c.shutdown }
func (c *Conn) LastErr() error          { return c.lastErr }
func (c *Conn) EOF() bool               { return c.eof }

// Enqueue appends p to the outbound queue. No I/O happens here.
func (c *Conn) Enqueue(p frame.Packet) error {
	wire, err := frame.Encode(p)
	if err != nil {
		return err
	}
	c.sendq = append(c.sendq, outbound{pkt: p, wire: wire})
	return nil
}

func (c *Conn) SendPending() int { return len(c.sendq) }
func (c *Conn) RecvPending() int { return len(c.recvq) }
func (c *Conn) Buffered() int    { return len(c.inbuf) }

// Peek returns the packet at the head of the inbound queue.
func (c *Conn) Peek() (frame.Packet, bool) {
	if len(c.recvq) == 0 {
		return frame.Packet{}, false
	}
	return c.recvq[0], true
}

// Dequeue removes and returns the head of the inbound queue.
func (c *Conn) Dequeue() (frame.Packet, bool) {
	if len(c.recvq) == 0 {
		return frame.Packet{}, false
	}
	p := c.recvq[0]
	c.recvq[0] = frame.Packet{}
	c.recvq = c.recvq[1:]
	return p, true
}

// Read reads raw bytes from the socket. It does not touch queue state and
// may be called from a goroutine other than the owner.
func (c *Conn) Read(p []byte) (int, error) {
	return c.raw.Read(p)
}

// Absorb appends bytes received from the socket to the framing buffer.
func (c *Conn) Absorb(b []byte) {
	c.inbuf = append(c.inbuf, b...)
}

// MarkEOF records that the peer closed its side.
func (c *Conn) MarkEOF() {
	c.eof = true
}

// RecvOne frames at most one packet from the buffered bytes. It reports
// true when a packet was queued, false with a nil error when no complete
// packet is available yet, ErrConnReset when the peer has closed and no
// complete packet remains, or a frame error for an invalid length.
func (c *Conn) RecvOne() (bool, error) {
	if len(c.inbuf) < frame.HeaderLen {
		return false, c.starved()
	}
	h, err := frame.DecodeHeader(c.inbuf)
	if err != nil {
		return false, err
	}
	if err := c.limits.Check(h.Length); err != nil {
		return false, err
	}
	if uint32(len(c.inbuf)) < h.Length {
		return false, c.starved()
	}

	n := int(h.Length)
	payload := make([]byte, n-frame.HeaderLen)
	copy(payload, c.inbuf[frame.HeaderLen:n])
	c.inbuf = c.inbuf[n:]
	if len(c.inbuf) == 0 {
		c.inbuf = nil
	}
	c.recvq = append(c.recvq, frame.Packet{Tag: h.Tag, Payload: payload})
	return true, nil
}

func (c *Conn) starved() error {
	if !c.eof {
		return nil
	}
	if len(c.inbuf) > 0 {
		c.log.Debug().Int("discarded", len(c.inbuf)).Msg("partial packet dropped at reset")
		c.inbuf = nil
	}
	return ErrConnReset
}

// Drain frames every complete buffered packet. It returns how many were
// queued and the error that stopped it, nil when simply out of data.
func (c *Conn) Drain() (int, error) {
	count := 0
	for {
		ok, err := c.RecvOne()
		if ok {
			count++
			continue
		}
		return count, err
	}
}

// Fill performs one socket read bounded by deadline and buffers the bytes.
// A clean close is recorded with MarkEOF and is not returned as an error.
func (c *Conn) Fill(deadline time.Time) (int, error) {
	if c.eof {
		return 0, nil
	}
	if err := c.raw.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	buf := make([]byte, readChunk)
	n, err := c.raw.Read(buf)
	if n > 0 {
		c.Absorb(buf[:n])
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		c.MarkEOF()
		return n, nil
	case isTimeout(err):
		return n, ErrTimeout
	default:
		return n, err
	}
}

// Flush writes queued packets, giving each write at most slice before it is
// treated as would-block. The unsent remainder of a packet stays at the head
// of the queue and resumes from the same byte offset on the next call. A
// non-timeout write error is returned and the queue is left intact.
func (c *Conn) Flush(slice time.Duration) error {
	for len(c.sendq) > 0 {
		head := &c.sendq[0]
		var deadline time.Time
		if slice > 0 {
			deadline = time.Now().Add(slice)
		}
		if err := c.raw.SetWriteDeadline(deadline); err != nil {
			return err
		}
		n, err := c.raw.Write(head.wire[head.off:])
		head.off += n
		if head.off == len(head.wire) {
			c.popSent()
			continue
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			c.log.Debug().Int("sent", head.off).Int("size", len(head.wire)).Msg("partial write, remainder kept")
			return nil
		}
		return err
	}
	return nil
}

// SendAll writes every queued packet, blocking until done or deadline.
func (c *Conn) SendAll(deadline time.Time) error {
	if err := c.raw.SetWriteDeadline(deadline); err != nil {
		return err
	}
	for len(c.sendq) > 0 {
		head := &c.sendq[0]
		n, err := c.raw.Write(head.wire[head.off:])
		head.off += n
		if head.off == len(head.wire) {
			c.popSent()
			continue
		}
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("%w: send stalled at %d/%d bytes", ErrTimeout, head.off, len(head.wire))
			}
			return err
		}
	}
	return nil
}

func (c *Conn) popSent() {
	c.sendq[0] = outbound{}
	c.sendq = c.sendq[1:]
}

// Close releases the socket and drops both queues.
func (c *Conn) Close() error {
	c.sendq = nil
	c.recvq = nil
	c.inbuf = nil
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// Snapshot is a copy of connection state safe to hand to other goroutines.
type Snapshot struct {
	ID       string `json:"id"`
	Peer     string `json:"peer"`
	SendQ    int    `json:"sendq"`
	RecvQ    int    `json:"recvq"`
	Buffered int    `json:"buffered"`
	Shutdown bool   `json:"shutdown"`
}

func (c *Conn) Snapshot() Snapshot {
	return Snapshot{
		ID:       c.ID,
		Peer:     c.Peer,
		SendQ:    len(c.sendq),
		RecvQ:    len(c.recvq),
		Buffered: len(c.inbuf),
		Shutdown: c.shutdown,
	}
}
