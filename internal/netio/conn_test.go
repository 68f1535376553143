package netio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/danmuck/wrtctl/internal/testutil/testlog"
)

func wireFor(t *testing.T, c command.Command) []byte {
	t.Helper()
	p, err := command.Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := frame.Encode(p)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	return b
}

func TestRecvOnePartialDeliveryMatchesWholeDelivery(t *testing.T) {
	testlog.Start(t)
	wire := wireFor(t, command.WithValue(command.UCIGet, "UCI", "network.lan.ipaddr"))

	whole := New(nil, Options{})
	whole.Absorb(wire)
	if ok, err := whole.RecvOne(); !ok || err != nil {
		t.Fatalf("whole delivery: ok=%v err=%v", ok, err)
	}

	split := New(nil, Options{})
	split.Absorb(wire[:frame.HeaderLen])
	if ok, err := split.RecvOne(); ok || err != nil {
		t.Fatalf("header only: expected nothing available, ok=%v err=%v", ok, err)
	}
	split.Absorb(wire[frame.HeaderLen:])
	if ok, err := split.RecvOne(); !ok || err != nil {
		t.Fatalf("body chunk: ok=%v err=%v", ok, err)
	}

	a, _ := whole.Dequeue()
	b, _ := split.Dequeue()
	if a.Tag != b.Tag || !bytes.Equal(a.Payload, b.Payload) {
		t.Fatalf("split delivery differs: %+v vs %+v", a, b)
	}
}

func TestRecvOneByteAtATime(t *testing.T) {
	testlog.Start(t)
	wire := wireFor(t, command.New(command.DaemonPing, "DAE"))
	c := New(nil, Options{})
	for i, b := range wire {
		c.Absorb([]byte{b})
		ok, err := c.RecvOne()
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if ok != (i == len(wire)-1) {
			t.Fatalf("byte %d: unexpected framed=%v", i, ok)
		}
	}
	p, ok := c.Dequeue()
	if !ok {
		t.Fatalf("expected queued packet")
	}
	cmd, err := command.Decode(p)
	if err != nil || cmd.ID != command.DaemonPing {
		t.Fatalf("decoded %+v err=%v", cmd, err)
	}
}

func TestResetAfterTwoCompletePacketsAndPartialThird(t *testing.T) {
	testlog.Start(t)
	first := wireFor(t, command.WithValue(1, "UCI", "a.b.c=1"))
	second := wireFor(t, command.WithValue(2, "UCI", "a.b.c"))
	third := wireFor(t, command.WithValue(3, "UCI", "a"))

	c := New(nil, Options{})
	c.Absorb(first)
	c.Absorb(second)
	c.Absorb(third[:len(third)-3])
	c.MarkEOF()

	n, err := c.Drain()
	if n != 2 {
		t.Fatalf("expected 2 framed packets, got %d", n)
	}
	if !errors.Is(err, ErrConnReset) {
		t.Fatalf("expected ErrConnReset, got %v", err)
	}
	if c.RecvPending() != 2 || c.Buffered() != 0 {
		t.Fatalf("unexpected state recvq=%d buffered=%d", c.RecvPending(), c.Buffered())
	}
	for _, want := range []uint16{1, 2} {
		p, _ := c.Dequeue()
		cmd, err := command.Decode(p)
		if err != nil || cmd.ID != want {
			t.Fatalf("expected id %d, got %+v err=%v", want, cmd, err)
		}
	}
}

func TestResetOverPipe(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	c := New(a, Options{})

	first := wireFor(t, command.New(1, "DAE"))
	second := wireFor(t, command.New(2, "DAE"))
	partial := wireFor(t, command.WithValue(3, "DAE", "tail"))
	go func() {
		_, _ = b.Write(first)
		_, _ = b.Write(second)
		_, _ = b.Write(partial[:6])
		_ = b.Close()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !c.EOF() {
		if _, err := c.Fill(deadline); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	n, err := c.Drain()
	if n != 2 || !errors.Is(err, ErrConnReset) {
		t.Fatalf("expected 2 packets and reset, got n=%d err=%v", n, err)
	}
	_ = c.Close()
}

func TestRecvOneRejectsInvalidLengths(t *testing.T) {
	testlog.Start(t)
	big := New(nil, Options{})
	big.Absorb(frame.EncodeHeader(frame.Header{Length: frame.MaxPacketSize + 1, Tag: frame.TagCommand}))
	if _, err := big.RecvOne(); !errors.Is(err, frame.ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}

	small := New(nil, Options{})
	small.Absorb(frame.EncodeHeader(frame.Header{Length: 4, Tag: frame.TagCommand}))
	if _, err := small.RecvOne(); !errors.Is(err, frame.ErrPacketTooSmall) {
		t.Fatalf("expected ErrPacketTooSmall, got %v", err)
	}
}

func TestFlushKeepsPartialRemainderAcrossCalls(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, Options{})
	defer c.Close()

	p, err := frame.New(frame.TagCommand, bytes.Repeat([]byte("x"), 64*1024))
	if err != nil {
		t.Fatalf("packet: %v", err)
	}
	wire, _ := frame.Encode(p)
	if err := c.Enqueue(p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resume := make(chan struct{})
	got := make(chan []byte, 1)
	go func() {
		head := make([]byte, 1000)
		_, _ = io.ReadFull(b, head)
		<-resume
		rest := make([]byte, len(wire)-len(head))
		_, _ = io.ReadFull(b, rest)
		got <- append(head, rest...)
	}()

	if err := c.Flush(50 * time.Millisecond); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if c.SendPending() != 1 {
		t.Fatalf("expected partially sent packet to stay queued, pending=%d", c.SendPending())
	}

	close(resume)
	if err := c.Flush(2 * time.Second); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if c.SendPending() != 0 {
		t.Fatalf("expected queue drained, pending=%d", c.SendPending())
	}
	if received := <-got; !bytes.Equal(received, wire) {
		t.Fatalf("peer saw %d bytes, want exact %d byte packet", len(received), len(wire))
	}
}

func TestSendAllTimesOutWithoutReader(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, Options{})
	defer c.Close()

	if err := c.Enqueue(frame.Packet{Tag: frame.TagCommand, Payload: []byte("ping")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := c.SendAll(time.Now().Add(30 * time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if c.SendPending() != 1 {
		t.Fatalf("expected packet to remain queued")
	}
}

func TestFillTimeout(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, Options{})
	defer c.Close()
	if _, err := c.Fill(time.Now().Add(20 * time.Millisecond)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestEnqueueRejectsOversizedPacket(t *testing.T) {
	testlog.Start(t)
	c := New(nil, Options{})
	err := c.Enqueue(frame.Packet{Tag: frame.TagCommand, Payload: make([]byte, frame.MaxPayloadLen+1)})
	if !errors.Is(err, frame.ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
	if c.SendPending() != 0 {
		t.Fatalf("oversized packet must not be queued")
	}
}

func TestMarkShutdownKeepsFirstError(t *testing.T) {
	testlog.Start(t)
	c := New(nil, Options{Peer: "router:2450"})
	c.MarkShutdown(ErrConnReset)
	c.MarkShutdown(errors.New("later"))
	if !c.ShutdownRequested() || !errors.Is(c.LastErr(), ErrConnReset) {
		t.Fatalf("unexpected shutdown state: %v %v", c.ShutdownRequested(), c.LastErr())
	}
	snap := c.Snapshot()
	if snap.Peer != "router:2450" || !snap.Shutdown || snap.ID == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPeerNameNumeric(t *testing.T) {
	testlog.Start(t)
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 2450}
	if got := PeerName(context.Background(), addr, false); got != "192.0.2.10:2450" {
		t.Fatalf("unexpected peer name %q", got)
	}
	if got := PeerName(context.Background(), nil, true); got != "" {
		t.Fatalf("expected empty name for nil addr, got %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want command.Code
	}{
		{nil, command.CodeOK},
		{ErrConnReset, command.CodeConnReset},
		{ErrTimeout, command.CodeTimeout},
		{frame.ErrPacketTooLarge, command.CodePacketSize},
		{command.ErrMalformedPayload, command.CodeTPL},
		{&net.DNSError{Err: "no such host", Name: "x"}, command.CodeNameService},
		{&net.OpError{Op: "read", Err: errors.New("boom")}, command.CodeFD},
		{errors.New("other"), command.CodeErr},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}
