package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/danmuck/wrtctl/internal/testutil/testlog"
)

// echoPeer reads n commands from c, then answers each with id 0 and the
// command's value when respond is set. c is closed afterwards when
// closeAfter is set.
func echoPeer(c net.Conn, n int, respond, closeAfter bool) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if closeAfter {
				_ = c.Close()
			}
		}()
		cmds := make([]command.Command, 0, n)
		for i := 0; i < n; i++ {
			pkt, err := frame.ReadPacket(c, frame.DefaultLimits())
			if err != nil {
				done <- err
				return
			}
			cmd, err := command.Decode(pkt)
			if err != nil {
				done <- err
				return
			}
			cmds = append(cmds, cmd)
		}
		if respond {
			for _, cmd := range cmds {
				resp, err := command.Encode(command.Response(command.StatusOK, cmd.Subsystem, cmd.Value))
				if err != nil {
					done <- err
					return
				}
				if err := frame.WritePacket(c, resp); err != nil {
					done <- err
					return
				}
			}
		}
		done <- nil
	}()
	return done
}

func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	s := NewSession(local, Config{ResolvePeer: false})
	t.Cleanup(func() {
		_ = s.Close()
		_ = remote.Close()
	})
	return s, remote
}

// tcpSession connects a session over loopback TCP so peer close is
// observed as EOF, which net.Pipe does not report through deadlines.
func tcpSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	local, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	remote, ok := <-accepted
	if !ok {
		_ = local.Close()
		t.Fatalf("accept failed")
	}
	s := NewSession(local, Config{ResolvePeer: false})
	t.Cleanup(func() {
		_ = s.Close()
		_ = remote.Close()
	})
	return s, remote
}

func TestWaitForResponseAccumulatesInOrder(t *testing.T) {
	testlog.Start(t)
	s, remote := pipeSession(t)
	peer := echoPeer(remote, 2, true, false)

	for _, v := range []string{"first", "second"} {
		if err := s.Queue(command.WithValue(1, "TST", v)); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}
	if err := s.WaitForResponse(2*time.Second, true); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := s.WaitForResponse(2*time.Second, false); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if err := <-peer; err != nil {
		t.Fatalf("peer: %v", err)
	}

	for _, want := range []string{"first", "second"} {
		got, ok, err := s.Next()
		if err != nil || !ok {
			t.Fatalf("next: ok=%v err=%v", ok, err)
		}
		if got.Value != want {
			t.Fatalf("expected %q, got %+v", want, got)
		}
	}
	if _, ok, _ := s.Next(); ok {
		t.Fatalf("expected empty inbound queue")
	}
}

func TestWaitForResponseTimeout(t *testing.T) {
	testlog.Start(t)
	s, remote := pipeSession(t)
	peer := echoPeer(remote, 1, false, false)

	if err := s.Queue(command.New(1, "TST")); err != nil {
		t.Fatalf("queue: %v", err)
	}
	start := time.Now()
	err := s.WaitForResponse(150*time.Millisecond, true)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("wait returned before timeout")
	}
	if err := <-peer; err != nil {
		t.Fatalf("peer: %v", err)
	}
}

func TestWaitForResponseResetKeepsFramedResponse(t *testing.T) {
	testlog.Start(t)
	s, remote := tcpSession(t)
	peer := echoPeer(remote, 1, true, true)

	if err := s.Queue(command.WithValue(1, "TST", "last")); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.WaitForResponse(2*time.Second, true); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := <-peer; err != nil {
		t.Fatalf("peer: %v", err)
	}
	if err := s.WaitForResponse(2*time.Second, true); !errors.Is(err, ErrConnReset) {
		t.Fatalf("expected ErrConnReset once the framed response is claimed, got %v", err)
	}
	got, ok, err := s.Next()
	if err != nil || !ok || got.Value != "last" {
		t.Fatalf("expected queued response after reset, got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestQueueAfterClose(t *testing.T) {
	testlog.Start(t)
	s, _ := pipeSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Queue(command.New(1, "DAE")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.WaitForResponse(time.Millisecond, true); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueueLineRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	s, _ := pipeSession(t)
	if _, err := s.QueueLine("nonsense"); !errors.Is(err, ErrParseLine) {
		t.Fatalf("expected ErrParseLine, got %v", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("malformed line must not be queued")
	}
}
