package daemon

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/wrtctl/internal/handlers"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/testutil/testlog"
	"github.com/danmuck/wrtctl/internal/tools"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) (tools.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return tools.Result{}, nil
}

type lifecycle struct{ requested bool }

func (l *lifecycle) RequestShutdown() { l.requested = true }

func decode(t *testing.T, ctx context.Context, h *Handler, cmd command.Command) command.Command {
	t.Helper()
	p, err := h.Handle(ctx, cmd)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out, err := command.Decode(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestPingReturnsTimestamp(t *testing.T) {
	testlog.Start(t)
	h := New(Config{}, &recordingRunner{})
	h.now = func() time.Time { return time.Unix(1700000000, 0) }
	out := decode(t, context.Background(), h, command.New(command.DaemonPing, Tag))
	if out.ID != 0 || out.Subsystem != Tag || out.Value != "1700000000" {
		t.Fatalf("unexpected ping response %+v", out)
	}
	if _, err := strconv.ParseInt(out.Value, 10, 64); err != nil {
		t.Fatalf("value not numeric: %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	testlog.Start(t)
	h := New(Config{}, &recordingRunner{})
	out := decode(t, context.Background(), h, command.New(42, Tag))
	if out.ID != uint16(command.CodeInval) || out.Value != "Unknown command" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestShutdownSchedulesRebootAndRequestsServerStop(t *testing.T) {
	testlog.Start(t)
	runner := &recordingRunner{}
	h := New(Config{ShutdownPath: "/bin/fake-shutdown", RebootDelay: time.Millisecond}, runner)
	h.access = func(string) error { return nil }
	l := &lifecycle{}
	ctx := handlers.WithLifecycle(context.Background(), l)

	out := decode(t, ctx, h, command.New(command.DaemonShutdown, Tag))
	if out.ID != 0 || out.Value != "Rebooting" {
		t.Fatalf("unexpected response %+v", out)
	}
	if !l.requested {
		t.Fatalf("expected server shutdown request")
	}
	_ = decode(t, ctx, h, command.New(command.DaemonShutdown, Tag))

	if err := h.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 {
		t.Fatalf("expected one reboot invocation, got %v", runner.calls)
	}
	got := runner.calls[0]
	if got[0] != "/bin/fake-shutdown" || got[1] != "-r" || got[2] != "now" {
		t.Fatalf("unexpected reboot command %v", got)
	}
}

func TestShutdownRefusedWhenBinaryMissing(t *testing.T) {
	testlog.Start(t)
	runner := &recordingRunner{}
	missing := filepath.Join(t.TempDir(), "shutdown")
	h := New(Config{ShutdownPath: missing, RebootDelay: time.Millisecond}, runner)
	l := &lifecycle{}
	ctx := handlers.WithLifecycle(context.Background(), l)

	out := decode(t, ctx, h, command.New(command.DaemonShutdown, Tag))
	if out.ID != uint16(syscall.ENOENT) {
		t.Fatalf("expected ENOENT status, got %+v", out)
	}
	if out.Value != "access:  "+syscall.ENOENT.Error() {
		t.Fatalf("unexpected text %q", out.Value)
	}
	if l.requested {
		t.Fatalf("server shutdown requested without a usable shutdown binary")
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 0 {
		t.Fatalf("expected no reboot invocation, got %v", runner.calls)
	}
}

func TestShutdownAcceptsExecutableBinary(t *testing.T) {
	testlog.Start(t)
	if runtime.GOOS == "windows" {
		t.Skip("mode bits are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "shutdown")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write shutdown: %v", err)
	}
	runner := &recordingRunner{}
	h := New(Config{ShutdownPath: path, RebootDelay: time.Millisecond}, runner)
	l := &lifecycle{}

	out := decode(t, handlers.WithLifecycle(context.Background(), l), h, command.New(command.DaemonShutdown, Tag))
	if out.ID != 0 || !l.requested {
		t.Fatalf("expected reboot accepted, got %+v requested=%v", out, l.requested)
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvShutdownPath, "/usr/sbin/shutdown")
	cfg := ConfigFromEnv()
	if cfg.ShutdownPath != "/usr/sbin/shutdown" || cfg.RebootDelay != DefaultRebootDelay {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
