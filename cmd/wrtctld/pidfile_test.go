package main

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/danmuck/wrtctl/internal/testutil/testlog"
)

func TestAcquirePidfileWritesAndRemoves(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "wrtctld.pid")
	release, err := acquirePidfile(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pidfile content %q", data)
	}
	release()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pidfile removed, stat err=%v", err)
	}
}

func TestAcquirePidfileRefusesLiveOwner(t *testing.T) {
	testlog.Start(t)
	if runtime.GOOS == "windows" {
		t.Skip("liveness probe is unix only")
	}
	path := filepath.Join(t.TempDir(), "wrtctld.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	if _, err := acquirePidfile(path); !errors.Is(err, ErrPidfileHeld) {
		t.Fatalf("expected ErrPidfileHeld, got %v", err)
	}
}

func TestAcquirePidfileReplacesStale(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "wrtctld.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	release, err := acquirePidfile(path)
	if err != nil {
		t.Fatalf("acquire over stale pidfile: %v", err)
	}
	release()
}
