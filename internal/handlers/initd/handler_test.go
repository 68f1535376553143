package initd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/testutil/testlog"
	"github.com/danmuck/wrtctl/internal/tools"
)

func setup(t *testing.T) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	ok := "#!/bin/sh\necho \"$1\" > \"$(dirname \"$0\")/last-action\"\n"
	if err := os.WriteFile(filepath.Join(dir, "dropbear"), []byte(ok), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken"), []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plain"), []byte("not executable"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	h := New(Config{InitdDir: dir}, tools.ExecRunner{})
	if err := h.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return h, dir
}

func run(t *testing.T, h *Handler, cmd command.Command) command.Command {
	t.Helper()
	p, err := h.Handle(context.Background(), cmd)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out, err := command.Decode(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestInitdSuccess(t *testing.T) {
	testlog.Start(t)
	h, dir := setup(t)
	out := run(t, h, command.WithValue(command.SysInitd, Tag, "dropbear restart"))
	if out.ID != command.StatusOK || out.Value != "dropbear restart success.\n" {
		t.Fatalf("unexpected response %+v", out)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "last-action"))
	if err != nil || strings.TrimSpace(string(raw)) != "restart" {
		t.Fatalf("script did not run with action: %q err=%v", raw, err)
	}
}

func TestInitdFailures(t *testing.T) {
	testlog.Start(t)
	h, _ := setup(t)
	cases := []struct {
		name string
		cmd  command.Command
		code uint16
	}{
		{"absent value", command.New(command.SysInitd, Tag), CodeEINVAL},
		{"no action", command.WithValue(command.SysInitd, Tag, "dropbear"), CodeEINVAL},
		{"bad action", command.WithValue(command.SysInitd, Tag, "dropbear reload"), CodeEINVAL},
		{"missing script", command.WithValue(command.SysInitd, Tag, "nosuch start"), CodeEPERM},
		{"not executable", command.WithValue(command.SysInitd, Tag, "plain start"), CodeEPERM},
		{"script fails", command.WithValue(command.SysInitd, Tag, "broken stop"), CodeECANCELED},
		{"unknown id", command.New(9, Tag), uint16(command.CodeInval)},
	}
	for _, tc := range cases {
		out := run(t, h, tc.cmd)
		if out.ID != tc.code {
			t.Fatalf("%s: expected code %d, got %+v", tc.name, tc.code, out)
		}
	}
}

func TestInitdStripsDirectoryComponents(t *testing.T) {
	testlog.Start(t)
	h, _ := setup(t)
	out := run(t, h, command.WithValue(command.SysInitd, Tag, "../../dropbear start"))
	if out.ID != command.StatusOK {
		t.Fatalf("expected basename lookup inside init dir, got %+v", out)
	}
}

func TestConfigFromEnv(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvInitdDir, "/opt/init.d")
	if got := ConfigFromEnv().InitdDir; got != "/opt/init.d" {
		t.Fatalf("unexpected dir %q", got)
	}
}
