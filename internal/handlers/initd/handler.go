package initd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/danmuck/wrtctl/internal/handlers"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/danmuck/wrtctl/internal/tools"
	"github.com/rs/zerolog"
)

const (
	Name    = "sys-cmds"
	Tag     = command.SubsystemSys
	Version = 1

	EnvInitdDir     = "WRTCTL_SYS_INITD_DIR"
	DefaultInitdDir = "/etc/init.d/"
)

// Response ids follow errno values.
const (
	CodeEPERM     = uint16(syscall.EPERM)
	CodeEINVAL    = uint16(syscall.EINVAL)
	CodeECANCELED = uint16(syscall.ECANCELED)
)

var validActions = map[string]bool{"start": true, "stop": true, "restart": true}

type Config struct {
	InitdDir string
}

func ConfigFromEnv() Config {
	cfg := Config{InitdDir: DefaultInitdDir}
	if d := strings.TrimSpace(os.Getenv(EnvInitdDir)); d != "" {
		cfg.InitdDir = d
	}
	return cfg
}

// Handler runs init scripts as "<initd_dir>/<daemon> <action>".
type Handler struct {
	cfg    Config
	runner tools.CommandRunner
	log    zerolog.Logger
}

func New(cfg Config, runner tools.CommandRunner) *Handler {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Handler{cfg: cfg, runner: runner, log: logging.Component(Name)}
}

func (h *Handler) Name() string   { return Name }
func (h *Handler) Tag() string    { return Tag }
func (h *Handler) Version() int   { return Version }
func (h *Handler) Destroy() error { return nil }

func (h *Handler) Init() error {
	if strings.TrimSpace(h.cfg.InitdDir) == "" {
		h.cfg.InitdDir = DefaultInitdDir
	}
	return nil
}

func (h *Handler) Handle(ctx context.Context, cmd command.Command) (frame.Packet, error) {
	var code uint16
	var text string
	switch cmd.ID {
	case command.SysInitd:
		code, text = h.initd(ctx, cmd)
	default:
		code, text = uint16(command.CodeInval), "Unknown command"
	}
	if code != command.StatusOK {
		h.log.Error().
			Str("peer", handlers.PeerFrom(ctx)).
			Uint16("code", code).
			Str("detail", strings.TrimSpace(text)).
			Msg("sys-cmds request failed")
	}
	return handlers.Reply(Tag, code, text)
}

func (h *Handler) initd(ctx context.Context, cmd command.Command) (uint16, string) {
	daemon, action, ok := strings.Cut(cmd.Value, " ")
	if !cmd.HasValue || !ok {
		return CodeEINVAL, "Invalid argument list."
	}
	name := filepath.Base(daemon)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return CodeEINVAL, "Invalid argument list."
	}

	script := filepath.Join(h.cfg.InitdDir, name)
	if err := tools.Executable(script); err != nil {
		return CodeEPERM, fmt.Sprintf("access:  %v", err)
	}
	if !validActions[action] {
		return CodeEINVAL, "Invalid init command."
	}

	res, err := h.runner.Run(ctx, script, action)
	if err != nil || res.ExitCode != 0 {
		h.log.Warn().
			Err(err).
			Str("script", script).
			Str("action", action).
			Int32("exit_code", res.ExitCode).
			Str("stderr", strings.TrimSpace(string(res.Stderr))).
			Msg("init script failed")
		return CodeECANCELED, fmt.Sprintf("%s exited with failure.\n", daemon)
	}
	return command.StatusOK, fmt.Sprintf("%s %s success.\n", daemon, action)
}
