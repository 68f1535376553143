package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/wrtctl/internal/handlers"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/danmuck/wrtctl/internal/tools"
	"github.com/rs/zerolog"
)

const (
	// Name is the registry name of the built-in daemon handler.
	Name    = "daemon-cmds"
	Tag     = command.SubsystemDaemon
	Version = 1

	EnvShutdownPath     = "WRTCTL_SYS_SHUTDOWN_PATH"
	DefaultShutdownPath = "/sbin/shutdown"
	DefaultRebootDelay  = 5 * time.Second
)

type Config struct {
	ShutdownPath string
	RebootDelay  time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{ShutdownPath: DefaultShutdownPath, RebootDelay: DefaultRebootDelay}
	if p := strings.TrimSpace(os.Getenv(EnvShutdownPath)); p != "" {
		cfg.ShutdownPath = p
	}
	return cfg
}

// Handler answers liveness pings and schedules host reboots.
type Handler struct {
	cfg    Config
	runner tools.CommandRunner
	now    func() time.Time
	access func(string) error
	log    zerolog.Logger

	mu     sync.Mutex
	reboot chan struct{}
}

func New(cfg Config, runner tools.CommandRunner) *Handler {
	if cfg.ShutdownPath == "" {
		cfg.ShutdownPath = DefaultShutdownPath
	}
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Handler{
		cfg:    cfg,
		runner: runner,
		now:    time.Now,
		access: tools.Executable,
		log:    logging.Component(Name),
	}
}

func (h *Handler) Name() string { return Name }
func (h *Handler) Tag() string  { return Tag }
func (h *Handler) Version() int { return Version }
func (h *Handler) Init() error  { return nil }

// Destroy waits for a scheduled reboot to be launched so process exit
// cannot cancel it.
func (h *Handler) Destroy() error {
	h.mu.Lock()
	done := h.reboot
	h.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

func (h *Handler) Handle(ctx context.Context, cmd command.Command) (frame.Packet, error) {
	switch cmd.ID {
	case command.DaemonPing:
		return handlers.Reply(Tag, command.StatusOK, strconv.FormatInt(h.now().Unix(), 10))
	case command.DaemonShutdown:
		if err := h.access(h.cfg.ShutdownPath); err != nil {
			h.log.Error().
				Err(err).
				Str("peer", handlers.PeerFrom(ctx)).
				Str("path", h.cfg.ShutdownPath).
				Msg("daemon reboot refused")
			return handlers.Reply(Tag, tools.Errno(err, syscall.EACCES), fmt.Sprintf("access:  %v", err))
		}
		h.scheduleReboot(handlers.PeerFrom(ctx))
		if l, ok := handlers.LifecycleFrom(ctx); ok {
			l.RequestShutdown()
		}
		return handlers.Reply(Tag, command.StatusOK, "Rebooting")
	default:
		return handlers.Reply(Tag, uint16(command.CodeInval), "Unknown command")
	}
}

func (h *Handler) scheduleReboot(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reboot != nil {
		h.log.Warn().Str("peer", peer).Msg("daemon reboot already scheduled")
		return
	}
	done := make(chan struct{})
	h.reboot = done
	h.log.Warn().
		Str("peer", peer).
		Dur("delay", h.cfg.RebootDelay).
		Str("path", h.cfg.ShutdownPath).
		Msg("daemon reboot scheduled")

	time.AfterFunc(h.cfg.RebootDelay, func() {
		defer close(done)
		res, err := h.runner.Run(context.Background(), h.cfg.ShutdownPath, "-r", "now")
		if err != nil {
			h.log.Error().
				Err(err).
				Int32("exit_code", res.ExitCode).
				Str("stderr", strings.TrimSpace(string(res.Stderr))).
				Msg("daemon reboot failed")
		}
	})
}
