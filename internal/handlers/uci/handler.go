package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/wrtctl/internal/handlers"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

const (
	Name    = "uci-cmds"
	Tag     = command.SubsystemUCI
	Version = 1

	EnvConfDir  = "WRTCTL_UCI_CONFDIR"
	EnvSaveDir  = "WRTCTL_UCI_SAVEDIR"
	EnvNoRevert = "WRTCTL_UCI_NO_REVERT"

	DefaultConfDir = "/etc/config/"
	DefaultSaveDir = "/tmp/.uci/"
)

// Response ids.
const (
	CodeOK uint16 = iota
	CodeMem
	CodeInval
	CodeNotFound
	CodeIO
	CodeParse
	CodeDuplicate
	CodeUnknown
)

type Config struct {
	ConfDir string
	SaveDir string
	// NoRevert keeps staged changes across daemon restarts.
	NoRevert bool
}

func ConfigFromEnv() Config {
	cfg := Config{ConfDir: DefaultConfDir, SaveDir: DefaultSaveDir}
	if d := strings.TrimSpace(os.Getenv(EnvConfDir)); d != "" {
		cfg.ConfDir = d
	}
	if d := strings.TrimSpace(os.Getenv(EnvSaveDir)); d != "" {
		cfg.SaveDir = d
	}
	_, cfg.NoRevert = os.LookupEnv(EnvNoRevert)
	return cfg
}

// Handler serves get/set/commit/revert against a Store.
type Handler struct {
	cfg   Config
	store *Store
	log   zerolog.Logger
}

func New(cfg Config) *Handler {
	return &Handler{cfg: cfg, log: logging.Component(Name)}
}

func (h *Handler) Name() string { return Name }
func (h *Handler) Tag() string  { return Tag }
func (h *Handler) Version() int { return Version }

func (h *Handler) Init() error {
	st, err := Open(h.cfg.ConfDir, h.cfg.SaveDir)
	if err != nil {
		return err
	}
	h.store = st
	return nil
}

// Destroy discards uncommitted changes unless NoRevert is set.
func (h *Handler) Destroy() error {
	if h.store == nil {
		return nil
	}
	var errs []error
	if !h.cfg.NoRevert {
		errs = append(errs, h.store.Revert(Path{}))
	}
	errs = append(errs, h.store.Close())
	h.store = nil
	return errors.Join(errs...)
}

func (h *Handler) Handle(ctx context.Context, cmd command.Command) (frame.Packet, error) {
	if h.store == nil {
		return frame.Packet{}, errors.New("uci: store not initialized")
	}
	var code uint16
	var text string
	switch cmd.ID {
	case command.UCISet:
		code, text = h.set(cmd)
	case command.UCIGet:
		code, text = h.get(cmd)
	case command.UCICommit:
		code, text = h.commit(cmd)
	case command.UCIRevert:
		code, text = h.revert(cmd)
	default:
		code, text = CodeInval, "Unknown command"
	}
	if code != CodeOK {
		h.log.Debug().
			Str("peer", handlers.PeerFrom(ctx)).
			Uint16("code", code).
			Str("detail", text).
			Msg("uci request failed")
	}
	return handlers.Reply(Tag, code, text)
}

func (h *Handler) set(cmd command.Command) (uint16, string) {
	key, value, ok := strings.Cut(cmd.Value, "=")
	if !cmd.HasValue || !ok || key == "" {
		return CodeInval, "uci_cmd_set:  Invalid command line."
	}
	p, err := ParseOption(key)
	if err != nil {
		return codeFor(err), err.Error()
	}
	if err := h.store.Set(p, value); err != nil {
		return codeFor(err), err.Error()
	}
	return CodeOK, fmt.Sprintf("%s=%s", p, value)
}

func (h *Handler) get(cmd command.Command) (uint16, string) {
	if !cmd.HasValue {
		return CodeInval, "uci_cmd_get:  Invalid command line."
	}
	p, err := ParseOption(cmd.Value)
	if err != nil {
		return codeFor(err), err.Error()
	}
	v, err := h.store.Get(p)
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound, fmt.Sprintf("%s not found", p)
	}
	if err != nil {
		return codeFor(err), err.Error()
	}
	return CodeOK, fmt.Sprintf("%s=%s", p, v)
}

func (h *Handler) commit(cmd command.Command) (uint16, string) {
	pkg := ""
	if cmd.HasValue && strings.TrimSpace(cmd.Value) != "" {
		pkg, _, _ = strings.Cut(strings.TrimSpace(cmd.Value), ".")
		if !validName(pkg) {
			return CodeInval, fmt.Sprintf("invalid package %q", pkg)
		}
	}
	if err := h.store.Commit(pkg); err != nil {
		return codeFor(err), err.Error()
	}
	return CodeOK, ""
}

func (h *Handler) revert(cmd command.Command) (uint16, string) {
	var p Path
	if cmd.HasValue && strings.TrimSpace(cmd.Value) != "" {
		var err error
		if p, err = ParsePrefix(cmd.Value); err != nil {
			return codeFor(err), err.Error()
		}
	}
	if err := h.store.Revert(p); err != nil {
		return codeFor(err), err.Error()
	}
	return CodeOK, ""
}

func codeFor(err error) uint16 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidPath):
		return CodeInval
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrParse):
		return CodeParse
	case errors.Is(err, ErrIO):
		return CodeIO
	default:
		return CodeUnknown
	}
}
