package builtin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/wrtctl/internal/handlers"
	"github.com/danmuck/wrtctl/internal/handlers/daemon"
	"github.com/danmuck/wrtctl/internal/handlers/initd"
	"github.com/danmuck/wrtctl/internal/handlers/uci"
	"github.com/danmuck/wrtctl/internal/tools"
)

var ErrUnknownHandler = errors.New("builtin: unknown handler module")

// Options carries per-handler settings; zero values fall back to the
// environment-derived defaults of each handler.
type Options struct {
	Runner tools.CommandRunner
	Daemon *daemon.Config
	UCI    *uci.Config
	Initd  *initd.Config
}

// Names lists the selectable modules and their aliases.
func Names() []string {
	return []string{uci.Name, "uci", initd.Name, "sys"}
}

// Build returns a registry holding the daemon handler followed by each
// named module in order. Duplicates are registered once.
func Build(names []string, opts Options) (*handlers.Registry, error) {
	if opts.Runner == nil {
		opts.Runner = tools.ExecRunner{}
	}
	reg := handlers.NewRegistry()

	dcfg := daemon.ConfigFromEnv()
	if opts.Daemon != nil {
		dcfg = *opts.Daemon
	}
	if err := reg.Register(daemon.New(dcfg, opts.Runner)); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		var h handlers.Handler
		switch name {
		case uci.Name, "uci":
			cfg := uci.ConfigFromEnv()
			if opts.UCI != nil {
				cfg = *opts.UCI
			}
			h = uci.New(cfg)
		case initd.Name, "sys":
			cfg := initd.ConfigFromEnv()
			if opts.Initd != nil {
				cfg = *opts.Initd
			}
			h = initd.New(cfg, opts.Runner)
		default:
			_ = reg.Close()
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, raw)
		}
		if seen[h.Name()] {
			continue
		}
		seen[h.Name()] = true
		if err := reg.Register(h); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

// SplitList parses a comma separated module list.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
