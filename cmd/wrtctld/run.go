package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wrtctl/internal/config"
	"github.com/danmuck/wrtctl/internal/handlers/builtin"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/server"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func run(args []string) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	closer := logging.Apply(loggingConfig(cfg))
	defer closer.Close()

	if cfg.Pidfile != "" {
		release, err := acquirePidfile(cfg.Pidfile)
		if err != nil {
			return err
		}
		defer release()
	}

	reg, err := builtin.Build(cfg.Modules, builtin.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Error().Err(err).Msg("handler teardown failed")
		}
	}()

	slice, _ := cfg.WriteSliceDuration()
	srv := server.New(server.Config{
		ListenAddr:     cfg.Addr(),
		MaxConnections: cfg.MaxConnections,
		WriteSlice:     slice,
		ResolvePeers:   cfg.ResolvePeers,
		StatusToken:    cfg.StatusToken,
	}, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := srv.Listen(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Strs("modules", cfg.Modules).
		Bool("foreground", cfg.Foreground).
		Msg("wrtctld started")

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		defer cancel()
		return srv.Serve(runCtx, ln)
	})
	if cfg.StatusAddr != "" {
		g.Go(func() error {
			return srv.ServeStatus(runCtx, cfg.StatusAddr)
		})
	}
	return g.Wait()
}

func loggingConfig(cfg config.Daemon) logging.Config {
	lcfg := logging.DefaultConfig(logging.ProfileRuntime)
	lcfg.App = "wrtctld"
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		lcfg.Level = lvl
	}
	if !cfg.Foreground && cfg.LogFile != "" {
		lcfg.File = logging.FileConfig{
			Path:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		}
	}
	logging.ApplyEnvOverrides(&lcfg)
	return lcfg
}
