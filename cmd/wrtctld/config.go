package main

import (
	"flag"
	"io"

	"github.com/danmuck/wrtctl/internal/config"
	"github.com/danmuck/wrtctl/internal/handlers/builtin"
)

type options struct {
	configPath string
	listen     string
	port       int
	modules    string
	pidfile    string
	foreground bool
	verbose    bool
	statusAddr string

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	def := config.DefaultDaemon()
	var opts options
	fs := flag.NewFlagSet("wrtctld", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to wrtctld.toml")
	fs.StringVar(&opts.listen, "l", def.Listen, "listen address (empty for all interfaces)")
	fs.IntVar(&opts.port, "p", def.Port, "listen port")
	fs.StringVar(&opts.modules, "m", "", "comma separated handler modules (uci-cmds,sys-cmds)")
	fs.StringVar(&opts.pidfile, "P", def.Pidfile, "pidfile path (empty disables)")
	fs.BoolVar(&opts.foreground, "f", def.Foreground, "run in the foreground and log to stderr")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	fs.StringVar(&opts.statusAddr, "status", def.StatusAddr, "status HTTP listen address (empty disables)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func resolveConfig(opts options) (config.Daemon, error) {
	cfg := config.DefaultDaemon()
	if opts.configPath != "" {
		loaded, err := config.LoadDaemon(opts.configPath)
		if err != nil {
			return config.Daemon{}, err
		}
		cfg = loaded
	}

	if opts.set["l"] {
		cfg.Listen = opts.listen
	}
	if opts.set["p"] {
		cfg.Port = opts.port
	}
	if opts.set["m"] {
		cfg.Modules = builtin.SplitList(opts.modules)
	}
	if opts.set["P"] {
		cfg.Pidfile = opts.pidfile
	}
	if opts.set["f"] {
		cfg.Foreground = opts.foreground
	}
	if opts.set["status"] {
		cfg.StatusAddr = opts.statusAddr
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	if err := config.ValidateDaemon(cfg); err != nil {
		return config.Daemon{}, err
	}
	return cfg, nil
}
