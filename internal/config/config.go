package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wrtctl/internal/logging"
)

var ErrInvalid = errors.New("config: invalid daemon config")

// Daemon is the wrtctld file configuration.
type Daemon struct {
	Listen         string   `toml:"listen"`
	Port           int      `toml:"port"`
	Modules        []string `toml:"modules"`
	Pidfile        string   `toml:"pidfile"`
	Foreground     bool     `toml:"foreground"`
	MaxConnections int      `toml:"max_connections"`
	WriteSlice     string   `toml:"write_slice"`
	ResolvePeers   bool     `toml:"resolve_peers"`
	StatusAddr     string   `toml:"status_addr"`
	StatusToken    string   `toml:"status_token"`
	LogLevel       string   `toml:"log_level"`
	LogFile        string   `toml:"log_file"`
	LogMaxSizeMB   int      `toml:"log_max_size_mb"`
	LogMaxBackups  int      `toml:"log_max_backups"`
}

func DefaultDaemon() Daemon {
	return Daemon{
		Listen:         "",
		Port:           2450,
		Modules:        []string{},
		Pidfile:        "/var/run/wrtctld.pid",
		Foreground:     false,
		MaxConnections: 64,
		WriteSlice:     "50ms",
		ResolvePeers:   true,
		StatusAddr:     "",
		StatusToken:    "",
		LogLevel:       "info",
		LogFile:        "",
		LogMaxSizeMB:   10,
		LogMaxBackups:  3,
	}
}

// LoadDaemon overlays the keys present in path onto DefaultDaemon and
// validates the result.
func LoadDaemon(path string) (Daemon, error) {
	cfg := DefaultDaemon()

	var raw Daemon
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Daemon{}, fmt.Errorf("load wrtctld config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Daemon{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("modules") {
		cfg.Modules = NormalizeList(raw.Modules)
	}
	if meta.IsDefined("pidfile") {
		cfg.Pidfile = strings.TrimSpace(raw.Pidfile)
	}
	if meta.IsDefined("foreground") {
		cfg.Foreground = raw.Foreground
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("write_slice") {
		cfg.WriteSlice = strings.TrimSpace(raw.WriteSlice)
	}
	if meta.IsDefined("resolve_peers") {
		cfg.ResolvePeers = raw.ResolvePeers
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("status_token") {
		cfg.StatusToken = strings.TrimSpace(raw.StatusToken)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("log_max_size_mb") {
		cfg.LogMaxSizeMB = raw.LogMaxSizeMB
	}
	if meta.IsDefined("log_max_backups") {
		cfg.LogMaxBackups = raw.LogMaxBackups
	}

	if err := ValidateDaemon(cfg); err != nil {
		return Daemon{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func ValidateDaemon(cfg Daemon) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, cfg.Port)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("%w: max_connections must be positive", ErrInvalid)
	}
	if _, err := cfg.WriteSliceDuration(); err != nil {
		return err
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, cfg.LogLevel)
	}
	if cfg.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.StatusAddr); err != nil {
			return fmt.Errorf("%w: status_addr: %v", ErrInvalid, err)
		}
	}
	if cfg.LogMaxSizeMB < 0 || cfg.LogMaxBackups < 0 {
		return fmt.Errorf("%w: log rotation limits must not be negative", ErrInvalid)
	}
	return nil
}

// Addr joins listen and port into a dialable listen address.
func (c Daemon) Addr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}

func (c Daemon) WriteSliceDuration() (time.Duration, error) {
	if c.WriteSlice == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.WriteSlice)
	if err != nil {
		return 0, fmt.Errorf("%w: write_slice: %v", ErrInvalid, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: write_slice must not be negative", ErrInvalid)
	}
	return d, nil
}

func NormalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
