package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# wrtctld configuration.
# Command line flags override these values.
`

// Template renders the default daemon config as TOML.
func Template() (string, error) {
	cfg := DefaultDaemon()
	cfg.Modules = []string{"uci-cmds", "sys-cmds"}
	cfg.StatusAddr = "127.0.0.1:2451"
	body, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
