package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrPidfileHeld = errors.New("pidfile held by a running process")

// acquirePidfile writes the current pid to path unless a live process
// other than this one already owns it. The returned func removes the file.
func acquirePidfile(path string) (func(), error) {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && pid != os.Getpid() && processAlive(pid) {
			return nil, fmt.Errorf("%w: %s (pid %d)", ErrPidfileHeld, path, pid)
		}
		log.Warn().Str("pidfile", path).Msg("replacing stale pidfile")
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read pidfile: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write pidfile: %w", err)
	}
	return func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("pidfile", path).Msg("remove pidfile failed")
		}
	}, nil
}
