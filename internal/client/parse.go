package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/wrtctl/internal/protocol/command"
)

var ErrParseLine = errors.New("client: cannot parse command line")

var verbs = map[string]map[string]uint16{
	command.SubsystemDaemon: {
		"ping":     command.DaemonPing,
		"shutdown": command.DaemonShutdown,
		"reboot":   command.DaemonShutdown,
	},
	command.SubsystemUCI: {
		"set":    command.UCISet,
		"get":    command.UCIGet,
		"commit": command.UCICommit,
		"revert": command.UCIRevert,
	},
	command.SubsystemSys: {
		"initd": command.SysInitd,
	},
}

// ParseLine turns "SUB:verb [argument]" into a command. The verb is a
// name known for SUB or a numeric id. skip is true for blank lines and
// '#' comments.
func ParseLine(line string) (cmd command.Command, skip bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return command.Command{}, true, nil
	}

	sub, rest, ok := strings.Cut(trimmed, ":")
	if !ok {
		return command.Command{}, false, fmt.Errorf("%w: missing ':' in %q", ErrParseLine, trimmed)
	}
	sub = strings.ToUpper(strings.TrimSpace(sub))
	if !validSubsystem(sub) {
		return command.Command{}, false, fmt.Errorf("%w: subsystem %q must be 3 letters or digits", ErrParseLine, sub)
	}

	verb, arg, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if verb == "" {
		return command.Command{}, false, fmt.Errorf("%w: missing command for %s", ErrParseLine, sub)
	}
	id, err := resolveVerb(sub, verb)
	if err != nil {
		return command.Command{}, false, err
	}

	arg = strings.TrimLeft(arg, " \t")
	if arg == "" {
		return command.New(id, sub), false, nil
	}
	return command.WithValue(id, sub, arg), false, nil
}

func resolveVerb(sub, verb string) (uint16, error) {
	if id, ok := verbs[sub][strings.ToLower(verb)]; ok {
		return id, nil
	}
	n, err := strconv.ParseUint(verb, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown command %q for %s", ErrParseLine, verb, sub)
	}
	return uint16(n), nil
}

func validSubsystem(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
