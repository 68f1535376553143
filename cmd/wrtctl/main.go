package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/wrtctl/internal/client"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/rs/zerolog"
)

const defaultPort = 2450

var errUsage = errors.New("usage: wrtctl -t target [-p port] (-c \"SUB:verb [arg]\" | -f file|-) [-timeout 10s] [-v]")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wrtctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	target := fs.String("t", "", "target host")
	port := fs.Int("p", defaultPort, "target port")
	file := fs.String("f", "", "command file, - for stdin")
	single := fs.String("c", "", "single command, e.g. \"DAE:ping\"")
	timeout := fs.Duration("timeout", 10*time.Second, "per-command response timeout")
	verbose := fs.Bool("v", false, "echo each command next to its result")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	lcfg := logging.DefaultConfig(logging.ProfileRuntime)
	lcfg.App = "wrtctl"
	lcfg.Level = zerolog.WarnLevel
	if *verbose {
		lcfg.Level = zerolog.DebugLevel
	}
	logging.ApplyEnvOverrides(&lcfg)
	defer logging.Apply(lcfg).Close()

	input, closeInput, err := commandSource(*single, *file, stdin)
	if err != nil || strings.TrimSpace(*target) == "" {
		if err == nil {
			err = errUsage
		}
		fmt.Fprintf(stderr, "wrtctl: %v\n", err)
		return 1
	}
	defer closeInput()

	addr := net.JoinHostPort(*target, strconv.Itoa(*port))
	sess, err := client.Dial(context.Background(), addr, client.DefaultConfig())
	if err != nil {
		fmt.Fprintf(stderr, "wrtctl: %v\n", err)
		return 1
	}
	defer sess.Close()

	_, err = client.RunBatch(sess, input, client.BatchOptions{
		Timeout: *timeout,
		Verbose: *verbose,
		Out:     stdout,
		Err:     stderr,
	})
	if err != nil {
		return 1
	}
	return 0
}

func commandSource(single, file string, stdin io.Reader) (io.Reader, func(), error) {
	switch {
	case single != "" && file != "":
		return nil, nil, errUsage
	case single != "":
		return strings.NewReader(single + "\n"), func() {}, nil
	case file == "-":
		return stdin, func() {}, nil
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return nil, nil, fmt.Errorf("open command file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	default:
		return nil, nil, errUsage
	}
}
