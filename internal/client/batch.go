package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// MaxLineLen bounds one batch line including its newline.
const MaxLineLen = 1024

var ErrServer = errors.New("client: server reported an error")

// BatchOptions controls RunBatch output.
type BatchOptions struct {
	Timeout time.Duration
	Verbose bool
	Out     io.Writer
	Err     io.Writer
}

// BatchResult summarizes a replay.
type BatchResult struct {
	Lines    int
	Sent     int
	LastCode uint16
}

// RunBatch replays newline separated command lines over s, one request at
// a time, and stops at the first parse failure, timeout, transport error or
// non-zero server status. A line that fails to parse is never sent.
func RunBatch(s *Session, r io.Reader, opts BatchOptions) (BatchResult, error) {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Err == nil {
		opts.Err = io.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	var res BatchResult
	br := bufio.NewReaderSize(r, MaxLineLen)
	for {
		raw, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			res.Lines++
			fmt.Fprintf(opts.Err, "Line %d too long.\n", res.Lines)
			return res, fmt.Errorf("%w: line %d too long", ErrParseLine, res.Lines)
		}
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("read batch: %w", err)
		}
		res.Lines++
		line := strings.TrimRight(string(raw), "\r\n")

		if rerr := runLine(s, line, res.Lines, opts, &res); rerr != nil {
			return res, rerr
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("read batch: %w", err)
		}
	}
}

func runLine(s *Session, line string, n int, opts BatchOptions, res *BatchResult) error {
	cmd, skip, err := ParseLine(line)
	if skip {
		return nil
	}
	if err != nil {
		fmt.Fprintf(opts.Err, "Failed to parse line %d\n", n)
		return fmt.Errorf("line %d: %w", n, err)
	}
	if err := s.Queue(cmd); err != nil {
		fmt.Fprintf(opts.Err, "Failed to queue line %d: %v\n", n, err)
		return fmt.Errorf("line %d: %w", n, err)
	}
	res.Sent++

	if err := s.WaitForResponse(opts.Timeout, true); err != nil {
		switch {
		case errors.Is(err, ErrTimeout):
			fmt.Fprintf(opts.Err, "Timeout while sending command: %s\n", line)
		case errors.Is(err, ErrConnReset):
			fmt.Fprintf(opts.Err, "Connection closed by %s while sending command: %s\n", s.Peer(), line)
		default:
			fmt.Fprintf(opts.Err, "Connection failure while sending command: %s\n", line)
		}
		fmt.Fprintf(opts.Err, "%v\n", err)
		return fmt.Errorf("line %d: %w", n, err)
	}
	resp, ok, err := s.Next()
	if !ok {
		fmt.Fprintf(opts.Err, "No response from %s\n", s.Peer())
		return fmt.Errorf("line %d: %w", n, ErrConnReset)
	}
	if err != nil {
		fmt.Fprintf(opts.Err, "unpack response: %v\n", err)
		return fmt.Errorf("line %d: %w", n, err)
	}

	res.LastCode = resp.ID
	if resp.ID != 0 {
		text := resp.Value
		if !resp.HasValue {
			text = "(null errmsg)"
		}
		fmt.Fprintf(opts.Err, "Server Error:  %d, %s\n", resp.ID, text)
		return fmt.Errorf("line %d: %w: %d %s", n, ErrServer, resp.ID, text)
	}
	if resp.HasValue {
		if opts.Verbose {
			fmt.Fprintf(opts.Out, "%-40s --> ", line)
		}
		fmt.Fprintf(opts.Out, "%s\n", resp.Value)
	}
	return nil
}
