package netio

import (
	"errors"
	"net"
	"os"

	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
)

var (
	ErrConnReset = errors.New("netio: connection reset by peer")
	ErrTimeout   = errors.New("netio: timeout")
	ErrClosed    = errors.New("netio: connection closed")
)

// CodeOf maps an error onto the wire status taxonomy.
func CodeOf(err error) command.Code {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case err == nil:
		return command.CodeOK
	case errors.Is(err, ErrConnReset), errors.Is(err, ErrClosed):
		return command.CodeConnReset
	case errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return command.CodeTimeout
	case errors.Is(err, frame.ErrPacketTooLarge), errors.Is(err, frame.ErrPacketTooSmall):
		return command.CodePacketSize
	case errors.Is(err, command.ErrMalformedPayload):
		return command.CodeTPL
	case errors.As(err, &dnsErr):
		return command.CodeNameService
	case errors.As(err, &opErr):
		return command.CodeFD
	default:
		return command.CodeErr
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
