package command

import "fmt"

// Code is a transport-level status carried in logs and, for the daemon
// subsystem, in response ids.
type Code uint16

const (
	CodeOK Code = iota
	CodeMem
	CodeFD
	CodeInval
	CodeConnReset
	CodePacketSize
	CodeNameService
	CodeTimeout
	CodeTPL
	CodeErr
)

var codeText = [...]string{
	CodeOK:          "Success",
	CodeMem:         "Insufficient memory",
	CodeFD:          "Socket/file descriptor error",
	CodeInval:       "Invalid argument",
	CodeConnReset:   "Connection closed",
	CodePacketSize:  "Invalid packet (length)",
	CodeNameService: "Nameservice failure",
	CodeTimeout:     "Timeout",
	CodeTPL:         "TPL pack/unpack failure",
	CodeErr:         "Generic network stack error.",
}

func (c Code) String() string {
	if int(c) < len(codeText) {
		return codeText[c]
	}
	return fmt.Sprintf("Unknown error code %d", uint16(c))
}
