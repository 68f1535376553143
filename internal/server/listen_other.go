//go:build !unix

package server

import "syscall"

func controlReuseAddr(_, _ string, _ syscall.RawConn) error { return nil }

func transientAccept(error) bool { return false }
