//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}

func isTransient(error) bool {
	return false
}
