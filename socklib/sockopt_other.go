//go:build !unix

package socklib

import "syscall"

func listenControl(network, address string, c syscall.RawConn) error { return nil }

func dialControl(network, address string, c syscall.RawConn) error { return nil }
