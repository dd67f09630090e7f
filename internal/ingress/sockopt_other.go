//go:build !linux

package ingress

import "syscall"

// controlReuseAddr is a no-op off Linux: the SO_REUSEADDR tuning this
// package cares about is a Linux-specific accept-loop-restart
// convenience, not a correctness requirement.
func controlReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
