//go:build linux

package ingress

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddr sets SO_REUSEADDR on the listening socket before
// bind, grounded on golang.org/x/sys (pulled from SeleniaProject-
// Orizon's go.mod in the retrieval pack), which exposes the setsockopt
// constants net.ListenConfig's portable API does not.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
