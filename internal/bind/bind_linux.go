//go:build linux

package bind

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlFor returns a net.Dialer.Control callback that enables
// SO_REUSEADDR and, when ifaceName is non-empty, pins the socket to that
// device via SO_BINDTODEVICE before connect(2) — the platform equivalent
// of the teacher's sockopt_linux.go, extended to cover device pinning
// (spec §4.1).
func controlFor(ifaceName string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sysErr error
		err := c.Control(func(fd uintptr) {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
				sysErr = e
				return
			}

			if ifaceName != "" {
				if e := unix.BindToDevice(int(fd), ifaceName); e != nil {
					// Device pinning is best-effort: absence of support
					// is not an error per spec §4.1.
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sysErr
	}
}
