//go:build !linux

package bind

import "syscall"

// controlFor is a no-op on non-Linux platforms, matching the teacher's
// sockopt_other.go: neither SO_REUSEADDR nor device pinning is set here.
func controlFor(ifaceName string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return nil
	}
}
