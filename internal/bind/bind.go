// Package bind implements the Socket Binder (spec §4.1): it prepares
// outbound TCP dials bound to a given local IP. On Linux the socket also
// gets SO_REUSEADDR and, when an interface name is given, is pinned to
// that device; on other platforms neither option is set.
package bind

import (
	"errors"
	"net"
	"syscall"

	"dispatch-proxy/internal/errs"
)

// Socket returns a net.Dialer whose outbound dials bind to localIP (port
// chosen by the OS). If ifaceName is non-empty, each dialed socket is
// additionally pinned to that device where the platform supports it
// (silently skipped otherwise, per spec §4.1).
func Socket(localIP net.IP, ifaceName string) (*net.Dialer, error) {
	dialer := &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: localIP},
		Control:   controlFor(ifaceName),
	}
	return dialer, nil
}

// ClassifyBindError maps an OS-level bind/listen error to the domain
// error taxonomy (spec §4.1): EADDRNOTAVAIL means the local IP isn't
// assigned to any interface on this host.
func ClassifyBindError(localIP net.IP, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EADDRNOTAVAIL) {
		return errs.Wrap(errs.KindLocalAddressInaccessible,
			"local address "+localIP.String()+" is not accessible",
			err,
		).WithSuggestion("run `dispatch-proxy list` to see which addresses are available")
	}
	return errs.Wrap(errs.KindProtocolIoError, "bind failed", err)
}
