// Package dispatcher implements the weighted round-robin selection of a
// local source address for each outbound connection, partitioned by
// address family and shared across every accepted connection.
package dispatcher

import (
	"net"
	"sync"

	"dispatch-proxy/internal/addrspec"
	"dispatch-proxy/internal/errs"
)

// Dispatch is the capability contract the SOCKS handshake engine depends
// on: "something that can choose a local IP for a remote address."
// Expressed as an interface (spec §9's "trait-style polymorphism") so
// tests can substitute a deterministic fake.
type Dispatch interface {
	Dispatch(remote net.Addr) (net.IP, error)
}

// familyState holds the ordered weighted IP list for one address family,
// the cursor into it, and how many dispatches have been served from the
// current cursor position.
type familyState struct {
	ips     []addrspec.WeightedIP
	cursor  int
	counter int
}

func (s *familyState) dispatch() (net.IP, error) {
	if len(s.ips) == 0 {
		return nil, errs.ErrAddressFamilyMismatch
	}

	ip := s.ips[s.cursor].IP
	s.counter++
	if s.counter == s.ips[s.cursor].Weight {
		s.counter = 0
		s.cursor = (s.cursor + 1) % len(s.ips)
	}
	return ip, nil
}

// Dispatcher is the shared, mutex-serialized weighted round-robin
// dispatcher (spec §4.2). The zero value is not usable; construct with
// New.
type Dispatcher struct {
	mu   sync.Mutex
	ipv4 familyState
	ipv6 familyState
}

// New validates and constructs a Dispatcher from the operator-supplied
// weighted source addresses. Construction fails if the list is empty, if
// any source is invalid (loopback, or a named interface with no usable
// address), per spec §3/§8 invariant 3.
func New(sources []addrspec.WeightedSourceAddress) (*Dispatcher, error) {
	ipv4, ipv6, err := addrspec.ResolveAll(sources)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		ipv4: familyState{ips: ipv4},
		ipv6: familyState{ips: ipv6},
	}, nil
}

// Dispatch returns the next local IP to egress from for a connection to
// remote, selecting the address family from remote.IP's family. The
// critical section is O(1) and purely in-memory: no I/O is ever performed
// while the lock is held (spec §5).
func (d *Dispatcher) Dispatch(remote net.Addr) (net.IP, error) {
	remoteIP, err := ipFromAddr(remote)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if remoteIP.To4() != nil {
		return d.ipv4.dispatch()
	}
	return d.ipv6.dispatch()
}

func ipFromAddr(addr net.Addr) (net.IP, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, nil
	case *net.UDPAddr:
		return a.IP, nil
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil, err
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, errs.New(errs.KindDispatchFailed, "remote address has no parseable IP: "+addr.String())
		}
		return ip, nil
	}
}
