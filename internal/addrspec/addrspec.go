// Package addrspec parses and resolves the weighted source address
// specifiers dispatch-proxy egresses from: either a literal IP address or
// a named network interface, each carrying a positive integer weight.
package addrspec

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// WeightedSourceAddress is a (interface-or-IP, weight) pair as configured
// by the operator, before interface names are resolved to concrete IPs.
type WeightedSourceAddress struct {
	// Literal, if non-nil, is a literal IP address source.
	Literal net.IP
	// InterfaceName, if non-empty, names a host network interface whose
	// attached IPv4/IPv6 addresses are used.
	InterfaceName string
	// Weight is the number of consecutive dispatches served from this
	// source before the dispatcher advances past it.
	Weight int
}

// String renders a WeightedSourceAddress back in "<spec>/<weight>" form.
func (w WeightedSourceAddress) String() string {
	spec := w.InterfaceName
	if w.Literal != nil {
		spec = w.Literal.String()
	}
	return fmt.Sprintf("%s/%d", spec, w.Weight)
}

// Parse parses a single "<spec>[/<weight>]" CLI token into a
// WeightedSourceAddress. <spec> is either a literal IPv4/IPv6 address or a
// network interface name; <weight> defaults to 1 when omitted.
func Parse(token string) (WeightedSourceAddress, error) {
	spec, weightStr, hasWeight := strings.Cut(token, "/")

	weight := 1
	if hasWeight {
		w, err := strconv.Atoi(weightStr)
		if err != nil || w <= 0 {
			return WeightedSourceAddress{}, fmt.Errorf("invalid weight %q in %q: must be a positive integer", weightStr, token)
		}
		weight = w
	}

	if spec == "" {
		return WeightedSourceAddress{}, fmt.Errorf("empty address specifier in %q", token)
	}

	if ip := net.ParseIP(spec); ip != nil {
		return WeightedSourceAddress{Literal: ip, Weight: weight}, nil
	}

	return WeightedSourceAddress{InterfaceName: spec, Weight: weight}, nil
}

// WeightedIP is the internal per-family form the dispatcher consumes: a
// single resolved IP with its weight.
type WeightedIP struct {
	IP     net.IP
	Weight int
}

// isLoopbackOrLinkLocal mirrors original_source/src/list.rs's
// is_local_address: loopback and link-local addresses are never valid
// egress sources.
func isLoopbackOrLinkLocal(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// Resolve expands a WeightedSourceAddress into one WeightedIP per address
// family it provides. A literal source yields exactly one WeightedIP. A
// named interface yields up to two (one IPv4, one IPv6) sharing the same
// weight, per spec: "Each Named Weighted Source Address with both an IPv4
// and an IPv6 expands into two Weighted IPs (same weight)".
func Resolve(w WeightedSourceAddress) ([]WeightedIP, error) {
	if w.Literal != nil {
		if isLoopbackOrLinkLocal(w.Literal) {
			return nil, fmt.Errorf("source address %s: loopback and link-local addresses are not valid egress sources", w.Literal)
		}
		return []WeightedIP{{IP: w.Literal, Weight: w.Weight}}, nil
	}

	iface, err := net.InterfaceByName(w.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", w.InterfaceName, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("list addresses on interface %q: %w", w.InterfaceName, err)
	}

	var v4, v6 net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if isLoopbackOrLinkLocal(ip) {
			continue
		}
		if v4ip := ip.To4(); v4ip != nil {
			if v4 == nil {
				v4 = v4ip
			}
		} else if v6 == nil {
			v6 = ip
		}
	}

	if v4 == nil && v6 == nil {
		return nil, fmt.Errorf("interface %q has no usable (non-loopback, non-link-local) IPv4 or IPv6 address", w.InterfaceName)
	}

	var out []WeightedIP
	if v4 != nil {
		out = append(out, WeightedIP{IP: v4, Weight: w.Weight})
	}
	if v6 != nil {
		out = append(out, WeightedIP{IP: v6, Weight: w.Weight})
	}
	return out, nil
}

// ResolveAll resolves and partitions a list of WeightedSourceAddress into
// per-family WeightedIP lists, preserving input order within each family
// (invariant 1, "Family partitioning").
func ResolveAll(sources []WeightedSourceAddress) (ipv4, ipv6 []WeightedIP, err error) {
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("at least one weighted source address is required")
	}

	for _, src := range sources {
		resolved, rerr := Resolve(src)
		if rerr != nil {
			return nil, nil, rerr
		}
		for _, wip := range resolved {
			if wip.IP.To4() != nil {
				ipv4 = append(ipv4, wip)
			} else {
				ipv6 = append(ipv6, wip)
			}
		}
	}

	return ipv4, ipv6, nil
}
