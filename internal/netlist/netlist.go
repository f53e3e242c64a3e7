// Package netlist implements the interface-enumeration listing command
// (spec §1's "external collaborator", supplemented per SPEC_FULL.md §12
// from original_source/src/list.rs): it shows which local addresses are
// valid weighted-source-address specifiers.
package netlist

import (
	"fmt"
	"net"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Entry is one listable interface and the usable addresses attached to
// it.
type Entry struct {
	Name      string
	Addresses []net.IP
}

// isLocalAddress mirrors original_source/src/list.rs's is_local_address:
// loopback and link-local addresses are never valid dispatch sources.
func isLocalAddress(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// canBind reports whether a socket can actually be bound to ip, exactly
// as original_source/src/list.rs verifies each candidate before listing
// it (there, by calling its own bind_socket and checking is_ok()).
func canBind(ip net.IP) bool {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: ip})
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// Collect enumerates host network interfaces and returns, for each with
// at least one usable address, its name and sorted (IPv4 before IPv6)
// addresses.
func Collect() ([]Entry, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var entries []Entry
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		var usable []net.IP
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if isLocalAddress(ip) {
				continue
			}
			if !canBind(ip) {
				continue
			}
			usable = append(usable, ip)
		}

		if len(usable) == 0 {
			continue
		}

		sort.Slice(usable, func(i, j int) bool {
			return (usable[i].To4() != nil) && (usable[j].To4() == nil)
		})

		entries = append(entries, Entry{Name: iface.Name, Addresses: usable})
	}

	return entries, nil
}

// Print renders entries as an aligned, colorized table to stdout, bolding
// interface names the way original_source/src/list.rs used owo-colors.
func Print(entries []Entry) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	bold := color.New(color.Bold)

	for _, e := range entries {
		for i, ip := range e.Addresses {
			name := ""
			if i == 0 {
				name = bold.Sprint(e.Name)
			}
			fmt.Fprintf(tw, "%s\t%s\n", name, ip.String())
		}
	}

	tw.Flush()
}
