package netlist

import (
	"net"
	"testing"
)

func TestIsLocalAddress(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"169.254.1.1", true},
		{"fe80::1", true},
		{"10.0.0.1", false},
		{"8.8.8.8", false},
		{"2001:db8::1", false},
	}

	for _, c := range cases {
		got := isLocalAddress(net.ParseIP(c.ip))
		if got != c.want {
			t.Errorf("isLocalAddress(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestCollectDoesNotError(t *testing.T) {
	if _, err := Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
}
