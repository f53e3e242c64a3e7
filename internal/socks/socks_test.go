package socks

import (
	"errors"
	"net"
	"testing"
	"time"

	"dispatch-proxy/internal/errs"
)

// fakeDispatcher always returns a fixed local IP.
type fakeDispatcher struct {
	ip  net.IP
	err error
}

func (f *fakeDispatcher) Dispatch(remote net.Addr) (net.IP, error) {
	return f.ip, f.err
}

// pair returns two connected in-memory TCP endpoints so handshake code can
// run against a real net.Conn (io.ReadFull/SetDeadline semantics) without a
// real listener.
func pair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()

	client, err = net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r := <-ch
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}
	return client, r.conn
}

// TestHttpDetectionGET is scenario S6 / boundary behavior 10.
func TestHttpDetectionGET(t *testing.T) {
	client, server := pair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))

	h := New(server, &fakeDispatcher{}, nil)
	_, err := h.Run()

	var domainErr *errs.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *errs.Error, got %T (%v)", err, err)
	}
	if domainErr.Kind != errs.KindHttpClientOnSocksListener {
		t.Errorf("Kind = %v, want %v", domainErr.Kind, errs.KindHttpClientOnSocksListener)
	}
	if !contains(domainErr.Message, "GET / HTTP/1.1") {
		t.Errorf("message %q does not contain the first request line", domainErr.Message)
	}
}

// TestInvalidVersionNotHttp is boundary behavior 11.
func TestInvalidVersionNotHttp(t *testing.T) {
	client, server := pair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{'Z'})

	h := New(server, &fakeDispatcher{}, nil)
	_, err := h.Run()

	var domainErr *errs.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *errs.Error, got %T (%v)", err, err)
	}
	if domainErr.Kind != errs.KindInvalidSocksVersion {
		t.Errorf("Kind = %v, want %v", domainErr.Kind, errs.KindInvalidSocksVersion)
	}
}

// TestV5BindCommandRejected is scenario S4.
func TestV5BindCommandRejected(t *testing.T) {
	client, server := pair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		client.Write([]byte{0x05, 0x02, 0x00, 0x01, 1, 1, 1, 1, 0x00, 0x50})
	}()

	h := New(server, &fakeDispatcher{ip: net.ParseIP("10.0.0.1")}, nil)
	_, err := h.Run()

	var domainErr *errs.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *errs.Error, got %T (%v)", err, err)
	}
	if domainErr.Kind != errs.KindUnsupportedCommand {
		t.Errorf("Kind = %v, want %v", domainErr.Kind, errs.KindUnsupportedCommand)
	}

	reply := make([]byte, 12)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := client.Read(reply)
	got := reply[:n]
	want := []byte{0x05, 0x00, 0x05, 0x07, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if string(got) != string(want) {
		t.Errorf("reply = % x, want % x", got, want)
	}
}

// TestV5AuthRejectedWritesNothing covers spec §4.3 Step 2a's "write
// nothing" requirement when NO AUTH isn't offered.
func TestV5AuthRejectedWritesNothing(t *testing.T) {
	client, server := pair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{0x05, 0x01, 0x02}) // only method 0x02 offered

	h := New(server, &fakeDispatcher{}, nil)
	_, err := h.Run()

	var domainErr *errs.Error
	if !errors.As(err, &domainErr) || domainErr.Kind != errs.KindAuthMethodUnsupported {
		t.Fatalf("expected AuthMethodUnsupported, got %v", err)
	}

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 8)
	n, err := client.Read(buf)
	if n != 0 {
		t.Errorf("expected no bytes written on auth rejection, got % x", buf[:n])
	}
	_ = err
}

func TestReadCString(t *testing.T) {
	client, server := pair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("root\x00"))

	got, err := readCString(server)
	if err != nil {
		t.Fatalf("readCString: %v", err)
	}
	if string(got) != "root" {
		t.Errorf("readCString = %q, want %q", got, "root")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
