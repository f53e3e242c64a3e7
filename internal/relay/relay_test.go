package relay

import (
	"net"
	"testing"
	"time"
)

func tcpPair(t *testing.T) (a, b net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ch := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		ch <- c
	}()

	a, err = net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	b = <-ch
	return a, b
}

func TestRunCopiesBothDirections(t *testing.T) {
	client, clientSide := tcpPair(t)
	remote, remoteSide := tcpPair(t)
	defer client.Close()
	defer remote.Close()

	done := make(chan error, 1)
	go func() { done <- Run(clientSide, remoteSide) }()

	clientSide.SetDeadline(time.Now().Add(2 * time.Second))
	remoteSide.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write([]byte("hello remote")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 32)
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("read on remote: %v", err)
	}
	if string(buf[:n]) != "hello remote" {
		t.Errorf("remote got %q, want %q", buf[:n], "hello remote")
	}

	if _, err := remote.Write([]byte("hello client")); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("read on client: %v", err)
	}
	if string(buf[:n]) != "hello client" {
		t.Errorf("client got %q, want %q", buf[:n], "hello client")
	}

	client.Close()
	remote.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after both sides closed")
	}
}

func TestRunReturnsOnFirstClose(t *testing.T) {
	client, clientSide := tcpPair(t)
	remote, remoteSide := tcpPair(t)
	defer remote.Close()
	defer remoteSide.Close()

	done := make(chan error, 1)
	go func() { done <- Run(clientSide, remoteSide) }()

	// Closing the client side should make Run return promptly once its
	// read direction hits EOF, without waiting on the remote side.
	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on graceful close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly when one side closed")
	}
}
