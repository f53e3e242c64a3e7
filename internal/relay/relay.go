// Package relay implements the bidirectional full-duplex copy between a
// SOCKS client and its dispatched outbound connection (spec §4.4): two
// unidirectional copies race to completion, the loser is dropped, and
// ECONNRESET is treated as graceful EOF rather than an error.
package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
)

// bufPool pools the 32 KiB buffers used by the copy loop, same size the
// teacher's proxy.go uses, avoiding a per-connection allocation on the
// hot path.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 32*1024)
		return &buf
	},
}

// Run copies bytes bidirectionally between client and remote until either
// direction finishes (spec §4.4 step 3: "first finishes wins"). The
// losing direction's goroutine is left to unwind on its own once both
// sockets are closed by the caller; Run does not wait for it. Returns the
// error of whichever direction finished first, or nil if that direction
// ended in EOF or ECONNRESET; the other direction's error is not reported.
func Run(client, remote net.Conn) error {
	errCh := make(chan error, 2)

	go func() { errCh <- copyDirection(remote, client) }()
	go func() { errCh <- copyDirection(client, remote) }()

	return <-errCh
}

// copyDirection copies from src to dst until EOF or error, then
// half-closes dst's write side and src's read side, mirroring the
// teacher's copyAndClose.
func copyDirection(dst, src net.Conn) error {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	_, err := io.CopyBuffer(dst, src, *bufp)

	if tc, ok := dst.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	if tc, ok := src.(*net.TCPConn); ok {
		tc.CloseRead()
	}

	return classify(err)
}

// classify treats ECONNRESET as graceful EOF (spec §4.4 step 4) and
// passes through any other I/O error unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return nil
	}
	return err
}
