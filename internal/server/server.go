// Package server implements the Relay Supervisor (spec §4.4): it accepts
// inbound connections, runs the SOCKS handshake on each in its own
// goroutine, and relays successfully-handshaken connections until either
// direction finishes. A single failure never takes down the accept loop
// or any other connection.
package server

import (
	"errors"
	"fmt"
	"net"

	"dispatch-proxy/internal/addrspec"
	"dispatch-proxy/internal/dispatcher"
	"dispatch-proxy/internal/logging"
	"dispatch-proxy/internal/relay"
	"dispatch-proxy/internal/socks"
)

// Server owns the listener and the shared dispatcher.
type Server struct {
	ln         net.Listener
	dispatcher *dispatcher.Dispatcher
	log        *logging.Logger
}

// New binds a listener on listenAddr and constructs the shared dispatcher
// from sources. A bind failure here is fatal to the caller (spec §6 exit
// codes): the process never enters the accept loop if it can't bind.
func New(listenAddr string, sources []addrspec.WeightedSourceAddress, log *logging.Logger) (*Server, error) {
	d, err := dispatcher.New(sources)
	if err != nil {
		return nil, fmt.Errorf("constructing dispatcher: %w", err)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	return &Server{ln: ln, dispatcher: d, log: log}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops the accept loop; in-flight connection goroutines are left
// to finish on their own (spec §5 cancellation: no graceful drain).
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve runs the accept loop until the listener is closed; any other accept
// error is logged and the loop continues. Every accepted connection is handled in its own
// goroutine; per-connection failures are logged and never propagated here
// (spec §4.4, §7 propagation policy).
func (s *Server) Serve() error {
	s.log.Info("listening", "addr", s.ln.Addr().String())

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(client net.Conn) {
	defer client.Close()

	socks.SetHandshakeDeadline(client)
	hs := socks.New(client, s.dispatcher, s.log)
	remote, err := hs.Run()
	if err != nil {
		s.log.Warn("handshake failed", "remote", client.RemoteAddr().String(), "error", err)
		return
	}
	defer remote.Close()
	socks.ClearDeadline(client)

	// spec §4.4 step 2 has the supervisor re-read the client's peer
	// address after the handshake, treating EINVAL (socket closed
	// concurrently) as graceful termination. Go's net.Conn.RemoteAddr
	// is a pure accessor with no syscall round-trip and so cannot fail
	// this way; the only equivalent failure mode is the address being
	// unset, which would mean the connection was already torn down.
	peerAddr := client.RemoteAddr()
	if peerAddr == nil {
		return
	}

	s.log.Info("connection initiated", "client", peerAddr.String(), "remote", remote.RemoteAddr().String())

	if err := relay.Run(client, remote); err != nil {
		s.log.Warn("relay error", "client", peerAddr.String(), "error", err)
	}

	s.log.Info("connection terminated", "client", peerAddr.String(), "remote", remote.RemoteAddr().String())
}
