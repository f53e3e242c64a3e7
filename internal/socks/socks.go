// Package socks implements the server side of the SOCKS4, SOCKS4A, and
// SOCKS5 CONNECT handshake (spec §4.3): version detection with HTTP
// misconfiguration diagnosis, request parsing, dispatch, bind+connect,
// and the at-most-once reply guarantee.
package socks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"dispatch-proxy/internal/bind"
	"dispatch-proxy/internal/errs"
	"dispatch-proxy/internal/logging"
)

// Wire constants (RFC 1928 for v5, the SOCKS4/4A specification for v4).
const (
	socks5Version = 0x05
	socks4Version = 0x04

	authNone = 0x00

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSuccess              = 0x00
	repGeneralFailure       = 0x01
	repNetworkUnreachable   = 0x03
	repHostUnreachable      = 0x04
	repConnectionRefused    = 0x05
	repTTLExpired           = 0x06
	repCommandNotSupported  = 0x07
	repAddrTypeNotSupported = 0x08

	v4Granted = 0x5A
	v4Failed  = 0x5B
)

// httpMethods are the request-line tokens checked when the first byte of
// a connection isn't 4 or 5, to diagnose a misconfigured HTTP client
// pointed at this SOCKS listener (spec §4.3 Step 1).
var httpMethods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE", "PATCH"}

// httpPrefixBytes are the first bytes of every method in httpMethods.
var httpPrefixBytes = map[byte]bool{
	'G': true, 'H': true, 'P': true, 'D': true, 'C': true, 'O': true, 'T': true,
}

// Dispatcher is the capability contract the handshake engine depends on.
type Dispatcher interface {
	Dispatch(remote net.Addr) (net.IP, error)
}

// Handshake runs the server-side SOCKS state machine for one accepted
// connection. A Handshake is single-use: construct one per connection.
type Handshake struct {
	conn       net.Conn
	dispatcher Dispatcher
	log        *logging.Logger
	replied    bool
}

// New constructs a Handshake for conn, using dispatcher to select the
// outbound local IP.
func New(conn net.Conn, dispatcher Dispatcher, log *logging.Logger) *Handshake {
	return &Handshake{conn: conn, dispatcher: dispatcher, log: log}
}

// Run executes the handshake: AwaitVersion → ... → RepliedOK|RepliedError
// (spec §4.3's state diagram). On success it returns the connected
// outbound net.Conn, ready to be handed to the relay. On failure it
// returns a non-nil error; at most one SOCKS reply will have been written
// to the client (invariant 4).
func (h *Handshake) Run() (net.Conn, error) {
	var verByte [1]byte
	if _, err := io.ReadFull(h.conn, verByte[:]); err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read version byte", err)
	}

	switch verByte[0] {
	case socks5Version:
		return h.runV5()
	case socks4Version:
		return h.runV4()
	default:
		return nil, h.diagnoseNonSocks(verByte[0])
	}
}

// diagnoseNonSocks implements the HTTP-client detection in spec §4.3 Step
// 1: a first byte that could start an HTTP request line gets up to 1024
// more bytes read and checked against known method tokens before falling
// back to a plain InvalidSocksVersion error.
func (h *Handshake) diagnoseNonSocks(first byte) error {
	if !httpPrefixBytes[first] {
		return errs.New(errs.KindInvalidSocksVersion, fmt.Sprintf("invalid SOCKS version byte 0x%02x", first))
	}

	var buf [1025]byte
	buf[0] = first
	n, _ := h.conn.Read(buf[1:])
	content := string(buf[:n+1])

	for _, method := range httpMethods {
		if strings.HasPrefix(content, method) {
			firstLine := content
			if idx := strings.Index(content, "\r\n"); idx != -1 {
				firstLine = content[:idx]
			}
			return errs.New(errs.KindHttpClientOnSocksListener,
				fmt.Sprintf("received %q, which looks like an HTTP request; ensure the client is configured for a SOCKS proxy, not an HTTP proxy", firstLine))
		}
	}

	return errs.New(errs.KindInvalidSocksVersion, fmt.Sprintf("invalid SOCKS version byte 0x%02x", first))
}

// --- SOCKSv5 ---

func (h *Handshake) runV5() (net.Conn, error) {
	if err := h.handleAuthV5(); err != nil {
		return nil, err
	}

	remote, err := h.handleRequestV5()
	if err != nil {
		return nil, err
	}

	localIP, err := h.dispatch(remote)
	if err != nil {
		return nil, err
	}

	return h.connectV5(remote, localIP)
}

func (h *Handshake) handleAuthV5() error {
	var hdr [1]byte
	if _, err := io.ReadFull(h.conn, hdr[:]); err != nil {
		return errs.Wrap(errs.KindProtocolIoError, "failed to read method count", err)
	}
	nmethods := int(hdr[0])

	methods := make([]byte, nmethods)
	if nmethods > 0 {
		if _, err := io.ReadFull(h.conn, methods); err != nil {
			return errs.Wrap(errs.KindProtocolIoError, "failed to read auth methods", err)
		}
	}

	hasNoAuth := false
	for _, m := range methods {
		if m == authNone {
			hasNoAuth = true
			break
		}
	}
	if !hasNoAuth {
		// Per spec §4.3 Step 2a: write nothing on this failure.
		return errs.New(errs.KindAuthMethodUnsupported, "client did not offer NO AUTH; only the NOAUTH scheme is supported").
			WithSuggestion("ensure the client has no proxy credentials configured")
	}

	_, err := h.conn.Write([]byte{socks5Version, authNone})
	if err != nil {
		return errs.Wrap(errs.KindProtocolIoError, "failed to write auth method reply", err)
	}
	return nil
}

func (h *Handshake) handleRequestV5() (net.Addr, error) {
	var reqHdr [4]byte
	if _, err := io.ReadFull(h.conn, reqHdr[:]); err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read request header", err)
	}

	cmd := reqHdr[1]
	atyp := reqHdr[3]

	if cmd != cmdConnect {
		h.writeReplyV5(repCommandNotSupported, nil, 0)
		return nil, errs.New(errs.KindUnsupportedCommand, fmt.Sprintf("unsupported SOCKSv5 command 0x%02x", cmd))
	}

	var host string
	var isDomain bool
	switch atyp {
	case atypIPv4:
		var addr [4]byte
		if _, err := io.ReadFull(h.conn, addr[:]); err != nil {
			return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read IPv4 address", err)
		}
		host = net.IP(addr[:]).String()
	case atypIPv6:
		var addr [16]byte
		if _, err := io.ReadFull(h.conn, addr[:]); err != nil {
			return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read IPv6 address", err)
		}
		host = net.IP(addr[:]).String()
	case atypDomain:
		var lenBuf [1]byte
		if _, err := io.ReadFull(h.conn, lenBuf[:]); err != nil {
			return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read domain length", err)
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(h.conn, domain); err != nil {
			return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read domain", err)
		}
		host = string(domain)
		isDomain = true
	default:
		h.writeReplyV5(repAddrTypeNotSupported, nil, 0)
		return nil, errs.New(errs.KindUnsupportedCommand, fmt.Sprintf("unsupported SOCKSv5 address type 0x%02x", atyp))
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(h.conn, portBuf[:]); err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read port", err)
	}
	port := binary.BigEndian.Uint16(portBuf[:])

	if !isDomain {
		return &net.TCPAddr{IP: net.ParseIP(host), Port: int(port)}, nil
	}

	resolved, err := resolveFirst(host, int(port))
	if err != nil {
		h.writeReplyV5(repHostUnreachable, nil, 0)
		return nil, errs.Wrap(errs.KindHostResolutionFailed, fmt.Sprintf("failed to resolve host %q", host), err)
	}
	return resolved, nil
}

func (h *Handshake) connectV5(remote net.Addr, localIP net.IP) (net.Conn, error) {
	dialer, err := bind.Socket(localIP, "")
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to prepare outbound socket", err)
	}

	conn, err := dialer.Dial("tcp", remote.String())
	if err != nil {
		if classified, ok := bind.ClassifyBindError(localIP, err).(*errs.Error); ok && classified.Kind == errs.KindLocalAddressInaccessible {
			h.writeReplyV5(repGeneralFailure, nil, 0)
			return nil, classified
		}
		h.writeReplyV5(v5StatusForError(err), nil, 0)
		return nil, errs.Wrap(errs.KindRemoteConnectFailed, fmt.Sprintf("failed to connect to %s", remote), err)
	}

	h.writeReplyV5(repSuccess, nil, 0)
	return conn, nil
}

func (h *Handshake) writeReplyV5(status byte, bindIP net.IP, bindPort uint16) {
	if h.replied {
		return
	}
	h.replied = true

	var buf [22]byte
	buf[0] = socks5Version
	buf[1] = status
	buf[2] = 0x00

	n := 4
	if bindIP != nil && bindIP.To4() == nil {
		buf[3] = atypIPv6
		copy(buf[4:20], bindIP.To16())
		n = 20
	} else {
		buf[3] = atypIPv4
		if bindIP != nil {
			copy(buf[4:8], bindIP.To4())
		}
		n = 8
	}
	binary.BigEndian.PutUint16(buf[n:n+2], bindPort)
	n += 2

	h.conn.Write(buf[:n])
}

// v5StatusForError maps an outbound connect() error to a SOCKSv5 status
// byte per the table in spec §4.3 Step 4.
func v5StatusForError(err error) byte {
	switch {
	case errors.Is(err, syscall.ENETUNREACH):
		return repNetworkUnreachable
	case errors.Is(err, syscall.ETIMEDOUT):
		return repTTLExpired
	case errors.Is(err, syscall.ECONNREFUSED):
		return repConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH):
		return repHostUnreachable
	default:
		return repGeneralFailure
	}
}

// --- SOCKSv4 / SOCKSv4A ---

func (h *Handshake) runV4() (net.Conn, error) {
	remote, err := h.handleRequestV4()
	if err != nil {
		return nil, err
	}

	localIP, err := h.dispatch(remote)
	if err != nil {
		return nil, err
	}

	return h.connectV4(remote, localIP)
}

func (h *Handshake) handleRequestV4() (net.Addr, error) {
	var hdr [7]byte // CMD(1) DSTPORT(2) DSTIP(4)
	if _, err := io.ReadFull(h.conn, hdr[:]); err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read v4 request header", err)
	}

	cmd := hdr[0]
	port := binary.BigEndian.Uint16(hdr[1:3])
	dstIP := net.IPv4(hdr[3], hdr[4], hdr[5], hdr[6])

	if _, err := readCString(h.conn); err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read USERID", err)
	}

	isSocks4A := hdr[3] == 0 && hdr[4] == 0 && hdr[5] == 0 && hdr[6] != 0

	if cmd != cmdConnect {
		h.writeReplyV4(v4Failed)
		return nil, errs.New(errs.KindUnsupportedCommand, fmt.Sprintf("unsupported SOCKSv4 command 0x%02x", cmd))
	}

	if !isSocks4A {
		return &net.TCPAddr{IP: dstIP, Port: int(port)}, nil
	}

	domain, err := readCString(h.conn)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to read SOCKS4A domain", err)
	}

	resolved, err := resolveFirst(string(domain), int(port))
	if err != nil {
		h.writeReplyV4(v4Failed)
		return nil, errs.Wrap(errs.KindHostResolutionFailed, fmt.Sprintf("failed to resolve host %q", domain), err)
	}
	return resolved, nil
}

func (h *Handshake) connectV4(remote net.Addr, localIP net.IP) (net.Conn, error) {
	dialer, err := bind.Socket(localIP, "")
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocolIoError, "failed to prepare outbound socket", err)
	}

	conn, err := dialer.Dial("tcp", remote.String())
	if err != nil {
		h.writeReplyV4(v4Failed)
		if classified, ok := bind.ClassifyBindError(localIP, err).(*errs.Error); ok && classified.Kind == errs.KindLocalAddressInaccessible {
			return nil, classified
		}
		return nil, errs.Wrap(errs.KindRemoteConnectFailed, fmt.Sprintf("failed to connect to %s", remote), err)
	}

	h.writeReplyV4(v4Granted)
	return conn, nil
}

func (h *Handshake) writeReplyV4(status byte) {
	if h.replied {
		return
	}
	h.replied = true

	// VER(0x00) CD PORT(2, ignored) IP(4, ignored)
	reply := [8]byte{0x00, status, 0, 0, 0, 0, 0, 0}
	h.conn.Write(reply[:])
}

// --- shared ---

func (h *Handshake) dispatch(remote net.Addr) (net.IP, error) {
	localIP, err := h.dispatcher.Dispatch(remote)
	if err != nil {
		return nil, errs.Wrap(errs.KindDispatchFailed, "dispatch failed", err)
	}
	return localIP, nil
}

func readCString(r io.Reader) ([]byte, error) {
	var out []byte
	var b [1]byte
	for i := 0; i < 256; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] == 0 {
			return out, nil
		}
		out = append(out, b[0])
	}
	return nil, errors.New("unterminated string exceeds 256 bytes")
}

// resolveFirst resolves host and returns the first resulting address,
// paired with port. The resolution order is whatever the platform
// resolver returns; see DESIGN.md's Open Question decisions.
func resolveFirst(host string, port int) (net.Addr, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses found for %q", host)
	}
	return &net.TCPAddr{IP: ips[0].IP, Port: port}, nil
}

// HandshakeDeadline is the conservative default applied to the client
// connection for the duration of the handshake phase only (DESIGN.md
// Open Question decision 1); cleared before the relay phase begins.
const HandshakeDeadline = 15 * time.Second

// SetHandshakeDeadline applies HandshakeDeadline to conn.
func SetHandshakeDeadline(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(HandshakeDeadline))
}

// ClearDeadline removes any deadline from conn, ahead of the relay phase.
func ClearDeadline(conn net.Conn) {
	conn.SetDeadline(time.Time{})
}
