package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrSenderClosed is returned by Send/SendTo after Close.
var ErrSenderClosed = errors.New("transport: sender closed")

// udpSender is a UDP socket bound to a fixed local address that sends to a
// single fixed remote destination. Grounded on netio.UDPSender's socket-setup
// pattern (explicit network family, SO_REUSEADDR via golang.org/x/sys/unix),
// minus the BFD-specific TTL=255/GTSM requirement, which SOME/IP does not
// carry.
type udpSender struct {
	conn   *net.UDPConn
	remote netip.AddrPort

	mu     sync.Mutex
	closed bool
}

func newUDPSender(ctx context.Context, local, remote netip.AddrPort) (*udpSender, error) {
	network := "udp4"
	if local.Addr().Is6() && !local.Addr().Is4In6() {
		network = "udp6"
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReuseAddr(c)
		},
	}

	pc, err := lc.ListenPacket(ctx, network, local.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", local, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected connection type %T", local, pc)
	}

	if err := conn.SetWriteBuffer(0); err != nil {
		// Non-fatal: the kernel default is used.
		_ = err
	}

	return &udpSender{conn: conn, remote: remote}, nil
}

func setReuseAddr(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd is always a small positive kernel descriptor.
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// Send writes buf to the sender's fixed remote destination.
func (s *udpSender) Send(_ context.Context, buf []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", s.remote, ErrSenderClosed)
	}
	s.mu.Unlock()

	dst := net.UDPAddrFromAddrPort(s.remote)
	if _, err := s.conn.WriteToUDP(buf, dst); err != nil {
		return fmt.Errorf("udp send to %s: %w", s.remote, err)
	}
	return nil
}

// Close closes the underlying socket.
func (s *udpSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close udp sender: %w", err)
	}
	return nil
}

// udpEndpoint is a bound UDP socket usable for both directions, backing the
// SD receive port (§4.8).
type udpEndpoint struct {
	conn  *net.UDPConn
	local netip.AddrPort

	mu     sync.Mutex
	closed bool
}

func newUDPEndpoint(local netip.AddrPort) (*udpEndpoint, error) {
	network := "udp4"
	if local.Addr().Is6() && !local.Addr().Is4In6() {
		network = "udp6"
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReuseAddr(c)
		},
	}

	pc, err := lc.ListenPacket(context.Background(), network, local.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp endpoint %s: %w", local, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp endpoint %s: unexpected connection type %T", local, pc)
	}

	return &udpEndpoint{conn: conn, local: local}, nil
}

// LocalAddr returns the endpoint's bound local address.
func (e *udpEndpoint) LocalAddr() netip.AddrPort {
	return e.local
}

// SendTo writes buf to dst.
func (e *udpEndpoint) SendTo(_ context.Context, buf []byte, dst netip.AddrPort) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("send to %s: %w", dst, ErrSenderClosed)
	}
	e.mu.Unlock()

	if _, err := e.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("udp endpoint send to %s: %w", dst, err)
	}
	return nil
}

// ReadFrom reads one datagram into buf.
func (e *udpEndpoint) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	n, src, err := e.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return n, src, fmt.Errorf("udp endpoint read: %w", err)
	}
	return n, src, nil
}

// Close closes the underlying socket.
func (e *udpEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("close udp endpoint: %w", err)
	}
	return nil
}
