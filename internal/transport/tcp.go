package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"
)

// tcpSender implements TCPSender over a dialed *net.TCPConn. There is no
// teacher equivalent (gobfd is UDP-only); the shape follows udpSender below
// and the general connection-lifecycle pattern of netio.UDPSender.
type tcpSender struct {
	conn   *net.TCPConn
	remote netip.AddrPort

	mu     sync.Mutex
	closed bool
}

func newTCPSender(conn *net.TCPConn, remote netip.AddrPort) *tcpSender {
	return &tcpSender{conn: conn, remote: remote}
}

// Send writes buf to the stream. Context cancellation sets the connection's
// write deadline so a blocked send is unblocked rather than leaking.
func (s *tcpSender) Send(ctx context.Context, buf []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", s.remote, ErrSenderClosed)
	}
	s.mu.Unlock()

	dl, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(dl)
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if _, err := s.conn.Write(buf); err != nil {
		return fmt.Errorf("tcp send to %s: %w", s.remote, err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *tcpSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close tcp sender: %w", err)
	}
	return nil
}

// RemoteAddr returns the connection's remote endpoint.
func (s *tcpSender) RemoteAddr() netip.AddrPort {
	return s.remote
}
