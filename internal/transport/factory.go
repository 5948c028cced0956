// Package transport implements internal/client's TransportFactory trait:
// TCP/UDP senders, a UDP receive endpoint, and the multicast event listener
// (§4.8, §6.1, §9 "many template-parameterized ConnectionManager
// variants"). It is the one place in this module that touches real
// sockets.
//
// Senders are grounded on internal/bfd/netio/sender.go's socket-option
// pattern (golang.org/x/sys/unix, explicit network family, SO_REUSEADDR);
// unlike the BFD sender, SOME/IP's TCP transport additionally needs a
// stream sender, which gobfd never required. This package depends on
// internal/client only for the TCPSender/UDPSender/UDPEndpoint/
// TransportFactory interface definitions, never the reverse.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/dantte-lp/someipd/internal/client"
)

// Factory implements client.TransportFactory using real TCP/UDP sockets.
type Factory struct{}

// NewFactory returns a Factory.
func NewFactory() *Factory { return &Factory{} }

// GetTCPSender dials a TCP connection from local to remote.
func (f *Factory) GetTCPSender(ctx context.Context, local, remote netip.AddrPort) (client.TCPSender, error) {
	d := net.Dialer{
		LocalAddr: net.TCPAddrFromAddrPort(local),
	}
	conn, err := d.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s -> %s: %w", local, remote, err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("dial tcp %s -> %s: unexpected connection type %T", local, remote, conn)
	}
	return newTCPSender(tcpConn, remote), nil
}

// GetUDPSender creates a UDP socket bound to local that sends to remote.
func (f *Factory) GetUDPSender(ctx context.Context, local, remote netip.AddrPort) (client.UDPSender, error) {
	return newUDPSender(ctx, local, remote)
}

// GetUDPEndpoint creates a UDP socket bound to local for both send and
// receive, used for the SD unicast/multicast receive port.
func (f *Factory) GetUDPEndpoint(local netip.AddrPort) (client.UDPEndpoint, error) {
	return newUDPEndpoint(local)
}

// GetMulticastListener returns an EventMulticastListener bound to local,
// used by EventgroupManager to join/leave eventgroup multicast groups.
func (f *Factory) GetMulticastListener(local netip.Addr) (client.EventMulticastListener, error) {
	return newMulticastEndpoint(local), nil
}
