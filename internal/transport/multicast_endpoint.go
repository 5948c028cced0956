package transport

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// multicastEndpoint implements client.EventMulticastListener: it owns at
// most one joined group at a time, binding its receive socket lazily on the
// first Join (the port is not known until then) and reusing the same
// MulticastListener for any subsequent Join/Leave pair.
type multicastEndpoint struct {
	local netip.Addr

	mu     sync.Mutex
	conn   *net.UDPConn
	ml     *MulticastListener
	ifi    *net.Interface
	group  netip.Addr
	joined bool
}

func newMulticastEndpoint(local netip.Addr) *multicastEndpoint {
	return &multicastEndpoint{local: local}
}

// Join binds (on first call) a UDP socket at local:port and joins group on
// sourceIface, or, if already joined to group, does nothing.
func (e *multicastEndpoint) Join(group netip.Addr, port uint16, sourceIface string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.joined {
		if e.group == group {
			return nil
		}
		return fmt.Errorf("transport: multicast endpoint already joined to %s, cannot join %s", e.group, group)
	}

	var ifi *net.Interface
	if sourceIface != "" {
		var err error
		ifi, err = net.InterfaceByName(sourceIface)
		if err != nil {
			return fmt.Errorf("lookup interface %s: %w", sourceIface, err)
		}
	}

	if e.conn == nil {
		network := "udp4"
		if group.Is6() {
			network = "udp6"
		}
		conn, err := net.ListenUDP(network, &net.UDPAddr{IP: e.local.AsSlice(), Port: int(port)})
		if err != nil {
			return fmt.Errorf("listen multicast %s:%d: %w", e.local, port, err)
		}
		e.conn = conn
		e.ml = NewMulticastListener(conn)
	}

	if err := e.ml.Join(ifi, group); err != nil {
		return err
	}
	e.ifi = ifi
	e.group = group
	e.joined = true
	return nil
}

// Leave drops the currently joined group, if any.
func (e *multicastEndpoint) Leave() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.joined {
		return nil
	}
	if err := e.ml.Leave(e.ifi, e.group); err != nil {
		return err
	}
	e.joined = false
	return nil
}
