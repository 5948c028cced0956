package transport

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// MulticastListener joins and leaves SD eventgroup multicast groups on a
// shared UDP socket (§4.8). Join is idempotent; Leave is a no-op when the
// group is not currently joined. Callers are expected to call Join/Leave
// only on 0<->1 refcount transitions, matching the discipline
// EventgroupManager keeps per eventgroup, so the refcounting itself lives
// one layer up in internal/client.
//
// Grounded on internal/bfd/netio/doc.go's choice of golang.org/x/net for
// low-level network primitives, generalized here to ipv4.PacketConn's and
// ipv6.PacketConn's JoinGroup/LeaveGroup, which the standard library's
// net package does not expose directly on a connected UDPConn.
type MulticastListener struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	p4     *ipv4.PacketConn
	p6     *ipv6.PacketConn
	joined map[netip.Addr]struct{}
}

// NewMulticastListener wraps conn, which must already be bound to the SD
// receive port, for multicast group membership management.
func NewMulticastListener(conn *net.UDPConn) *MulticastListener {
	return &MulticastListener{
		conn:   conn,
		p4:     ipv4.NewPacketConn(conn),
		p6:     ipv6.NewPacketConn(conn),
		joined: make(map[netip.Addr]struct{}),
	}
}

// Join adds membership in the multicast group at group on interface ifi. It
// is a no-op if the group is already joined.
func (m *MulticastListener) Join(ifi *net.Interface, group netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.joined[group]; ok {
		return nil
	}

	addr := &net.UDPAddr{IP: group.AsSlice()}
	var err error
	if group.Is4() {
		err = m.p4.JoinGroup(ifi, addr)
	} else {
		err = m.p6.JoinGroup(ifi, addr)
	}
	if err != nil {
		return fmt.Errorf("join multicast group %s: %w", group, err)
	}

	m.joined[group] = struct{}{}
	return nil
}

// Leave drops membership in group. It is a no-op if the group is not
// currently joined.
func (m *MulticastListener) Leave(ifi *net.Interface, group netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.joined[group]; !ok {
		return nil
	}

	addr := &net.UDPAddr{IP: group.AsSlice()}
	var err error
	if group.Is4() {
		err = m.p4.LeaveGroup(ifi, addr)
	} else {
		err = m.p6.LeaveGroup(ifi, addr)
	}
	if err != nil {
		return fmt.Errorf("leave multicast group %s: %w", group, err)
	}

	delete(m.joined, group)
	return nil
}

// Joined reports whether group currently has an active membership.
func (m *MulticastListener) Joined(group netip.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.joined[group]
	return ok
}
