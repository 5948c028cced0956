package client

import (
	"net/netip"
	"sync"
)

// SessionIDAllocator generates SD session IDs, one independent sequence per
// destination address, wrapping 0xFFFF back to 0x0001 and never emitting
// 0x0000 (§4.1, §6). Structurally grounded on bfd.DiscriminatorAllocator
// (struct + mutex + per-key map), but sequential rather than random: SD
// session IDs are not a security-relevant identifier, they are a per-peer
// ordering counter the scheduler and this core both rely on. Exported so
// that a scheduler implementation (e.g. internal/reactor.DirectScheduler),
// which owns the SDMessage framing this core never touches, can share the
// same per-destination sequencing discipline.
type SessionIDAllocator struct {
	mu   sync.Mutex
	next map[netip.Addr]uint16
}

// NewSessionIDAllocator returns a ready-to-use SessionIDAllocator.
func NewSessionIDAllocator() *SessionIDAllocator {
	return &SessionIDAllocator{next: make(map[netip.Addr]uint16)}
}

// Next returns the next session ID for dst, advancing that destination's
// sequence.
func (a *SessionIDAllocator) Next(dst netip.Addr) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next[dst]
	if id == 0 {
		id = 1
	}

	next := id + 1
	if next == 0 {
		next = 1
	}
	a.next[dst] = next

	return id
}

// Reset forgets dst's sequence, restarting it at 0x0001 on the next call to
// Next.
func (a *SessionIDAllocator) Reset(dst netip.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.next, dst)
}
