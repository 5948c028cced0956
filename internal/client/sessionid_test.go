package client

import (
	"net/netip"
	"testing"
)

func TestSessionIDAllocatorStartsAtOne(t *testing.T) {
	t.Parallel()

	a := NewSessionIDAllocator()
	dst := netip.MustParseAddr("192.0.2.10")

	if got := a.Next(dst); got != 1 {
		t.Fatalf("first session ID = %d, want 1", got)
	}
	if got := a.Next(dst); got != 2 {
		t.Fatalf("second session ID = %d, want 2", got)
	}
}

func TestSessionIDAllocatorWrapsSkippingZero(t *testing.T) {
	t.Parallel()

	a := NewSessionIDAllocator()
	dst := netip.MustParseAddr("192.0.2.10")
	a.next[dst] = 0xFFFF

	if got := a.Next(dst); got != 0xFFFF {
		t.Fatalf("session ID = %#x, want 0xFFFF", got)
	}
	if got := a.Next(dst); got != 1 {
		t.Fatalf("session ID after wrap = %#x, want 1 (0x0000 must never be emitted)", got)
	}
}

func TestSessionIDAllocatorIsPerDestination(t *testing.T) {
	t.Parallel()

	a := NewSessionIDAllocator()
	d1 := netip.MustParseAddr("192.0.2.10")
	d2 := netip.MustParseAddr("192.0.2.20")

	a.Next(d1)
	a.Next(d1)
	if got := a.Next(d2); got != 1 {
		t.Fatalf("second destination's first session ID = %d, want 1", got)
	}
}

func TestSessionIDAllocatorReset(t *testing.T) {
	t.Parallel()

	a := NewSessionIDAllocator()
	dst := netip.MustParseAddr("192.0.2.10")
	a.Next(dst)
	a.Next(dst)

	a.Reset(dst)
	if got := a.Next(dst); got != 1 {
		t.Fatalf("session ID after reset = %d, want 1", got)
	}
}
