package transport_test

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/someipd/internal/transport"
)

func TestUDPEndpointSendReceiveRoundTrip(t *testing.T) {
	t.Parallel()

	f := transport.NewFactory()

	a, err := f.GetUDPEndpoint(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("GetUDPEndpoint a: %v", err)
	}
	defer a.Close()

	b, err := f.GetUDPEndpoint(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("GetUDPEndpoint b: %v", err)
	}
	defer b.Close()

	payload := []byte("offer service")
	if err := a.SendTo(context.Background(), payload, b.LocalAddr()); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, 64)
	n, src, err := b.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("payload = %q, want %q", buf[:n], payload)
	}
	if src.Addr() != netip.MustParseAddr("127.0.0.1") {
		t.Fatalf("src = %v, want loopback", src)
	}
}

func TestUDPSenderSendsToFixedDestination(t *testing.T) {
	t.Parallel()

	f := transport.NewFactory()

	recv, err := f.GetUDPEndpoint(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("GetUDPEndpoint: %v", err)
	}
	defer recv.Close()

	sender, err := f.GetUDPSender(context.Background(),
		netip.MustParseAddrPort("127.0.0.1:0"), recv.LocalAddr())
	if err != nil {
		t.Fatalf("GetUDPSender: %v", err)
	}
	defer sender.Close()

	if err := sender.Send(context.Background(), []byte("subscribe")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := recv.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "subscribe" {
		t.Fatalf("payload = %q", buf[:n])
	}
}

func TestTCPSenderRoundTrip(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, aerr := ln.Accept()
		if aerr == nil {
			accepted <- conn
		}
	}()

	f := transport.NewFactory()
	remote := ln.Addr().(*net.TCPAddr).AddrPort()

	sender, err := f.GetTCPSender(context.Background(), netip.AddrPort{}, remote)
	if err != nil {
		t.Fatalf("GetTCPSender: %v", err)
	}
	defer sender.Close()

	if sender.RemoteAddr() != remote {
		t.Fatalf("RemoteAddr = %v, want %v", sender.RemoteAddr(), remote)
	}

	if err := sender.Send(context.Background(), []byte("someip-tcp")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted connection")
	}
	defer conn.Close()

	buf := make([]byte, 32)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "someip-tcp" {
		t.Fatalf("payload = %q", buf[:n])
	}
}

func TestMulticastListenerJoinIsIdempotent(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	ml := transport.NewMulticastListener(conn)
	group := netip.MustParseAddr("239.1.2.3")

	lo, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no loopback interface available: %v", err)
	}

	if err := ml.Join(lo, group); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !ml.Joined(group) {
		t.Fatal("Joined() = false after Join")
	}
	// Idempotent: joining again must not error.
	if err := ml.Join(lo, group); err != nil {
		t.Fatalf("second Join: %v", err)
	}

	if err := ml.Leave(lo, group); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if ml.Joined(group) {
		t.Fatal("Joined() = true after Leave")
	}
	// Leave on a non-joined group is a no-op, not an error.
	if err := ml.Leave(lo, group); err != nil {
		t.Fatalf("Leave on non-joined group: %v", err)
	}
}
