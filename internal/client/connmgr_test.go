package client

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/someipd/internal/domain"
)

func TestConnectionManagerAggregateRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		wantTCP        bool
		wantUDP        bool
		tcpState       domain.ConnectionState
		udpState       domain.ConnectionState
		wantAggregate  domain.ConnectionState
	}{
		{name: "neither wanted is always connected", wantTCP: false, wantUDP: false, wantAggregate: domain.Connected},
		{name: "tcp only connecting", wantTCP: true, wantUDP: false, tcpState: domain.Connecting, wantAggregate: domain.Connecting},
		{name: "tcp only connected", wantTCP: true, wantUDP: false, tcpState: domain.Connected, wantAggregate: domain.Connected},
		{name: "tcp only disconnected", wantTCP: true, wantUDP: false, tcpState: domain.Disconnected, wantAggregate: domain.Disconnected},
		{name: "udp only connected", wantTCP: false, wantUDP: true, udpState: domain.Connected, wantAggregate: domain.Connected},
		{name: "both connected is connected", wantTCP: true, wantUDP: true, tcpState: domain.Connected, udpState: domain.Connected, wantAggregate: domain.Connected},
		{name: "both connecting is connecting", wantTCP: true, wantUDP: true, tcpState: domain.Connecting, udpState: domain.Connecting, wantAggregate: domain.Connecting},
		{name: "one connected one connecting is connecting", wantTCP: true, wantUDP: true, tcpState: domain.Connected, udpState: domain.Connecting, wantAggregate: domain.Connecting},
		{name: "one disconnected one connected is disconnected", wantTCP: true, wantUDP: true, tcpState: domain.Disconnected, udpState: domain.Connected, wantAggregate: domain.Disconnected},
		{name: "one disconnected one connecting is disconnected", wantTCP: true, wantUDP: true, tcpState: domain.Disconnected, udpState: domain.Connecting, wantAggregate: domain.Disconnected},
		{name: "both disconnected is disconnected", wantTCP: true, wantUDP: true, tcpState: domain.Disconnected, udpState: domain.Disconnected, wantAggregate: domain.Disconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cm := &RemoteServerConnectionManager{
				wantTCP:  tt.wantTCP,
				wantUDP:  tt.wantUDP,
				tcpState: tt.tcpState,
				udpState: tt.udpState,
			}

			if got := cm.computeAggregateLocked(); got != tt.wantAggregate {
				t.Errorf("computeAggregateLocked() = %s, want %s", got, tt.wantAggregate)
			}
		})
	}
}

func TestConnectionManagerSetConnectionStateFiresCallbacksOnlyOnAggregateEdge(t *testing.T) {
	t.Parallel()

	var established, closed int
	cm := &RemoteServerConnectionManager{
		wantTCP:       true,
		wantUDP:       false,
		tcpState:      domain.Connecting,
		onEstablished: func() { established++ },
		onClosed:      func() { closed++ },
	}
	cm.aggregate = cm.computeAggregateLocked()

	cm.mu.Lock()
	cm.setConnectionState(&cm.tcpState, domain.Connected, "TCP")
	cm.mu.Unlock()
	if established != 1 {
		t.Fatalf("established calls = %d, want 1", established)
	}

	// setting to the same state again must be a no-op, not re-fire onEstablished
	cm.mu.Lock()
	cm.setConnectionState(&cm.tcpState, domain.Connected, "TCP")
	cm.mu.Unlock()
	if established != 1 {
		t.Fatalf("established calls after no-op set = %d, want 1", established)
	}

	cm.mu.Lock()
	cm.setConnectionState(&cm.tcpState, domain.Disconnected, "TCP")
	cm.mu.Unlock()
	if closed != 1 {
		t.Fatalf("closed calls = %d, want 1", closed)
	}
	if established != 1 {
		t.Fatalf("established calls after disconnect = %d, want still 1", established)
	}
}

func testServiceAddress() domain.ServiceAddress {
	tcp := &domain.EndpointAddress{Addr: netip.MustParseAddr("192.0.2.20"), Port: 30501, Protocol: domain.L4TCP}
	udp := &domain.EndpointAddress{Addr: netip.MustParseAddr("192.0.2.20"), Port: 30501, Protocol: domain.L4UDP}
	return domain.ServiceAddress{TCP: tcp, UDP: udp}
}

func TestConnectionManagerStartBothDialsSucceedReachesConnected(t *testing.T) {
	t.Parallel()

	reactor := newFakeReactor()
	transport := newFakeTransportFactory()

	establishedCh := make(chan struct{}, 1)
	cm := NewRemoteServerConnectionManager(
		reactor, transport, testServiceAddress(), true, true,
		netip.AddrPort{}, netip.AddrPort{},
		func() { establishedCh <- struct{}{} }, func() {},
		nil, "svc", "inst", testLogger(),
	)

	cm.Start(context.Background())

	select {
	case <-establishedCh:
	case <-time.After(time.Second):
		t.Fatal("onEstablished was never called")
	}

	if !cm.IsConnected() {
		t.Error("IsConnected() = false, want true after both dials succeed")
	}
}

func TestConnectionManagerStartOneDialFailsReachesDisconnected(t *testing.T) {
	t.Parallel()

	reactor := newFakeReactor()
	transport := newFakeTransportFactory()
	remote := testServiceAddress()
	transport.failTCP[remote.TCP.AddrPort()] = errors.New("connection refused")

	cm := NewRemoteServerConnectionManager(
		reactor, transport, remote, true, true,
		netip.AddrPort{}, netip.AddrPort{},
		func() {}, func() {},
		nil, "svc", "inst", testLogger(),
	)

	cm.Start(context.Background())

	waitFor(t, time.Second, func() bool {
		cm.mu.Lock()
		defer cm.mu.Unlock()
		return cm.tcpState == domain.Disconnected && cm.udpState == domain.Connected
	})

	if cm.IsConnected() {
		t.Error("IsConnected() = true, want false when TCP dial failed")
	}
}

func TestConnectionManagerStartMulticastOnlyIsImmediatelyConnected(t *testing.T) {
	t.Parallel()

	reactor := newFakeReactor()
	transport := newFakeTransportFactory()

	establishedCh := make(chan struct{}, 1)
	cm := NewRemoteServerConnectionManager(
		reactor, transport, domain.ServiceAddress{}, false, false,
		netip.AddrPort{}, netip.AddrPort{},
		func() { establishedCh <- struct{}{} }, func() {},
		nil, "svc", "inst", testLogger(),
	)

	cm.Start(context.Background())

	select {
	case <-establishedCh:
	default:
		t.Fatal("onEstablished was not called synchronously for a multicast-only manager")
	}

	if !cm.IsConnected() {
		t.Error("IsConnected() = false, want true for a multicast-only manager")
	}
}

func TestConnectionManagerSendRequestRejectsWhenClosed(t *testing.T) {
	t.Parallel()

	reactor := newFakeReactor()
	transport := newFakeTransportFactory()
	remote := testServiceAddress()

	cm := NewRemoteServerConnectionManager(
		reactor, transport, remote, true, false,
		netip.AddrPort{}, netip.AddrPort{},
		func() {}, func() {},
		nil, "svc", "inst", testLogger(),
	)
	cm.Start(context.Background())
	waitFor(t, time.Second, cm.IsConnected)

	cm.Close()

	err := cm.SendRequest(context.Background(), domain.L4TCP, []byte("payload"))
	if !errors.Is(err, ErrServiceNotOffered) {
		t.Fatalf("SendRequest after Close error = %v, want ErrServiceNotOffered", err)
	}
}

func TestConnectionManagerSendRequestNoSenderYet(t *testing.T) {
	t.Parallel()

	cm := &RemoteServerConnectionManager{active: true}

	err := cm.SendRequest(context.Background(), domain.L4TCP, []byte("payload"))
	if !errors.Is(err, ErrConnectionNotAvailable) {
		t.Fatalf("SendRequest with no sender error = %v, want ErrConnectionNotAvailable", err)
	}
}

func TestConnectionManagerSendRequestTransmissionFailureWrapsError(t *testing.T) {
	t.Parallel()

	underlying := errors.New("write: broken pipe")
	cm := &RemoteServerConnectionManager{
		active:    true,
		tcpSender: &fakeSender{sendErr: underlying},
	}

	err := cm.SendRequest(context.Background(), domain.L4TCP, []byte("payload"))
	if !errors.Is(err, ErrConnectionTransmissionFailed) {
		t.Fatalf("SendRequest transmission failure = %v, want wrapped ErrConnectionTransmissionFailed", err)
	}
	if !errors.Is(err, underlying) {
		t.Fatalf("SendRequest transmission failure = %v, want to also wrap %v", err, underlying)
	}
}

func TestConnectionManagerCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	cm := &RemoteServerConnectionManager{active: true, tcpSender: sender}

	cm.Close()
	cm.Close()

	if !sender.isClosed() {
		t.Error("tcp sender was never closed")
	}
	if cm.active {
		t.Error("manager still active after Close")
	}
}
