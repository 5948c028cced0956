package client

import (
	"context"
	"net/netip"
	"time"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/wire"
)

// SoftwareEventHandle and TimerHandle are opaque provider-assigned handles.
// They are declared here, on the consumer side, so that a concrete Reactor
// provider (internal/reactor) implements these interfaces by importing this
// package, rather than this package importing a concrete provider (§6.1,
// §9 "many template-parameterized ConnectionManager variants").
type SoftwareEventHandle uint64

// TimerHandle identifies a timer created through TimerManager.
type TimerHandle uint64

// Reactor is the single-threaded event loop RemoteServer schedules all
// deferred work on (§5, §6).
type Reactor interface {
	Post(fn func())
	RegisterSoftwareEvent(cb func()) (SoftwareEventHandle, error)
	TriggerSoftwareEvent(h SoftwareEventHandle) error
	UnregisterSoftwareEvent(h SoftwareEventHandle) error
}

// TimerManager creates and controls the retry/accumulation timers used by
// the eventgroup FSMs and the method-request path (§4.3, §4.6, §6).
type TimerManager interface {
	CreateTimer(cb func()) TimerHandle
	Start(h TimerHandle, d time.Duration)
	Stop(h TimerHandle)
}

// TCPSender sends SOME/IP messages over an established TCP connection.
type TCPSender interface {
	Send(ctx context.Context, buf []byte) error
	Close() error
	RemoteAddr() netip.AddrPort
}

// UDPSender sends SOME/IP/SD datagrams to one fixed destination.
type UDPSender interface {
	Send(ctx context.Context, buf []byte) error
	Close() error
}

// UDPEndpoint is a bound UDP socket used for receiving SD traffic and for
// joining eventgroup multicast groups (§4.8).
type UDPEndpoint interface {
	LocalAddr() netip.AddrPort
	SendTo(ctx context.Context, buf []byte, dst netip.AddrPort) error
	ReadFrom(buf []byte) (n int, src netip.AddrPort, err error)
	Close() error
}

// EventMulticastListener owns zero-or-one joined multicast group for one
// RemoteServer's set of eventgroups that request multicast delivery (§4.8).
// Join is idempotent while already joined to the same group; Leave when not
// joined is a no-op. Called only on the EventgroupManager's 0<->1 refcount
// transitions, never once per FSM.
type EventMulticastListener interface {
	Join(group netip.Addr, port uint16, sourceIface string) error
	Leave() error
}

// TransportFactory is the consumed collaborator that constructs senders and
// receive endpoints (§4.5, §6, §9's "ConnectionManager variants").
type TransportFactory interface {
	GetTCPSender(ctx context.Context, local, remote netip.AddrPort) (TCPSender, error)
	GetUDPSender(ctx context.Context, local, remote netip.AddrPort) (UDPSender, error)
	GetUDPEndpoint(local netip.AddrPort) (UDPEndpoint, error)
	GetMulticastListener(local netip.Addr) (EventMulticastListener, error)
}

// SdScheduler is the consumed SD entry scheduler (§4.7): it aggregates
// entries into bounded SD datagrams and owns jitter/delay bounds; this core
// never sends SD datagrams directly.
type SdScheduler interface {
	ScheduleSubscribeEventgroupEntry(e wire.Entry, opts []wire.EndpointOption, minDelay, maxDelay time.Duration, dst netip.AddrPort) error
	ScheduleStopSubscribeEventgroupEntry(e wire.Entry, opts []wire.EndpointOption, dst netip.AddrPort) error
}

// IngressHandler receives incoming SOME/IP event/PDU notifications and
// method responses routed by PacketRouter for one registered
// ServiceInstanceID. RemoteServer implements this and registers itself.
type IngressHandler interface {
	HandleSomeIPEvent(eventID domain.EventID, payload []byte)
	HandlePduEvent(eventID domain.EventID, payload []byte)
}

// PacketRouter delivers application-payload SOME/IP traffic to registered
// RemoteServers (§6). Its own implementation is outside this module's
// scope; only the interface is consumed.
type PacketRouter interface {
	RegisterRemoteServer(id domain.ServiceInstanceID, h IngressHandler) error
	UnregisterRemoteServer(id domain.ServiceInstanceID) error
}

// SDHandler receives incoming SD entries (Offer/StopOffer/Ack/Nack) for one
// registered ServiceInstanceID. RemoteServer implements this and registers
// itself with the ServiceDiscoveryClient.
type SDHandler interface {
	HandleOfferService(offer domain.ActiveOfferEntry)
	HandleStopOfferService()
	HandleSubscribeEventgroupAck(egID domain.EventgroupID, multicast *domain.EndpointAddress)
	HandleSubscribeEventgroupNack(egID domain.EventgroupID)
}

// ServiceDiscoveryClient delivers SD signals for one registered
// ServiceInstanceID (§6). Its own implementation is outside this module's
// scope; only the interface is consumed.
type ServiceDiscoveryClient interface {
	RegisterRemoteServer(id domain.ServiceInstanceID, h SDHandler) error
	UnregisterRemoteServer(id domain.ServiceInstanceID) error
}
