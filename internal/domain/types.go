// Package domain holds the value types shared across the RemoteServer
// subsystem (internal/sdmsg, internal/eventgroup, internal/client): service
// and eventgroup identifiers, endpoint addresses, and the small
// configuration structs the core consumes already parsed (§3, §6).
//
// Keeping these in their own package, separate from internal/client, avoids
// an import cycle between internal/sdmsg (which needs the identifiers to
// build entries) and internal/client (which owns both the builder and the
// FSMs).
package domain

import (
	"net/netip"
	"time"
)

// ServiceDeploymentID identifies a service interface (§3).
type ServiceDeploymentID struct {
	ServiceID    uint16
	MajorVersion uint8
	MinorVersion uint32
}

// AnyInstance is the wildcard InstanceID value, valid only in
// find/subscribe contexts, never on an outgoing Subscribe (invariant 4).
const AnyInstance uint16 = 0xFFFF

// ServiceInstanceID identifies one instance of a service interface (§3).
type ServiceInstanceID struct {
	ServiceDeploymentID
	InstanceID uint16
}

// EventgroupID identifies a set of events subscribed to as a unit (§3).
type EventgroupID uint16

// EventID identifies a single SOME/IP event or signal-based PDU (§3).
type EventID uint16

// L4Protocol is the transport protocol of an EndpointAddress.
type L4Protocol uint8

// Transport protocol values.
const (
	L4TCP L4Protocol = iota + 1
	L4UDP
)

// String implements fmt.Stringer.
func (p L4Protocol) String() string {
	switch p {
	case L4TCP:
		return "TCP"
	case L4UDP:
		return "UDP"
	default:
		return "unknown"
	}
}

// EndpointAddress is an IP+port+protocol triple (§3). Port 0 denotes
// "dynamic/invalid"; it is never sent on the wire.
type EndpointAddress struct {
	Addr     netip.Addr
	Port     uint16
	Protocol L4Protocol
}

// Valid reports whether a has a non-zero port, i.e. is usable on the wire.
func (a EndpointAddress) Valid() bool {
	return a.Port != 0 && a.Addr.IsValid()
}

// AddrPort returns a as a netip.AddrPort.
func (a EndpointAddress) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.Addr, a.Port)
}

// ServiceAddress is the set of endpoints a remote service instance is
// reachable at (§3). At least one of TCP/UDP must be present for a
// non-multicast-only RemoteServer.
type ServiceAddress struct {
	TCP   *EndpointAddress
	UDP   *EndpointAddress
}

// HasTCP reports whether a TCP endpoint is configured.
func (s ServiceAddress) HasTCP() bool { return s.TCP != nil && s.TCP.Valid() }

// HasUDP reports whether a UDP endpoint is configured.
func (s ServiceAddress) HasUDP() bool { return s.UDP != nil && s.UDP.Valid() }

// RetryConfig bounds SubscribeEventgroup retries after a NACK (§3, §4.3).
type RetryConfig struct {
	Delay      uint64 // nanoseconds
	MaxRetries int
}

// EventgroupTimingConfig is the optional per-eventgroup SD timing
// configuration (§3).
type EventgroupTimingConfig struct {
	TTL                uint32 // seconds
	ResponseDelayMinNs uint64
	ResponseDelayMaxNs uint64
	Retry              *RetryConfig
}

// RequiredEventgroupsConfig maps each required eventgroup to its optional
// timing configuration (§3).
type RequiredEventgroupsConfig map[EventgroupID]*EventgroupTimingConfig

// MethodDeployment describes a required method's transport protocol and its
// optional UDP accumulation timeout (§4.6's send_method_request contract).
// A zero UDPAccumulationTimeout means send immediately.
type MethodDeployment struct {
	Protocol               L4Protocol
	UDPAccumulationTimeout time.Duration
}

// EventgroupDeployment describes the events that make up one eventgroup and
// the transport/semantic properties derived from them (§3).
type EventgroupDeployment struct {
	Events          map[EventID]struct{}
	ContainsTCPEvent bool
	ContainsUDPEvent bool
	ContainsField   bool
}

// ActiveOfferEntry is the cached state of the most recently received (or
// statically configured) OfferService (§3).
type ActiveOfferEntry struct {
	ServiceDeploymentID
	InstanceID  uint16
	SourceAddr  netip.Addr
	SourcePort  uint16
	TCP         *EndpointAddress
	UDP         *EndpointAddress
	IsMulticast bool
}

// Address returns o's ServiceAddress (TCP/UDP endpoints, if any).
func (o ActiveOfferEntry) Address() ServiceAddress {
	return ServiceAddress{TCP: o.TCP, UDP: o.UDP}
}

// EventgroupFSMState is the subscription state of one eventgroup FSM (§3).
type EventgroupFSMState uint8

// FSM states.
const (
	StateServiceDown EventgroupFSMState = iota
	StateNotSubscribed
	StateSubscriptionPending
	StateSubscribed
)

// String implements fmt.Stringer.
func (s EventgroupFSMState) String() string {
	switch s {
	case StateServiceDown:
		return "ServiceDown"
	case StateNotSubscribed:
		return "NotSubscribed"
	case StateSubscriptionPending:
		return "SubscriptionPending"
	case StateSubscribed:
		return "Subscribed"
	default:
		return "Unknown"
	}
}

// SubscriptionState is the EventgroupFSMState as reported to local
// observers. A subscribe made before any offer reports ServiceDown.
type SubscriptionState = EventgroupFSMState

// ConnectionState is the aggregate or per-protocol transport connection
// state (§3).
type ConnectionState uint8

// Connection states.
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}
