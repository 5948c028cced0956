// Package sdmsg builds the SubscribeEventgroup / StopSubscribeEventgroup SD
// entries and their endpoint options for one required service instance
// (§4.2). It is a pure value-construction layer: it owns no socket, no
// timer, and performs no I/O: it reads configuration and the currently
// active offer, and returns wire.Entry/wire.EndpointOption values for the
// caller to hand to the wire codec.
package sdmsg

import (
	"errors"
	"net/netip"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/wire"
)

// ErrTCPEndpointNotRegistered is returned by BuildSubscribe when the
// eventgroup requires a TCP event but RegisterLocalTCPEndpoint has not yet
// been called (§4.2's construction precondition).
var ErrTCPEndpointNotRegistered = errors.New("sdmsg: local TCP endpoint not registered")

// ErrNoActiveOffer is returned when a Subscribe is requested before any
// OfferService has been recorded via SetActiveOffer.
var ErrNoActiveOffer = errors.New("sdmsg: no active offer")

// ErrUnknownEventgroup is returned for an eventgroup ID not present in the
// required-eventgroups deployment this Builder was constructed for.
var ErrUnknownEventgroup = errors.New("sdmsg: unknown eventgroup")

// Builder constructs SD entries and options for the eventgroups of one
// required service instance. One Builder exists per RemoteServer.
type Builder struct {
	required map[domain.EventgroupID]domain.EventgroupDeployment

	localTCP    *netip.AddrPort
	customUDP   *domain.EndpointAddress
	customTCP   *domain.EndpointAddress

	offer domain.ActiveOfferEntry
	have  bool

	counters map[domain.EventgroupID]uint8
}

// NewBuilder creates a Builder for the given eventgroup deployments.
func NewBuilder(required map[domain.EventgroupID]domain.EventgroupDeployment) *Builder {
	return &Builder{
		required: required,
		counters: make(map[domain.EventgroupID]uint8),
	}
}

// RegisterLocalTCPEndpoint records the local TCP listen endpoint used for
// eventgroups that carry a TCP event (§4.2, grounded on
// RegisterLocalTcpNetworkEndpoint). It must be called before BuildSubscribe
// for any eventgroup with ContainsTCPEvent, or that call fails with
// ErrTCPEndpointNotRegistered.
func (b *Builder) RegisterLocalTCPEndpoint(addr netip.AddrPort) {
	b.localTCP = &addr
}

// SetCustomSubscriptionEndpoints overrides the dynamically registered
// endpoints with fixed ones, taking precedence over RegisterLocalTCPEndpoint
// and over any dynamically discovered UDP endpoint for the lifetime of the
// Builder (§4.2: "custom subscription endpoints").
func (b *Builder) SetCustomSubscriptionEndpoints(tcp, udp *domain.EndpointAddress) {
	b.customTCP = tcp
	b.customUDP = udp
}

// SetActiveOffer records the currently active OfferService this Builder
// will build Subscribe entries against. The entry's ServiceID/InstanceID/
// MajorVersion always come from the active offer, never from configuration
// wildcards (§4.2, invariant 4).
func (b *Builder) SetActiveOffer(offer domain.ActiveOfferEntry) {
	b.offer = offer
	b.have = true
}

// ClearActiveOffer forgets the active offer, e.g. on StopOfferService.
func (b *Builder) ClearActiveOffer() {
	b.offer = domain.ActiveOfferEntry{}
	b.have = false
}

// localEndpointFor returns the endpoint option to advertise for egID's
// transport, preferring a custom endpoint over a dynamically registered one.
func (b *Builder) localEndpointFor(dep domain.EventgroupDeployment) ([]wire.EndpointOption, error) {
	var opts []wire.EndpointOption

	if dep.ContainsTCPEvent {
		switch {
		case b.customTCP != nil:
			opts = append(opts, endpointOptionFrom(*b.customTCP))
		case b.localTCP != nil:
			opts = append(opts, wire.EndpointOption{
				Type:     wire.OptionTypeIPv4Endpoint,
				Addr:     b.localTCP.Addr(),
				Protocol: wire.L4TCP,
				Port:     b.localTCP.Port(),
			})
		default:
			return nil, ErrTCPEndpointNotRegistered
		}
	}

	if dep.ContainsUDPEvent {
		switch {
		case b.customUDP != nil:
			opts = append(opts, endpointOptionFrom(*b.customUDP))
		default:
			// Without a custom UDP endpoint no UDP option is added: the
			// Builder has no registration for a local UDP endpoint, so a
			// configured local UDP listen address is not advertised.
		}
	}

	return opts, nil
}

func endpointOptionFrom(addr domain.EndpointAddress) wire.EndpointOption {
	typ := wire.OptionTypeIPv4Endpoint
	if addr.Addr.Is6() {
		typ = wire.OptionTypeIPv6Endpoint
	}
	proto := wire.L4UDP
	if addr.Protocol == domain.L4TCP {
		proto = wire.L4TCP
	}
	return wire.EndpointOption{
		Type:     typ,
		Addr:     addr.Addr,
		Protocol: proto,
		Port:     addr.Port,
	}
}

// BuildSubscribe constructs a SubscribeEventgroup entry and its options for
// egID against the currently active offer. It returns the full option set
// on every call.
func (b *Builder) BuildSubscribe(egID domain.EventgroupID, ttl uint32) (wire.Entry, []wire.EndpointOption, error) {
	if !b.have {
		return wire.Entry{}, nil, ErrNoActiveOffer
	}
	dep, ok := b.required[egID]
	if !ok {
		return wire.Entry{}, nil, ErrUnknownEventgroup
	}

	opts, err := b.localEndpointFor(dep)
	if err != nil {
		return wire.Entry{}, nil, err
	}

	entry := wire.Entry{
		Type:         wire.EntryTypeSubscribeEventgroup,
		NumOpts1:     uint8(len(opts)),
		ServiceID:    b.offer.ServiceID,
		InstanceID:   b.offer.InstanceID,
		MajorVersion: b.offer.MajorVersion,
		TTL:          ttl,
		Counter:      b.nextCounter(egID),
		EventgroupID: uint16(egID),
	}

	return entry, opts, nil
}

// BuildStopSubscribe constructs a StopSubscribeEventgroup entry (a
// SubscribeEventgroup entry with TTL 0, §4.1) for egID, carrying the same
// option set a Subscribe entry would (spec §4.2: "stop entries carry the
// same option set as a Subscribe but with ttl=0").
func (b *Builder) BuildStopSubscribe(egID domain.EventgroupID) (wire.Entry, []wire.EndpointOption, error) {
	if !b.have {
		return wire.Entry{}, nil, ErrNoActiveOffer
	}
	dep, ok := b.required[egID]
	if !ok {
		return wire.Entry{}, nil, ErrUnknownEventgroup
	}

	opts, err := b.localEndpointFor(dep)
	if err != nil {
		return wire.Entry{}, nil, err
	}

	entry := wire.Entry{
		Type:         wire.EntryTypeSubscribeEventgroup,
		NumOpts1:     uint8(len(opts)),
		ServiceID:    b.offer.ServiceID,
		InstanceID:   b.offer.InstanceID,
		MajorVersion: b.offer.MajorVersion,
		TTL:          0,
		Counter:      b.nextCounter(egID),
		EventgroupID: uint16(egID),
	}
	return entry, opts, nil
}

// nextCounter returns and advances the eventgroup's subscription counter
// (§4.1's "counter" field), wrapping within its 4-bit range.
func (b *Builder) nextCounter(egID domain.EventgroupID) uint8 {
	c := b.counters[egID]
	b.counters[egID] = (c + 1) & 0x0F
	return c
}
