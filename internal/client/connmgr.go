package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/someipdmetrics"
)

// RemoteServerConnectionManager establishes and observes TCP/UDP transport
// connections to one required service instance's offered address, and
// aggregates their per-protocol ConnectionState into one (§4.5). All state
// mutation happens on the reactor goroutine: dial attempts run on their own
// goroutine and hop back via Reactor.Post before touching any field.
type RemoteServerConnectionManager struct {
	reactor   Reactor
	transport TransportFactory
	metrics   *someipdmetrics.Collector
	logger    *slog.Logger

	onEstablished func()
	onClosed      func()

	serviceLabel, instanceLabel string

	wantTCP, wantUDP         bool
	localTCPBind, localUDPBind netip.AddrPort
	remote                   domain.ServiceAddress

	mu        sync.Mutex
	active    bool
	tcpState  domain.ConnectionState
	udpState  domain.ConnectionState
	aggregate domain.ConnectionState
	tcpSender TCPSender
	udpSender UDPSender
}

// NewRemoteServerConnectionManager constructs a manager for remote,
// requesting TCP and/or UDP per wantTCP/wantUDP (§4.5's "required-TCP is
// true iff any required event or method uses TCP and the local TCP port is
// configured" computed by the caller, RemoteServer).
func NewRemoteServerConnectionManager(
	reactor Reactor,
	transport TransportFactory,
	remote domain.ServiceAddress,
	wantTCP, wantUDP bool,
	localTCPBind, localUDPBind netip.AddrPort,
	onEstablished, onClosed func(),
	metrics *someipdmetrics.Collector,
	serviceLabel, instanceLabel string,
	logger *slog.Logger,
) *RemoteServerConnectionManager {
	c := &RemoteServerConnectionManager{
		reactor:       reactor,
		transport:     transport,
		metrics:       metrics,
		logger:        logger,
		onEstablished: onEstablished,
		onClosed:      onClosed,
		serviceLabel:  serviceLabel,
		instanceLabel: instanceLabel,
		wantTCP:       wantTCP,
		wantUDP:       wantUDP,
		localTCPBind:  localTCPBind,
		localUDPBind:  localUDPBind,
		remote:        remote,
		active:        true,
	}
	if wantTCP {
		c.tcpState = domain.Connecting
	}
	if wantUDP {
		c.udpState = domain.Connecting
	}
	c.aggregate = c.computeAggregateLocked()
	return c
}

// Start launches the asynchronous dial attempts for every wanted protocol.
// A multicast-only manager (neither TCP nor UDP wanted) reports Connected
// immediately (§4.5).
func (c *RemoteServerConnectionManager) Start(ctx context.Context) {
	if !c.wantTCP && !c.wantUDP {
		c.reactor.Post(func() {
			c.mu.Lock()
			c.aggregate = domain.Connected
			c.mu.Unlock()
			c.onEstablished()
		})
		return
	}
	// Both dials, when both are wanted, run concurrently under one
	// errgroup rather than two bare goroutines (mirrors cmd/gobfd/main.go's
	// server-group pattern). Neither dialTCP nor dialUDP returns an error to
	// the group: each reports its own outcome back onto the reactor, so a
	// TCP dial failure must never cancel an independent UDP dial in flight.
	g, gCtx := errgroup.WithContext(ctx)
	if c.wantTCP {
		g.Go(func() error { c.dialTCP(gCtx); return nil })
	}
	if c.wantUDP {
		g.Go(func() error { c.dialUDP(gCtx); return nil })
	}
	go func() { _ = g.Wait() }()
}

func (c *RemoteServerConnectionManager) dialTCP(ctx context.Context) {
	sender, err := c.transport.GetTCPSender(ctx, c.localTCPBind, c.remote.TCP.AddrPort())
	c.reactor.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.logger.Error("tcp connect failed", slog.Any("error", err))
			c.setConnectionState(&c.tcpState, domain.Disconnected, "TCP")
			return
		}
		c.tcpSender = sender
		c.setConnectionState(&c.tcpState, domain.Connected, "TCP")
	})
}

func (c *RemoteServerConnectionManager) dialUDP(ctx context.Context) {
	sender, err := c.transport.GetUDPSender(ctx, c.localUDPBind, c.remote.UDP.AddrPort())
	c.reactor.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.logger.Error("udp connect failed", slog.Any("error", err))
			c.setConnectionState(&c.udpState, domain.Disconnected, "UDP")
			return
		}
		c.udpSender = sender
		c.setConnectionState(&c.udpState, domain.Connected, "UDP")
	})
}

// setConnectionState must be called with c.mu held.
func (c *RemoteServerConnectionManager) setConnectionState(field *domain.ConnectionState, next domain.ConnectionState, protocol string) {
	if *field == next {
		return
	}
	prev := *field
	*field = next
	if c.metrics != nil {
		c.metrics.ConnectionTransitions.WithLabelValues(
			c.serviceLabel, c.instanceLabel, protocol, prev.String(), next.String(),
		).Inc()
	}
	c.recomputeAggregateLocked()
}

// recomputeAggregateLocked must be called with c.mu held.
func (c *RemoteServerConnectionManager) recomputeAggregateLocked() {
	prevAggregate := c.aggregate
	c.aggregate = c.computeAggregateLocked()

	if prevAggregate != domain.Connected && c.aggregate == domain.Connected {
		c.onEstablished()
	}
	if prevAggregate == domain.Connected && c.aggregate != domain.Connected {
		// onClosed is expected to defer actual teardown via the owning
		// RemoteServer's registered software event (§4.5/§5): never tear
		// down connection objects inside the callback that observed the
		// transition.
		c.onClosed()
	}
}

func (c *RemoteServerConnectionManager) computeAggregateLocked() domain.ConnectionState {
	switch {
	case !c.wantTCP && !c.wantUDP:
		return domain.Connected
	case c.wantTCP && !c.wantUDP:
		return c.tcpState
	case !c.wantTCP && c.wantUDP:
		return c.udpState
	default:
		if c.tcpState == domain.Connected && c.udpState == domain.Connected {
			return domain.Connected
		}
		if c.tcpState == domain.Disconnected || c.udpState == domain.Disconnected {
			return domain.Disconnected
		}
		return domain.Connecting
	}
}

// IsConnected reports whether the aggregate connection state is Connected.
func (c *RemoteServerConnectionManager) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregate == domain.Connected
}

// SendRequest transmits payload over protocol's sender (§4.5's send
// contract). UnknownMethod is checked by RemoteServer before calling in.
func (c *RemoteServerConnectionManager) SendRequest(ctx context.Context, protocol domain.L4Protocol, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return ErrServiceNotOffered
	}

	switch protocol {
	case domain.L4TCP:
		if c.tcpSender == nil {
			return ErrConnectionNotAvailable
		}
		if err := c.tcpSender.Send(ctx, payload); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionTransmissionFailed, err)
		}
	case domain.L4UDP:
		if c.udpSender == nil {
			return ErrConnectionNotAvailable
		}
		if err := c.udpSender.Send(ctx, payload); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionTransmissionFailed, err)
		}
	default:
		return ErrConnectionNotAvailable
	}
	return nil
}

// Close tears down any established senders and marks the manager inactive.
// Safe to call more than once.
func (c *RemoteServerConnectionManager) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	if c.tcpSender != nil {
		_ = c.tcpSender.Close()
		c.tcpSender = nil
	}
	if c.udpSender != nil {
		_ = c.udpSender.Close()
		c.udpSender = nil
	}
}
