package main

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/dantte-lp/someipd/internal/client"
	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/reactor"
	"github.com/dantte-lp/someipd/internal/someipdmetrics"
	"github.com/dantte-lp/someipd/internal/transport"
)

// demoServiceInstanceID, demoEventgroupID, demoEventID, and
// demoLocalUDPListenAddr are the fixed identity of the one required service
// instance this binary stands up as a reference wiring of RemoteServer,
// DirectScheduler, and the real transport.Factory (§4.7). A production
// caller replaces this with its own ServiceDiscoveryClient/PacketRouter and
// per-instance config instead of these hardcoded values.
var (
	demoServiceInstanceID = domain.ServiceInstanceID{
		ServiceDeploymentID: domain.ServiceDeploymentID{ServiceID: 0x1234, MajorVersion: 1},
		InstanceID:          0x0001,
	}
	demoEventgroupID       = domain.EventgroupID(0x0001)
	demoEventID            = domain.EventID(0x8001)
	demoLocalUDPListenAddr = netip.MustParseAddrPort("127.0.0.1:30490")
)

// demoObserver is a minimal client.EventObserver that only logs, so the
// demo RemoteServer has a local subscriber and the eventgroup FSM actually
// arms a SubscribeEventgroup (§4.3's LocallyRequested guard) instead of
// sitting in NotSubscribed.
type demoObserver struct {
	logger *slog.Logger
}

func (o demoObserver) OnSubscriptionStateChanged(state domain.SubscriptionState) {
	o.logger.Debug("demo observer subscription state changed", slog.String("state", state.String()))
}

func (o demoObserver) OnEventReceived(payload []byte) {
	o.logger.Debug("demo observer received event", slog.Int("bytes", len(payload)))
}

// noopSDClient and noopPacketRouter are placeholder implementations of the
// two collaborators §4.6/§4.7/§9 explicitly leave outside this module's
// scope: a real service discovery client and a real incoming-packet router.
// They exist only so cmd/someipd's demo wiring can construct a RemoteServer
// without depending on a concrete SD/transport daemon; a production
// deployment supplies its own.
type noopSDClient struct{}

func (noopSDClient) RegisterRemoteServer(domain.ServiceInstanceID, client.SDHandler) error {
	return nil
}

func (noopSDClient) UnregisterRemoteServer(domain.ServiceInstanceID) error { return nil }

type noopPacketRouter struct{}

func (noopPacketRouter) RegisterRemoteServer(domain.ServiceInstanceID, client.IngressHandler) error {
	return nil
}

func (noopPacketRouter) UnregisterRemoteServer(domain.ServiceInstanceID) error { return nil }

// newDemoRemoteServer wires one RemoteServer against the real transport
// stack and a DirectScheduler riding the shared reactor, then feeds it a
// synthetic OfferService so the eventgroup manager arms a subscription and
// exercises the scheduler end to end. It is reference wiring only — see
// §4.7's "used only by tests and the cmd/someipd demo wiring" — not a
// production SD/transport integration.
func newDemoRemoteServer(rtr *reactor.Reactor, metrics *someipdmetrics.Collector, logger *slog.Logger) (*client.RemoteServer, error) {
	factory := transport.NewFactory()
	scheduler := reactor.NewDirectScheduler(rtr, factory, demoLocalUDPListenAddr, logger)

	cfg := client.RemoteServerConfig{
		ID: demoServiceInstanceID,
		RequiredEventgroups: map[domain.EventgroupID]domain.EventgroupDeployment{
			demoEventgroupID: {
				Events:           map[domain.EventID]struct{}{demoEventID: {}},
				ContainsUDPEvent: true,
			},
		},
		RequiredEventgroupsTiming: domain.RequiredEventgroupsConfig{},
		LocalUDPListenAddr:        &demoLocalUDPListenAddr,
		SDEnabled:                 true,
	}

	deps := client.RemoteServerDeps{
		Reactor:   rtr,
		Timers:    rtr,
		Transport: factory,
		Scheduler: scheduler,
		SDClient:  noopSDClient{},
		Router:    noopPacketRouter{},
		Metrics:   metrics,
		Logger:    logger,
	}

	rs, err := client.NewRemoteServer(cfg, deps)
	if err != nil {
		return nil, err
	}

	if _, _, err := rs.SubscribeSomeIPEvent(demoEventID, demoObserver{logger: logger}); err != nil {
		return nil, fmt.Errorf("subscribe demo event: %w", err)
	}

	rs.OnOfferRemoteService(domain.ActiveOfferEntry{
		ServiceDeploymentID: demoServiceInstanceID.ServiceDeploymentID,
		InstanceID:          demoServiceInstanceID.InstanceID,
		SourceAddr:          demoLocalUDPListenAddr.Addr(),
		SourcePort:          demoLocalUDPListenAddr.Port(),
		UDP:                 &domain.EndpointAddress{Addr: demoLocalUDPListenAddr.Addr(), Port: demoLocalUDPListenAddr.Port(), Protocol: domain.L4UDP},
	})

	return rs, nil
}
