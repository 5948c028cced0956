package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"sync"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/sdmsg"
	"github.com/dantte-lp/someipd/internal/someipdmetrics"
)

// readinessState is RemoteServer's top-level readiness state machine (§4.6):
// Init -> Offered -> ConnectedOffered <-> Offered, StopOffer -> Init.
type readinessState uint8

const (
	readinessInit readinessState = iota
	readinessOffered
	readinessConnectedOffered
)

// RemoteServerConfig is the static, per-instance configuration a RemoteServer
// is constructed with: the required eventgroups and methods of one required
// service instance (§3, §4.6).
type RemoteServerConfig struct {
	ID                        domain.ServiceInstanceID
	RequiredEventgroups       map[domain.EventgroupID]domain.EventgroupDeployment
	RequiredEventgroupsTiming domain.RequiredEventgroupsConfig
	Methods                   map[uint16]domain.MethodDeployment
	LocalTCPListenAddr        *netip.AddrPort
	LocalUDPListenAddr        *netip.AddrPort
	// SDEnabled is false for statically configured services (§4.6's
	// initialize_static_sd): subscriptions are reported Subscribed
	// unconditionally and no eventgroup FSM traffic is ever sent.
	SDEnabled bool
}

// RemoteServerDeps are the collaborators RemoteServer consumes but does not
// own (§3's "referenced for the RemoteServer's lifetime").
type RemoteServerDeps struct {
	Reactor   Reactor
	Timers    TimerManager
	Transport TransportFactory
	Scheduler SdScheduler
	SDClient  ServiceDiscoveryClient
	Router    PacketRouter
	Metrics   *someipdmetrics.Collector
	Logger    *slog.Logger
}

// RemoteServer is the top-level coordinator for one required service
// instance (§4.6): it binds SD signals, transport connection signals, local
// subscriptions, and observer notifications into one consistent view of
// subscription state.
type RemoteServer struct {
	id        domain.ServiceInstanceID
	reactor   Reactor
	timers    TimerManager
	transport TransportFactory
	scheduler SdScheduler
	sdClient  ServiceDiscoveryClient
	router    PacketRouter
	metrics   *someipdmetrics.Collector
	logger    *slog.Logger

	methods            map[uint16]domain.MethodDeployment
	localTCPListenAddr *netip.AddrPort
	localUDPListenAddr *netip.AddrPort
	sdEnabled          bool
	eventToEventgroup  map[domain.EventID]domain.EventgroupID

	dispatcher  *clientEventDispatcher
	eventgroups *EventgroupManager
	builder     *sdmsg.Builder
	multicast   EventMulticastListener
	swEvent     SoftwareEventHandle

	mu          sync.Mutex
	closed      bool
	offerActive bool
	offer       domain.ActiveOfferEntry
	readiness   readinessState
	connMgr     *RemoteServerConnectionManager
}

// NewRemoteServer constructs a RemoteServer and registers it with the SD
// client and packet router (§3's lifecycle: "created when a local
// application requests the RSI").
func NewRemoteServer(cfg RemoteServerConfig, deps RemoteServerDeps) (*RemoteServer, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	rs := &RemoteServer{
		id:                 cfg.ID,
		reactor:            deps.Reactor,
		timers:             deps.Timers,
		transport:          deps.Transport,
		scheduler:          deps.Scheduler,
		sdClient:           deps.SDClient,
		router:             deps.Router,
		metrics:            deps.Metrics,
		logger:             deps.Logger,
		methods:            cfg.Methods,
		localTCPListenAddr: cfg.LocalTCPListenAddr,
		localUDPListenAddr: cfg.LocalUDPListenAddr,
		sdEnabled:          cfg.SDEnabled,
		eventToEventgroup:  make(map[domain.EventID]domain.EventgroupID),
		readiness:          readinessInit,
	}
	for egID, dep := range cfg.RequiredEventgroups {
		for eventID := range dep.Events {
			rs.eventToEventgroup[eventID] = egID
		}
	}

	rs.dispatcher = newClientEventDispatcher(deps.Logger)
	rs.builder = sdmsg.NewBuilder(cfg.RequiredEventgroups)

	localMulticastBind := netip.IPv4Unspecified()
	if cfg.LocalUDPListenAddr != nil {
		localMulticastBind = cfg.LocalUDPListenAddr.Addr()
	}
	ml, err := deps.Transport.GetMulticastListener(localMulticastBind)
	if err != nil {
		return nil, fmt.Errorf("client: create multicast listener: %w", err)
	}
	rs.multicast = ml

	serviceLabel := strconv.Itoa(int(cfg.ID.ServiceID))
	instanceLabel := strconv.Itoa(int(cfg.ID.InstanceID))
	rs.eventgroups = NewEventgroupManager(
		cfg.RequiredEventgroups, cfg.RequiredEventgroupsTiming,
		rs.builder, deps.Scheduler, deps.Timers, ml, rs.dispatcher, deps.Metrics, deps.Logger,
	)
	rs.eventgroups.serviceLabel = serviceLabel
	rs.eventgroups.instanceLabel = instanceLabel

	h, err := deps.Reactor.RegisterSoftwareEvent(rs.handleConnectionClosedDeferred)
	if err != nil {
		return nil, fmt.Errorf("client: register software event: %w", err)
	}
	rs.swEvent = h

	if err := deps.SDClient.RegisterRemoteServer(cfg.ID, rs); err != nil {
		return nil, fmt.Errorf("client: register with SD client: %w", err)
	}
	if err := deps.Router.RegisterRemoteServer(cfg.ID, rs); err != nil {
		return nil, fmt.Errorf("client: register with packet router: %w", err)
	}

	return rs, nil
}

func (rs *RemoteServer) checkNotClosed() {
	if rs.closed {
		fatal("operation on a closed RemoteServer")
	}
}

// --- SDHandler (§6) ---

// HandleOfferService implements SDHandler, hopping onto the reactor.
func (rs *RemoteServer) HandleOfferService(offer domain.ActiveOfferEntry) {
	rs.reactor.Post(func() { rs.OnOfferRemoteService(offer) })
}

// HandleStopOfferService implements SDHandler, hopping onto the reactor.
func (rs *RemoteServer) HandleStopOfferService() {
	rs.reactor.Post(rs.OnStopOfferRemoteService)
}

// HandleSubscribeEventgroupAck implements SDHandler, hopping onto the reactor.
func (rs *RemoteServer) HandleSubscribeEventgroupAck(egID domain.EventgroupID, multicast *domain.EndpointAddress) {
	rs.reactor.Post(func() { rs.OnSubscribeEventgroupAck(egID, multicast) })
}

// HandleSubscribeEventgroupNack implements SDHandler, hopping onto the reactor.
func (rs *RemoteServer) HandleSubscribeEventgroupNack(egID domain.EventgroupID) {
	rs.reactor.Post(func() { rs.OnSubscribeEventgroupNack(egID) })
}

// --- IngressHandler (§6) ---

// HandleSomeIPEvent implements IngressHandler, delivering payload to event
// observers.
func (rs *RemoteServer) HandleSomeIPEvent(eventID domain.EventID, payload []byte) {
	rs.reactor.Post(func() { rs.dispatcher.NotifyEvent(eventID, payload) })
}

// HandlePduEvent implements IngressHandler, delivering payload to observers
// of signal-based events.
func (rs *RemoteServer) HandlePduEvent(eventID domain.EventID, payload []byte) {
	rs.reactor.Post(func() { rs.dispatcher.NotifyEvent(eventID, payload) })
}

// --- Local application operations (§4.6) ---

// SubscribeSomeIPEvent registers observer for eventID, transitions the
// owning eventgroup FSM via OnSubscribe, and returns the resulting
// subscription state (§4.6).
func (rs *RemoteServer) SubscribeSomeIPEvent(eventID domain.EventID, observer EventObserver) (ObserverHandle, domain.SubscriptionState, error) {
	return rs.subscribeEvent(eventID, observer)
}

// SubscribePduEvent is the signal-based-event analogue of SubscribeSomeIPEvent.
func (rs *RemoteServer) SubscribePduEvent(eventID domain.EventID, observer EventObserver) (ObserverHandle, domain.SubscriptionState, error) {
	return rs.subscribeEvent(eventID, observer)
}

func (rs *RemoteServer) subscribeEvent(eventID domain.EventID, observer EventObserver) (ObserverHandle, domain.SubscriptionState, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	egID, ok := rs.eventToEventgroup[eventID]
	if !ok {
		return ObserverHandle{}, domain.StateServiceDown, ErrUnknownEventgroup
	}

	handle := rs.dispatcher.Register(eventID, observer)

	if !rs.sdEnabled {
		observer.OnSubscriptionStateChanged(domain.StateSubscribed)
		return handle, domain.StateSubscribed, nil
	}

	connected := rs.connMgr != nil && rs.connMgr.IsConnected()
	rs.eventgroups.OnSubscribe(egID, connected)

	state := rs.eventgroups.State(egID)
	observer.OnSubscriptionStateChanged(state)
	return handle, state, nil
}

// UnsubscribeSomeIPEvent removes handle and forwards OnUnsubscribe to the
// owning eventgroup FSM (§4.6). Precondition: handle was returned by a prior
// Subscribe* call on this RemoteServer and has not already been unsubscribed.
func (rs *RemoteServer) UnsubscribeSomeIPEvent(handle ObserverHandle) error {
	return rs.unsubscribeEvent(handle)
}

// UnsubscribePduEvent is the signal-based-event analogue of
// UnsubscribeSomeIPEvent.
func (rs *RemoteServer) UnsubscribePduEvent(handle ObserverHandle) error {
	return rs.unsubscribeEvent(handle)
}

func (rs *RemoteServer) unsubscribeEvent(handle ObserverHandle) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	egID, ok := rs.eventToEventgroup[handle.eventID]
	if !ok {
		return ErrUnknownEventgroup
	}
	if _, err := rs.dispatcher.Unregister(handle); err != nil {
		return err
	}
	if rs.sdEnabled {
		rs.eventgroups.OnUnsubscribe(egID)
	}
	return nil
}

// OnOfferRemoteService records offer, (re)establishes transport connections,
// and forwards the offer to the eventgroup manager (§4.6). A second
// OfferService at a different unicast source address is treated as a
// renewal at a new address: the existing connection manager is torn down
// and rebuilt (resolved Open Question, see DESIGN.md).
func (rs *RemoteServer) OnOfferRemoteService(offer domain.ActiveOfferEntry) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	replacingAddress := rs.offerActive && rs.connMgr != nil && rs.offer.SourceAddr != offer.SourceAddr
	rs.offerActive = true
	rs.offer = offer
	if rs.readiness == readinessInit {
		rs.readiness = readinessOffered
	}

	if replacingAddress {
		rs.connMgr.Close()
		rs.connMgr = nil
	}
	rs.connect(offer)

	dst := netip.AddrPortFrom(offer.SourceAddr, offer.SourcePort)
	rs.eventgroups.OfferService(offer, offer.IsMulticast, dst)
}

// OnOfferRenewal re-issues connect() to cover broken connections and
// forwards the renewal to the eventgroup manager (§4.6). Precondition: the
// service is already offered.
func (rs *RemoteServer) OnOfferRenewal(isMulticast bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	if !rs.offerActive {
		fatal("offer renewal received without an active offer")
	}
	rs.offer.IsMulticast = isMulticast
	rs.connect(rs.offer)

	dst := netip.AddrPortFrom(rs.offer.SourceAddr, rs.offer.SourcePort)
	rs.eventgroups.OfferService(rs.offer, isMulticast, dst)
}

// OnStopOfferRemoteService resets the offer, disconnects, and notifies every
// event observer of SubscriptionPending (§4.6).
func (rs *RemoteServer) OnStopOfferRemoteService() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	rs.offerActive = false
	rs.offer = domain.ActiveOfferEntry{}
	rs.readiness = readinessInit

	if rs.connMgr != nil {
		rs.connMgr.Close()
		rs.connMgr = nil
	}
	rs.eventgroups.StopOfferService()

	for eventID := range rs.eventToEventgroup {
		rs.dispatcher.NotifyStateChanged(eventID, domain.StateSubscriptionPending)
	}
}

// OnSubscribeEventgroupAck forwards an ACK to the eventgroup manager (§4.6).
func (rs *RemoteServer) OnSubscribeEventgroupAck(egID domain.EventgroupID, multicast *domain.EndpointAddress) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()
	rs.eventgroups.OnSubscribeEventgroupAck(egID, multicast)
}

// OnSubscribeEventgroupNack forwards a NACK to the eventgroup manager; if
// the eventgroup contains a TCP event, the connection is closed since the
// remote indicated an incompatible subscription state (§4.6).
func (rs *RemoteServer) OnSubscribeEventgroupNack(egID domain.EventgroupID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	if rs.eventgroups.ContainsTCPEvent(egID) && rs.connMgr != nil {
		rs.connMgr.Close()
		rs.connMgr = nil
	}
	rs.eventgroups.OnSubscribeEventgroupNack(egID)
}

// SendMethodRequest validates methodID against the configured deployment,
// attaches a UDP accumulation delay if configured, and forwards payload to
// the connection manager (§4.6's send contract, §7).
func (rs *RemoteServer) SendMethodRequest(ctx context.Context, methodID uint16, payload []byte) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	dep, ok := rs.methods[methodID]
	if !ok {
		return ErrUnknownMethod
	}
	if !rs.offerActive {
		return ErrServiceNotOffered
	}
	if rs.connMgr == nil {
		return ErrConnectionNotAvailable
	}

	if dep.Protocol == domain.L4UDP && dep.UDPAccumulationTimeout > 0 {
		timer := rs.timers.CreateTimer(func() { rs.sendAccumulated(ctx, methodID, dep.Protocol, payload) })
		rs.timers.Start(timer, dep.UDPAccumulationTimeout)
		return nil
	}

	return rs.connMgr.SendRequest(ctx, dep.Protocol, payload)
}

func (rs *RemoteServer) sendAccumulated(ctx context.Context, methodID uint16, protocol domain.L4Protocol, payload []byte) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed || rs.connMgr == nil {
		return
	}
	if err := rs.connMgr.SendRequest(ctx, protocol, payload); err != nil {
		rs.logger.Error("deferred method request send failed",
			slog.Uint64("method_id", uint64(methodID)), slog.Any("error", err))
	}
}

// InitializeStaticSD simulates an OfferService for a statically configured
// RemoteServer (SD disabled) and joins multicast if an endpoint is given
// (§4.6). Precondition: SD is disabled for this RemoteServer.
func (rs *RemoteServer) InitializeStaticSD(remote domain.ServiceAddress, multicast *domain.EndpointAddress) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.checkNotClosed()

	if rs.sdEnabled {
		fatal("initialize_static_sd called on a RemoteServer with SD enabled")
	}
	if rs.offerActive {
		return nil
	}

	offer := domain.ActiveOfferEntry{
		ServiceDeploymentID: rs.id.ServiceDeploymentID,
		InstanceID:          rs.id.InstanceID,
		TCP:                 remote.TCP,
		UDP:                 remote.UDP,
	}
	rs.offerActive = true
	rs.offer = offer
	rs.readiness = readinessOffered
	rs.connect(offer)

	if multicast != nil {
		if err := rs.multicast.Join(multicast.Addr, multicast.Port, ""); err != nil {
			return fmt.Errorf("client: join static multicast group: %w", err)
		}
	}
	return nil
}

// IsConnected reports whether the aggregate transport connection state is
// Connected (true unconditionally for a multicast-only RemoteServer, since
// its connection manager reports Connected immediately).
func (rs *RemoteServer) IsConnected() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.connMgr == nil {
		return false
	}
	return rs.connMgr.IsConnected()
}

// Close disconnects transports, unregisters from the packet router and SD
// client, and unregisters the connection-closed software event (§3's
// lifecycle). Safe to call more than once.
func (rs *RemoteServer) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil
	}
	rs.closed = true

	if rs.connMgr != nil {
		rs.connMgr.Close()
		rs.connMgr = nil
	}
	if err := rs.router.UnregisterRemoteServer(rs.id); err != nil {
		rs.logger.Error("unregister from packet router failed", slog.Any("error", err))
	}
	if err := rs.sdClient.UnregisterRemoteServer(rs.id); err != nil {
		rs.logger.Error("unregister from SD client failed", slog.Any("error", err))
	}
	if err := rs.reactor.UnregisterSoftwareEvent(rs.swEvent); err != nil {
		fatal("failed to unregister connection-closed software event")
	}
	return nil
}

// connect builds and starts a RemoteServerConnectionManager for offer's
// address if one does not already exist. The local TCP listen endpoint is
// registered with the SD builder once it's known (§4.2).
func (rs *RemoteServer) connect(offer domain.ActiveOfferEntry) {
	if rs.connMgr != nil {
		return
	}

	addr := offer.Address()
	wantTCP := addr.HasTCP() && rs.localTCPListenAddr != nil
	wantUDP := addr.HasUDP() && rs.localUDPListenAddr != nil

	var localTCP, localUDP netip.AddrPort
	if rs.localTCPListenAddr != nil {
		localTCP = *rs.localTCPListenAddr
	}
	if rs.localUDPListenAddr != nil {
		localUDP = *rs.localUDPListenAddr
	}

	serviceLabel := strconv.Itoa(int(offer.ServiceID))
	instanceLabel := strconv.Itoa(int(offer.InstanceID))

	cm := NewRemoteServerConnectionManager(
		rs.reactor, rs.transport, addr, wantTCP, wantUDP, localTCP, localUDP,
		rs.handleConnectionEstablished, rs.handleConnectionClosedTrigger,
		rs.metrics, serviceLabel, instanceLabel, rs.logger,
	)
	rs.connMgr = cm
	cm.Start(context.Background())

	if wantTCP {
		rs.builder.RegisterLocalTCPEndpoint(localTCP)
	}
}

func (rs *RemoteServer) handleConnectionEstablished() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.readiness = readinessConnectedOffered
	rs.eventgroups.HandleConnectionEstablished()
}

// handleConnectionClosedTrigger is passed to the connection manager as its
// onClosed callback. It only triggers the software event registered at
// construction; the actual teardown happens in
// handleConnectionClosedDeferred on the next reactor tick (§4.5, §5).
func (rs *RemoteServer) handleConnectionClosedTrigger() {
	if err := rs.reactor.TriggerSoftwareEvent(rs.swEvent); err != nil {
		fatal("failed to trigger connection-closed software event")
	}
}

func (rs *RemoteServer) handleConnectionClosedDeferred() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.readiness == readinessConnectedOffered {
		rs.readiness = readinessOffered
	}
	rs.eventgroups.HandleConnectionClosed()
}
