package client

import (
	"log/slog"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/eventgroup"
	"github.com/dantte-lp/someipd/internal/sdmsg"
	"github.com/dantte-lp/someipd/internal/someipdmetrics"
)

// defaultEventgroupTTL is used when an eventgroup has no configured SD
// timing, i.e. no explicit TTL was set for its SubscribeEventgroup entries.
const defaultEventgroupTTL uint32 = 3

// eventgroupState is one EventgroupFSM plus the bookkeeping EventgroupManager
// needs to compute its Guards and run its retry timer (§4.3, §4.4).
type eventgroupState struct {
	fsm        eventgroup.State
	deployment domain.EventgroupDeployment
	timing     *domain.EventgroupTimingConfig

	locallyRequested bool
	subscriberCount  int
	multicastJoined  bool

	retryArmed    bool
	retriesLeft   int
	hasRetryTimer bool
	retryTimer    TimerHandle
}

// actionContext carries the per-call data the FSM's pure Action values don't
// themselves hold (the ACK's multicast endpoint, if any).
type actionContext struct {
	ackMulticast *domain.EndpointAddress
}

// EventgroupManager owns one EventgroupFSM per configured required
// eventgroup for one RemoteServer (§4.4). It translates external signals
// (OfferService, ACK/NACK, connection state, local subscribe/unsubscribe)
// into FSM events, computes each transition's Guards, and executes the
// resulting Actions against the SD builder/scheduler, the retry TimerManager,
// the multicast listener, and the observer dispatcher.
type EventgroupManager struct {
	logger     *slog.Logger
	builder    *sdmsg.Builder
	scheduler  SdScheduler
	timers     TimerManager
	multicast  EventMulticastListener
	dispatcher *clientEventDispatcher
	metrics    *someipdmetrics.Collector

	mu             sync.Mutex
	groups         map[domain.EventgroupID]*eventgroupState
	offer          domain.ActiveOfferEntry
	haveOffer      bool
	offerMulticast bool
	dst            netip.AddrPort
	haveDst        bool

	multicastRefcount int

	serviceLabel, instanceLabel string
}

// NewEventgroupManager constructs one FSM per entry in required, enabling
// retry on FSMs whose timing config carries a RetryConfig.
func NewEventgroupManager(
	required map[domain.EventgroupID]domain.EventgroupDeployment,
	timing domain.RequiredEventgroupsConfig,
	builder *sdmsg.Builder,
	scheduler SdScheduler,
	timers TimerManager,
	multicast EventMulticastListener,
	dispatcher *clientEventDispatcher,
	metrics *someipdmetrics.Collector,
	logger *slog.Logger,
) *EventgroupManager {
	m := &EventgroupManager{
		logger:       logger,
		builder:      builder,
		scheduler:    scheduler,
		timers:       timers,
		multicast:    multicast,
		dispatcher:   dispatcher,
		metrics:      metrics,
		groups:       make(map[domain.EventgroupID]*eventgroupState, len(required)),
		serviceLabel: "0", instanceLabel: "0",
	}
	for egID, dep := range required {
		m.groups[egID] = &eventgroupState{
			fsm:        eventgroup.StateServiceDown,
			deployment: dep,
			timing:     timing[egID],
		}
	}
	return m
}

// OfferService fans an OfferService event out to every FSM, caching offer
// and dst for subsequent Subscribe entries (§4.4).
func (m *EventgroupManager) OfferService(offer domain.ActiveOfferEntry, isMulticast bool, dst netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offer = offer
	m.haveOffer = true
	m.offerMulticast = isMulticast
	m.dst = dst
	m.haveDst = true
	m.serviceLabel = strconv.Itoa(int(offer.ServiceID))
	m.instanceLabel = strconv.Itoa(int(offer.InstanceID))
	m.builder.SetActiveOffer(offer)

	for egID, st := range m.groups {
		g := eventgroup.Guards{
			LocallyRequested: st.locallyRequested,
			OfferActive:      true,
		}
		res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventOfferService, g)
		m.executeActions(egID, st, res, actionContext{})
	}
}

// StopOfferService fans a StopOfferService event out to every FSM and
// forgets the active offer.
func (m *EventgroupManager) StopOfferService() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.haveOffer = false
	m.offer = domain.ActiveOfferEntry{}
	m.haveDst = false
	m.builder.ClearActiveOffer()

	for egID, st := range m.groups {
		g := eventgroup.Guards{MulticastJoined: st.multicastJoined}
		res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventStopOfferService, g)
		m.executeActions(egID, st, res, actionContext{})
	}
}

// HandleConnectionEstablished fans ConnectionEstablished out to every FSM.
func (m *EventgroupManager) HandleConnectionEstablished() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for egID, st := range m.groups {
		g := eventgroup.Guards{
			LocallyRequested:   st.locallyRequested,
			OfferActive:        m.haveOffer,
			TransportConnected: true,
		}
		res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventConnectionEstablished, g)
		m.executeActions(egID, st, res, actionContext{})
	}
}

// HandleConnectionClosed fans ConnectionClosed out to every FSM.
func (m *EventgroupManager) HandleConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for egID, st := range m.groups {
		g := eventgroup.Guards{MulticastJoined: st.multicastJoined}
		res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventConnectionClosed, g)
		m.executeActions(egID, st, res, actionContext{})
	}
}

// OnSubscribe forwards a local application's subscribe request to egID's FSM
// (§4.4). It aborts if egID is not in this RemoteServer's deployment: an
// application requesting an eventgroup the configuration doesn't declare is
// a configuration error, not a runtime condition to recover from.
func (m *EventgroupManager) OnSubscribe(egID domain.EventgroupID, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.groups[egID]
	if !ok {
		fatal("subscribe to eventgroup not present in deployment")
	}
	st.subscriberCount++
	st.locallyRequested = true

	g := eventgroup.Guards{
		LocallyRequested:   true,
		OfferActive:        m.haveOffer,
		TransportConnected: connected,
	}
	res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventLocalSubscribe, g)
	m.executeActions(egID, st, res, actionContext{})
}

// OnUnsubscribe forwards a local application's unsubscribe to egID's FSM,
// emitting StopSubscribe only once the last local subscriber has left.
func (m *EventgroupManager) OnUnsubscribe(egID domain.EventgroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.groups[egID]
	if !ok {
		fatal("unsubscribe from eventgroup not present in deployment")
	}
	if st.subscriberCount > 0 {
		st.subscriberCount--
	}
	lastRemoved := st.subscriberCount == 0
	if lastRemoved {
		st.locallyRequested = false
	}

	g := eventgroup.Guards{LastSubscriberRemoved: lastRemoved}
	res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventLocalUnsubscribe, g)
	m.executeActions(egID, st, res, actionContext{})
}

// OnSubscribeEventgroupAck forwards a received ACK to egID's FSM, dropping it
// (with a log line) if the service is currently unavailable or the ACK
// carries a multicast endpoint the offer's UDP capability doesn't support
// (§4.4).
func (m *EventgroupManager) OnSubscribeEventgroupAck(egID domain.EventgroupID, multicast *domain.EndpointAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.groups[egID]
	if !ok {
		m.logger.Warn("ack for unconfigured eventgroup, dropping", slog.Uint64("eventgroup", uint64(egID)))
		return
	}
	if !m.haveOffer || st.fsm == eventgroup.StateServiceDown {
		m.logger.Warn("ack received while service unavailable, dropping", slog.Uint64("eventgroup", uint64(egID)))
		return
	}
	offerHasUDP := m.offer.Address().HasUDP()
	if multicast != nil && !offerHasUDP {
		m.logger.Warn("ack carries multicast endpoint but offer has no UDP endpoint, dropping",
			slog.Uint64("eventgroup", uint64(egID)))
		return
	}

	if st.fsm == eventgroup.StateNotSubscribed {
		m.logger.Debug("ack received while not subscribed, ignoring", slog.Uint64("eventgroup", uint64(egID)))
	}

	g := eventgroup.Guards{
		OfferActive:     true,
		OfferHasUDP:     offerHasUDP,
		AckHasMulticast: multicast != nil,
	}
	res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventAckReceived, g)
	if m.metrics != nil {
		m.metrics.SDEntriesReceived.WithLabelValues(m.serviceLabel, m.instanceLabel, "SubscribeEventgroupAck").Inc()
	}
	m.executeActions(egID, st, res, actionContext{ackMulticast: multicast})
}

// OnSubscribeEventgroupNack forwards a received NACK to egID's FSM.
func (m *EventgroupManager) OnSubscribeEventgroupNack(egID domain.EventgroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.groups[egID]
	if !ok {
		m.logger.Warn("nack for unconfigured eventgroup, dropping", slog.Uint64("eventgroup", uint64(egID)))
		return
	}

	g := eventgroup.Guards{RetryConfigured: st.timing != nil && st.timing.Retry != nil}
	res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventNackReceived, g)
	if m.metrics != nil {
		m.metrics.SDEntriesReceived.WithLabelValues(m.serviceLabel, m.instanceLabel, "SubscribeEventgroupNack").Inc()
	}
	m.executeActions(egID, st, res, actionContext{})
}

// ContainsTCPEvent reports whether egID's deployment carries a TCP event,
// used by RemoteServer to decide whether a NACK should close the connection.
func (m *EventgroupManager) ContainsTCPEvent(egID domain.EventgroupID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.groups[egID]
	return ok && st.deployment.ContainsTCPEvent
}

// Deployment returns egID's configured deployment and whether it exists.
func (m *EventgroupManager) Deployment(egID domain.EventgroupID) (domain.EventgroupDeployment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.groups[egID]
	if !ok {
		return domain.EventgroupDeployment{}, false
	}
	return st.deployment, true
}

// State returns egID's current FSM state.
func (m *EventgroupManager) State(egID domain.EventgroupID) domain.EventgroupFSMState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.groups[egID]
	if !ok {
		return domain.StateServiceDown
	}
	return domain.EventgroupFSMState(st.fsm)
}

func (m *EventgroupManager) executeActions(egID domain.EventgroupID, st *eventgroupState, res eventgroup.Result, ctx actionContext) {
	old := st.fsm
	st.fsm = res.New

	if m.metrics != nil && res.Changed {
		m.metrics.SubscriptionState.WithLabelValues(m.serviceLabel, m.instanceLabel, strconv.Itoa(int(egID))).
			Set(float64(res.New))
		m.metrics.SubscriptionTransitions.WithLabelValues(
			m.serviceLabel, m.instanceLabel, strconv.Itoa(int(egID)), old.String(), res.New.String(),
		).Inc()
	}

	for _, a := range res.Actions {
		switch a {
		case eventgroup.ActionSendSubscribeEventgroup:
			m.sendSubscribe(egID, st)
		case eventgroup.ActionSendStopSubscribeEventgroup:
			m.sendStopSubscribe(egID, st)
		case eventgroup.ActionStartListenMulticast:
			m.startListenMulticast(egID, st, ctx.ackMulticast)
		case eventgroup.ActionStopListenMulticast:
			m.stopListenMulticast(egID, st)
		case eventgroup.ActionOnEventgroupSubscribed:
			m.cancelRetryTimer(st)
			m.notify(egID, st, domain.StateSubscribed)
		case eventgroup.ActionArmRetryTimer:
			m.armRetryTimer(egID, st)
		case eventgroup.ActionCancelRetryTimer:
			m.cancelRetryTimer(st)
		case eventgroup.ActionNotifySubscriptionPending:
			m.notify(egID, st, domain.StateSubscriptionPending)
		case eventgroup.ActionLogInvalidAck:
			m.logger.Warn("invalid ack: multicast endpoint without offer UDP support",
				slog.Uint64("eventgroup", uint64(egID)))
		}
	}
}

func (m *EventgroupManager) notify(_ domain.EventgroupID, st *eventgroupState, state domain.SubscriptionState) {
	for eventID := range st.deployment.Events {
		m.dispatcher.NotifyStateChanged(eventID, state)
	}
}

func (m *EventgroupManager) sendSubscribe(egID domain.EventgroupID, st *eventgroupState) {
	if !m.haveDst {
		m.logger.Error("cannot send subscribe: no SD destination", slog.Uint64("eventgroup", uint64(egID)))
		return
	}
	ttl := defaultEventgroupTTL
	var minDelay, maxDelay time.Duration
	if st.timing != nil {
		if st.timing.TTL != 0 {
			ttl = st.timing.TTL
		}
		minDelay = time.Duration(st.timing.ResponseDelayMinNs) * time.Nanosecond
		maxDelay = time.Duration(st.timing.ResponseDelayMaxNs) * time.Nanosecond
	}

	entry, opts, err := m.builder.BuildSubscribe(egID, ttl)
	if err != nil {
		m.logger.Error("build subscribe entry failed", slog.Uint64("eventgroup", uint64(egID)), slog.Any("error", err))
		return
	}
	if err := m.scheduler.ScheduleSubscribeEventgroupEntry(entry, opts, minDelay, maxDelay, m.dst); err != nil {
		m.logger.Error("schedule subscribe entry failed", slog.Uint64("eventgroup", uint64(egID)), slog.Any("error", err))
		return
	}
	if m.metrics != nil {
		m.metrics.SDEntriesSent.WithLabelValues(m.serviceLabel, m.instanceLabel, "SubscribeEventgroup").Inc()
	}
}

func (m *EventgroupManager) sendStopSubscribe(egID domain.EventgroupID, st *eventgroupState) {
	if !m.haveDst {
		return
	}
	entry, opts, err := m.builder.BuildStopSubscribe(egID)
	if err != nil {
		m.logger.Error("build stop-subscribe entry failed", slog.Uint64("eventgroup", uint64(egID)), slog.Any("error", err))
		return
	}
	if err := m.scheduler.ScheduleStopSubscribeEventgroupEntry(entry, opts, m.dst); err != nil {
		m.logger.Error("schedule stop-subscribe entry failed", slog.Uint64("eventgroup", uint64(egID)), slog.Any("error", err))
		return
	}
	if m.metrics != nil {
		m.metrics.SDEntriesSent.WithLabelValues(m.serviceLabel, m.instanceLabel, "StopSubscribeEventgroup").Inc()
	}
}

func (m *EventgroupManager) startListenMulticast(egID domain.EventgroupID, st *eventgroupState, addr *domain.EndpointAddress) {
	if st.multicastJoined {
		return
	}
	st.multicastJoined = true
	m.multicastRefcount++
	if m.multicastRefcount != 1 {
		return
	}
	if addr == nil || m.multicast == nil {
		return
	}
	if err := m.multicast.Join(addr.Addr, addr.Port, ""); err != nil {
		m.logger.Error("join multicast group failed", slog.Uint64("eventgroup", uint64(egID)), slog.Any("error", err))
		return
	}
	if m.metrics != nil {
		m.metrics.MulticastJoins.WithLabelValues(m.serviceLabel, m.instanceLabel, strconv.Itoa(int(egID))).Inc()
	}
}

func (m *EventgroupManager) stopListenMulticast(egID domain.EventgroupID, st *eventgroupState) {
	if !st.multicastJoined {
		return
	}
	st.multicastJoined = false
	m.multicastRefcount--
	if m.multicastRefcount != 0 {
		return
	}
	if m.multicast == nil {
		return
	}
	if err := m.multicast.Leave(); err != nil {
		m.logger.Error("leave multicast group failed", slog.Any("error", err))
		return
	}
	if m.metrics != nil {
		m.metrics.MulticastLeaves.WithLabelValues(m.serviceLabel, m.instanceLabel, strconv.Itoa(int(egID))).Inc()
	}
}

func (m *EventgroupManager) armRetryTimer(egID domain.EventgroupID, st *eventgroupState) {
	if st.timing == nil || st.timing.Retry == nil {
		return
	}
	if !st.retryArmed {
		st.retriesLeft = st.timing.Retry.MaxRetries
		st.retryArmed = true
	}
	if !st.hasRetryTimer {
		st.retryTimer = m.timers.CreateTimer(func() { m.onRetryTimerFired(egID) })
		st.hasRetryTimer = true
	}
	m.timers.Start(st.retryTimer, time.Duration(st.timing.Retry.Delay)*time.Nanosecond)
}

func (m *EventgroupManager) cancelRetryTimer(st *eventgroupState) {
	if st.hasRetryTimer {
		m.timers.Stop(st.retryTimer)
	}
	st.retryArmed = false
}

func (m *EventgroupManager) onRetryTimerFired(egID domain.EventgroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.groups[egID]
	if !ok {
		return
	}

	retriesLeft := st.retriesLeft
	g := eventgroup.Guards{
		RetryConfigured: st.timing != nil && st.timing.Retry != nil,
		RetriesLeft:     retriesLeft,
	}
	res := eventgroup.ApplyEvent(st.fsm, eventgroup.EventRetryTimerFired, g)
	if retriesLeft > 0 {
		st.retriesLeft--
	}
	m.executeActions(egID, st, res, actionContext{})
}
