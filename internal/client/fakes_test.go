package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/wire"
)

// testLogger returns a logger that discards all output, used across this
// package's tests to keep test output free of expected error/warn lines.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it reports true or timeout elapses, failing the
// test otherwise. Used where a fake's callback runs on a goroutine the test
// does not otherwise synchronize with (dial completion, timer fire).
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

// -------------------------------------------------------------------------
// fakeReactor
// -------------------------------------------------------------------------

// fakeReactor runs every posted task and triggered software event
// synchronously, inline with the caller, for deterministic tests that never
// depend on a real loop goroutine's scheduling.
type fakeReactor struct {
	mu       sync.Mutex
	nextSWE  SoftwareEventHandle
	swEvents map[SoftwareEventHandle]func()
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{swEvents: make(map[SoftwareEventHandle]func())}
}

func (r *fakeReactor) Post(fn func()) { fn() }

func (r *fakeReactor) RegisterSoftwareEvent(cb func()) (SoftwareEventHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSWE++
	h := r.nextSWE
	r.swEvents[h] = cb
	return h, nil
}

func (r *fakeReactor) TriggerSoftwareEvent(h SoftwareEventHandle) error {
	r.mu.Lock()
	cb, ok := r.swEvents[h]
	r.mu.Unlock()
	if !ok {
		return errors.New("fakeReactor: unknown software event")
	}
	cb()
	return nil
}

func (r *fakeReactor) UnregisterSoftwareEvent(h SoftwareEventHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.swEvents, h)
	return nil
}

// -------------------------------------------------------------------------
// fakeTimerManager
// -------------------------------------------------------------------------

// fakeTimerManager records created timers without ever scheduling a real
// time.Timer; a test fires one explicitly via Fire.
type fakeTimerManager struct {
	mu      sync.Mutex
	next    TimerHandle
	cbs     map[TimerHandle]func()
	started map[TimerHandle]time.Duration
}

func newFakeTimerManager() *fakeTimerManager {
	return &fakeTimerManager{
		cbs:     make(map[TimerHandle]func()),
		started: make(map[TimerHandle]time.Duration),
	}
}

func (m *fakeTimerManager) CreateTimer(cb func()) TimerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	h := m.next
	m.cbs[h] = cb
	return h
}

func (m *fakeTimerManager) Start(h TimerHandle, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[h] = d
}

func (m *fakeTimerManager) Stop(h TimerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.started, h)
}

// Fire invokes h's registered callback directly, simulating expiry.
func (m *fakeTimerManager) Fire(h TimerHandle) {
	m.mu.Lock()
	cb, ok := m.cbs[h]
	m.mu.Unlock()
	if ok {
		cb()
	}
}

func (m *fakeTimerManager) isStarted(h TimerHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.started[h]
	return ok
}

// -------------------------------------------------------------------------
// fakeMulticastListener
// -------------------------------------------------------------------------

type fakeMulticastListener struct {
	mu      sync.Mutex
	joined  bool
	group   netip.Addr
	port    uint16
	joins   int
	leaves  int
	joinErr error
}

func (f *fakeMulticastListener) Join(group netip.Addr, port uint16, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = true
	f.group = group
	f.port = port
	f.joins++
	return nil
}

func (f *fakeMulticastListener) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = false
	f.leaves++
	return nil
}

func (f *fakeMulticastListener) isJoined() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined
}

// -------------------------------------------------------------------------
// fakeSdScheduler
// -------------------------------------------------------------------------

type scheduledEntry struct {
	entry    wire.Entry
	opts     []wire.EndpointOption
	minDelay time.Duration
	maxDelay time.Duration
	dst      netip.AddrPort
	stop     bool
}

// fakeSdScheduler records every scheduled entry instead of aggregating it
// into a real SD datagram.
type fakeSdScheduler struct {
	mu      sync.Mutex
	entries []scheduledEntry
	err     error
}

func (s *fakeSdScheduler) ScheduleSubscribeEventgroupEntry(e wire.Entry, opts []wire.EndpointOption, minDelay, maxDelay time.Duration, dst netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, scheduledEntry{entry: e, opts: opts, minDelay: minDelay, maxDelay: maxDelay, dst: dst})
	return nil
}

func (s *fakeSdScheduler) ScheduleStopSubscribeEventgroupEntry(e wire.Entry, opts []wire.EndpointOption, dst netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, scheduledEntry{entry: e, opts: opts, dst: dst, stop: true})
	return nil
}

func (s *fakeSdScheduler) lastEntry() (scheduledEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return scheduledEntry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *fakeSdScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// -------------------------------------------------------------------------
// fakeObserver
// -------------------------------------------------------------------------

// fakeObserver records every subscription-state change and payload
// delivered to it, in order, for assertion by the test body.
type fakeObserver struct {
	mu       sync.Mutex
	states   []domain.SubscriptionState
	payloads [][]byte
}

func (o *fakeObserver) OnSubscriptionStateChanged(state domain.SubscriptionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *fakeObserver) OnEventReceived(payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.payloads = append(o.payloads, append([]byte(nil), payload...))
}

func (o *fakeObserver) stateSnapshot() []domain.SubscriptionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.SubscriptionState(nil), o.states...)
}

func (o *fakeObserver) payloadSnapshot() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.payloads...)
}

// -------------------------------------------------------------------------
// fakeSender (TCPSender and UDPSender)
// -------------------------------------------------------------------------

type fakeSender struct {
	mu      sync.Mutex
	remote  netip.AddrPort
	sent    [][]byte
	sendErr error
	closed  bool
}

func (s *fakeSender) Send(_ context.Context, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), buf...))
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) RemoteAddr() netip.AddrPort { return s.remote }

func (s *fakeSender) sentSnapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

func (s *fakeSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// -------------------------------------------------------------------------
// fakeTransportFactory
// -------------------------------------------------------------------------

// fakeTransportFactory hands out fakeSenders recording every dial, and can
// be configured to fail a dial to a specific remote address.
type fakeTransportFactory struct {
	mu         sync.Mutex
	tcpSenders map[netip.AddrPort]*fakeSender
	udpSenders map[netip.AddrPort]*fakeSender
	failTCP    map[netip.AddrPort]error
	failUDP    map[netip.AddrPort]error
	multicast  *fakeMulticastListener
}

func newFakeTransportFactory() *fakeTransportFactory {
	return &fakeTransportFactory{
		tcpSenders: make(map[netip.AddrPort]*fakeSender),
		udpSenders: make(map[netip.AddrPort]*fakeSender),
		failTCP:    make(map[netip.AddrPort]error),
		failUDP:    make(map[netip.AddrPort]error),
		multicast:  &fakeMulticastListener{},
	}
}

func (f *fakeTransportFactory) GetTCPSender(_ context.Context, _, remote netip.AddrPort) (TCPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTCP[remote]; ok {
		return nil, err
	}
	s := &fakeSender{remote: remote}
	f.tcpSenders[remote] = s
	return s, nil
}

func (f *fakeTransportFactory) GetUDPSender(_ context.Context, _, remote netip.AddrPort) (UDPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failUDP[remote]; ok {
		return nil, err
	}
	s := &fakeSender{remote: remote}
	f.udpSenders[remote] = s
	return s, nil
}

func (f *fakeTransportFactory) GetUDPEndpoint(_ netip.AddrPort) (UDPEndpoint, error) {
	return nil, errors.New("fakeTransportFactory: GetUDPEndpoint not supported")
}

func (f *fakeTransportFactory) GetMulticastListener(_ netip.Addr) (EventMulticastListener, error) {
	return f.multicast, nil
}

func (f *fakeTransportFactory) tcpSenderFor(remote netip.AddrPort) *fakeSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tcpSenders[remote]
}

func (f *fakeTransportFactory) udpSenderFor(remote netip.AddrPort) *fakeSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.udpSenders[remote]
}

// -------------------------------------------------------------------------
// fakeSDClient / fakePacketRouter
// -------------------------------------------------------------------------

type fakeSDClient struct {
	mu       sync.Mutex
	handlers map[domain.ServiceInstanceID]SDHandler
}

func newFakeSDClient() *fakeSDClient {
	return &fakeSDClient{handlers: make(map[domain.ServiceInstanceID]SDHandler)}
}

func (c *fakeSDClient) RegisterRemoteServer(id domain.ServiceInstanceID, h SDHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[id] = h
	return nil
}

func (c *fakeSDClient) UnregisterRemoteServer(id domain.ServiceInstanceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
	return nil
}

func (c *fakeSDClient) registered(id domain.ServiceInstanceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[id]
	return ok
}

type fakePacketRouter struct {
	mu       sync.Mutex
	handlers map[domain.ServiceInstanceID]IngressHandler
}

func newFakePacketRouter() *fakePacketRouter {
	return &fakePacketRouter{handlers: make(map[domain.ServiceInstanceID]IngressHandler)}
}

func (r *fakePacketRouter) RegisterRemoteServer(id domain.ServiceInstanceID, h IngressHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
	return nil
}

func (r *fakePacketRouter) UnregisterRemoteServer(id domain.ServiceInstanceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
	return nil
}

func (r *fakePacketRouter) registered(id domain.ServiceInstanceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	return ok
}
