package client

import (
	"log/slog"
	"sync"

	"github.com/dantte-lp/someipd/internal/domain"
)

// EventObserver is the "SubscriptionObserver" of §3: a local application's
// callback for one subscribed event. It is notified of subscription state
// changes (promotion/demotion) and of delivered event/PDU payloads.
//
// This decouples RemoteServer from any concrete application type, the same
// way bfd.StateCallback decouples Manager from external integrations.
type EventObserver interface {
	OnSubscriptionStateChanged(state domain.SubscriptionState)
	OnEventReceived(payload []byte)
}

// ObserverHandle is returned from Subscribe* and passed back to Unsubscribe*
// (§9: "reference-counted handles and a registration key"). The zero value
// is not a valid handle.
type ObserverHandle struct {
	eventID domain.EventID
	key     uint64
}

// clientEventDispatcher owns the registry of observers keyed by EventID
// (§3, §9). One dispatcher exists per RemoteServer.
type clientEventDispatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextKey  uint64
	byEvent  map[domain.EventID]map[uint64]EventObserver
}

func newClientEventDispatcher(logger *slog.Logger) *clientEventDispatcher {
	return &clientEventDispatcher{
		logger:  logger,
		byEvent: make(map[domain.EventID]map[uint64]EventObserver),
	}
}

// Register adds observer for eventID and returns a handle to unregister it.
func (d *clientEventDispatcher) Register(eventID domain.EventID, observer EventObserver) ObserverHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextKey++
	key := d.nextKey

	set, ok := d.byEvent[eventID]
	if !ok {
		set = make(map[uint64]EventObserver)
		d.byEvent[eventID] = set
	}
	set[key] = observer

	return ObserverHandle{eventID: eventID, key: key}
}

// Unregister removes the observer registered under h. It reports whether it
// was the last observer for h's event (the caller uses this to decide
// whether to forward OnUnsubscribe to the eventgroup FSM).
func (d *clientEventDispatcher) Unregister(h ObserverHandle) (last bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.byEvent[h.eventID]
	if !ok {
		return false, ErrObserverNotSubscribed
	}
	if _, ok := set[h.key]; !ok {
		return false, ErrObserverNotSubscribed
	}
	delete(set, h.key)

	if len(set) == 0 {
		delete(d.byEvent, h.eventID)
		return true, nil
	}
	return false, nil
}

// HasObservers reports whether any observer remains registered for eventID.
func (d *clientEventDispatcher) HasObservers(eventID domain.EventID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byEvent[eventID]) > 0
}

// NotifyStateChanged fans state out to every observer of eventID. Each
// observer is invoked inside a recover() wrapper so one observer's panic
// cannot prevent the remaining observers from being notified (§7.1).
func (d *clientEventDispatcher) NotifyStateChanged(eventID domain.EventID, state domain.SubscriptionState) {
	d.mu.Lock()
	observers := make([]EventObserver, 0, len(d.byEvent[eventID]))
	for _, o := range d.byEvent[eventID] {
		observers = append(observers, o)
	}
	d.mu.Unlock()

	for _, o := range observers {
		d.notifyOneState(o, state)
	}
}

func (d *clientEventDispatcher) notifyOneState(o EventObserver, state domain.SubscriptionState) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked handling subscription state change", slog.Any("recovered", r))
		}
	}()
	o.OnSubscriptionStateChanged(state)
}

// NotifyEvent delivers payload to every observer of eventID, same
// per-observer panic containment as NotifyStateChanged.
func (d *clientEventDispatcher) NotifyEvent(eventID domain.EventID, payload []byte) {
	d.mu.Lock()
	observers := make([]EventObserver, 0, len(d.byEvent[eventID]))
	for _, o := range d.byEvent[eventID] {
		observers = append(observers, o)
	}
	d.mu.Unlock()

	for _, o := range observers {
		d.notifyOneEvent(o, payload)
	}
}

func (d *clientEventDispatcher) notifyOneEvent(o EventObserver, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked handling event delivery", slog.Any("recovered", r))
		}
	}()
	o.OnEventReceived(payload)
}
