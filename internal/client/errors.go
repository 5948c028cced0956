package client

import (
	"errors"
	"fmt"

	"github.com/dantte-lp/someipd/internal/wire"
)

// ErrMalformedMessage re-exports internal/wire's sentinel so callers of this
// package never need to import internal/wire just to check errors.Is.
var ErrMalformedMessage = wire.ErrMalformedMessage

// Sentinel errors returned by RemoteServer's local-caller operations (§7).
var (
	ErrUnknownMethod               = errors.New("client: method not in deployment")
	ErrServiceNotOffered            = errors.New("client: no active offer")
	ErrConnectionNotAvailable       = errors.New("client: sender not available for protocol")
	ErrConnectionTransmissionFailed = errors.New("client: transport send failed")

	// ErrObserverNotSubscribed is returned by Unsubscribe* when the given
	// handle was never registered, or was already removed.
	ErrObserverNotSubscribed = errors.New("client: observer not subscribed")

	// ErrUnknownEventgroup mirrors internal/sdmsg's sentinel for eventgroup
	// IDs outside the configured deployment.
	ErrUnknownEventgroup = errors.New("client: unknown eventgroup")
)

// FatalPreconditionError models §5/§7's "FatalPrecondition — abort":
// reactor software-event registration/unregistration failures, and any
// observed violation of a documented precondition (e.g. an observer
// re-entering a RemoteServer public API from within its own notification
// callback). Detecting one of these conditions panics with this error
// type; it is never returned to a caller as a normal error value.
type FatalPreconditionError struct {
	Reason string
}

func (e FatalPreconditionError) Error() string {
	return fmt.Sprintf("client: fatal precondition violated: %s", e.Reason)
}

// fatal panics with a FatalPreconditionError, the one place this package
// aborts rather than returning an error.
func fatal(reason string) {
	panic(FatalPreconditionError{Reason: reason})
}
