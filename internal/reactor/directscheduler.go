package reactor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/dantte-lp/someipd/internal/client"
	"github.com/dantte-lp/someipd/internal/wire"
)

// DirectScheduler is a minimal reference implementation of the consumed
// client.SdScheduler interface (§4.7). It does not aggregate entries into
// shared SD datagrams the way a production scheduler would: each Schedule*
// call encodes and sends its entry as its own single-entry SD message, after
// waiting out the requested [minDelay, maxDelay] jitter window on the
// Reactor's timer (the jitter pick itself is grounded on bfd.Session's
// rand.IntN-based jitter in internal/bfd/session.go). It exists for tests
// and the cmd/someipd demo wiring named in §4.7, not as a production
// aggregator.
type DirectScheduler struct {
	rtr      *Reactor
	factory  client.TransportFactory
	local    netip.AddrPort
	sessions *client.SessionIDAllocator
	logger   *slog.Logger
}

// NewDirectScheduler returns a DirectScheduler that sends SD datagrams from
// local using senders obtained from factory, scheduling delays on rtr.
func NewDirectScheduler(rtr *Reactor, factory client.TransportFactory, local netip.AddrPort, logger *slog.Logger) *DirectScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectScheduler{
		rtr:      rtr,
		factory:  factory,
		local:    local,
		sessions: client.NewSessionIDAllocator(),
		logger:   logger,
	}
}

// ScheduleSubscribeEventgroupEntry implements client.SdScheduler.
func (s *DirectScheduler) ScheduleSubscribeEventgroupEntry(
	e wire.Entry, opts []wire.EndpointOption, minDelay, maxDelay time.Duration, dst netip.AddrPort,
) error {
	s.schedule(e, opts, minDelay, maxDelay, dst)
	return nil
}

// ScheduleStopSubscribeEventgroupEntry implements client.SdScheduler. A
// stop is always sent immediately, never jittered (§4.7).
func (s *DirectScheduler) ScheduleStopSubscribeEventgroupEntry(
	e wire.Entry, opts []wire.EndpointOption, dst netip.AddrPort,
) error {
	s.schedule(e, opts, 0, 0, dst)
	return nil
}

func (s *DirectScheduler) schedule(e wire.Entry, opts []wire.EndpointOption, minDelay, maxDelay time.Duration, dst netip.AddrPort) {
	delay := minDelay
	if maxDelay > minDelay {
		delay = minDelay + time.Duration(rand.Int64N(int64(maxDelay-minDelay))) //nolint:gosec // G404: jitter does not require cryptographic randomness
	}

	timer := s.rtr.CreateTimer(func() {
		s.send(e, opts, dst)
	})
	s.rtr.Start(timer, delay)
}

func (s *DirectScheduler) send(e wire.Entry, opts []wire.EndpointOption, dst netip.AddrPort) {
	msg := wire.SDMessage{
		SessionID: s.sessions.Next(dst.Addr()),
		Flags:     wire.FlagUnicast,
		Entries:   []wire.Entry{e},
		Options:   opts,
	}

	bufp := wire.BufferPool.Get().(*[]byte)
	defer wire.BufferPool.Put(bufp)

	n, err := wire.MarshalSDMessage(msg, *bufp)
	if err != nil {
		s.logger.Error("direct scheduler: marshal sd message failed", slog.Any("error", err))
		return
	}

	sender, err := s.factory.GetUDPSender(context.Background(), s.local, dst)
	if err != nil {
		s.logger.Error("direct scheduler: get udp sender failed", slog.Any("error", err), slog.String("dst", dst.String()))
		return
	}
	defer func() { _ = sender.Close() }()

	if err := sender.Send(context.Background(), (*bufp)[:n]); err != nil {
		s.logger.Error("direct scheduler: send sd message failed", slog.Any("error", err), slog.String("dst", dst.String()))
	}
}
