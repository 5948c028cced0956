package sdmsg_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/dantte-lp/someipd/internal/domain"
	"github.com/dantte-lp/someipd/internal/sdmsg"
	"github.com/dantte-lp/someipd/internal/wire"
)

func testDeployment() map[domain.EventgroupID]domain.EventgroupDeployment {
	return map[domain.EventgroupID]domain.EventgroupDeployment{
		0x0010: {ContainsUDPEvent: true},
		0x0020: {ContainsTCPEvent: true},
	}
}

func testOffer() domain.ActiveOfferEntry {
	return domain.ActiveOfferEntry{
		ServiceDeploymentID: domain.ServiceDeploymentID{ServiceID: 0x1234, MajorVersion: 1},
		InstanceID:          0x0001,
	}
}

func TestBuildSubscribeWithoutOfferFails(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	_, _, err := b.BuildSubscribe(0x0010, 3)
	if !errors.Is(err, sdmsg.ErrNoActiveOffer) {
		t.Fatalf("err = %v, want ErrNoActiveOffer", err)
	}
}

func TestBuildSubscribeUnknownEventgroupFails(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())

	_, _, err := b.BuildSubscribe(0x9999, 3)
	if !errors.Is(err, sdmsg.ErrUnknownEventgroup) {
		t.Fatalf("err = %v, want ErrUnknownEventgroup", err)
	}
}

func TestBuildSubscribeTCPEventgroupRequiresRegistration(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())

	_, _, err := b.BuildSubscribe(0x0020, 3)
	if !errors.Is(err, sdmsg.ErrTCPEndpointNotRegistered) {
		t.Fatalf("err = %v, want ErrTCPEndpointNotRegistered", err)
	}

	b.RegisterLocalTCPEndpoint(netip.MustParseAddrPort("192.0.2.5:30509"))
	entry, opts, err := b.BuildSubscribe(0x0020, 3)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	if len(opts) != 1 || opts[0].Protocol != wire.L4TCP {
		t.Fatalf("opts = %+v, want one TCP endpoint option", opts)
	}
	if entry.ServiceID != 0x1234 || entry.InstanceID != 0x0001 || entry.MajorVersion != 1 {
		t.Fatalf("entry identity mismatch: %+v", entry)
	}
	if entry.EventgroupID != 0x0020 || entry.TTL != 3 {
		t.Fatalf("entry = %+v, want eventgroup 0x0020 ttl 3", entry)
	}
}

func TestBuildSubscribeUDPEventgroupNoOptionsWithoutCustomEndpoint(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())

	entry, opts, err := b.BuildSubscribe(0x0010, 3)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	if len(opts) != 0 {
		t.Fatalf("opts = %+v, want none (no dynamic UDP endpoint supplied)", opts)
	}
	if entry.NumOpts1 != 0 {
		t.Fatalf("NumOpts1 = %d, want 0", entry.NumOpts1)
	}
}

func TestBuildSubscribeCustomEndpointOverridesDynamic(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())
	b.RegisterLocalTCPEndpoint(netip.MustParseAddrPort("192.0.2.5:30509"))

	custom := &domain.EndpointAddress{
		Addr:     netip.MustParseAddr("198.51.100.9"),
		Port:     30999,
		Protocol: domain.L4TCP,
	}
	b.SetCustomSubscriptionEndpoints(custom, nil)

	_, opts, err := b.BuildSubscribe(0x0020, 3)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	if len(opts) != 1 || opts[0].Port != 30999 {
		t.Fatalf("opts = %+v, want the custom endpoint's port 30999", opts)
	}
}

func TestBuildStopSubscribeHasTTLZeroAndMatchingOptions(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())
	b.RegisterLocalTCPEndpoint(netip.MustParseAddrPort("192.0.2.5:30509"))

	entry, opts, err := b.BuildStopSubscribe(0x0020)
	if err != nil {
		t.Fatalf("BuildStopSubscribe: %v", err)
	}
	if entry.TTL != 0 {
		t.Fatalf("TTL = %d, want 0", entry.TTL)
	}
	if entry.EventgroupID != 0x0020 {
		t.Fatalf("EventgroupID = %#x, want 0x0020", entry.EventgroupID)
	}
	if len(opts) != 1 || opts[0].Protocol != wire.L4TCP {
		t.Fatalf("opts = %+v, want the same TCP endpoint option a Subscribe would carry", opts)
	}
	if entry.NumOpts1 != 1 {
		t.Fatalf("NumOpts1 = %d, want 1", entry.NumOpts1)
	}
}

func TestBuildStopSubscribeUnknownEventgroupFails(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())

	_, _, err := b.BuildStopSubscribe(0x9999)
	if !errors.Is(err, sdmsg.ErrUnknownEventgroup) {
		t.Fatalf("err = %v, want ErrUnknownEventgroup", err)
	}
}

func TestCounterAdvancesAndWrapsPerEventgroup(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())

	var last uint8
	for i := 0; i < 20; i++ {
		entry, _, err := b.BuildSubscribe(0x0010, 3)
		if err != nil {
			t.Fatalf("BuildSubscribe: %v", err)
		}
		if i > 0 {
			want := (last + 1) & 0x0F
			if entry.Counter != want {
				t.Fatalf("iteration %d: counter = %d, want %d", i, entry.Counter, want)
			}
		}
		last = entry.Counter
	}
}

func TestClearActiveOfferRequiresReSetBeforeBuild(t *testing.T) {
	t.Parallel()

	b := sdmsg.NewBuilder(testDeployment())
	b.SetActiveOffer(testOffer())
	b.ClearActiveOffer()

	_, _, err := b.BuildSubscribe(0x0010, 3)
	if !errors.Is(err, sdmsg.ErrNoActiveOffer) {
		t.Fatalf("err = %v, want ErrNoActiveOffer after ClearActiveOffer", err)
	}
}
