package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/zonerpc/examples/calc"
	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/proxy"
	"github.com/sammck-go/zonerpc/rpc/serviceproxy"
	"github.com/sammck-go/zonerpc/rpc/stub"
	"github.com/sammck-go/zonerpc/rpc/transport/inproc"
	"github.com/sammck-go/zonerpc/rpc/wire"
)

func testLogger(t *testing.T) rpc.Logger {
	return rpc.NewLogger(t.Name(), rpc.LogLevelError)
}

func newCalcRegistry() *stub.Registry {
	r := stub.NewRegistry()
	calc.RegisterStubs(r)
	return r
}

// connect wires a and b together with an in-process transport pair and
// returns each side's ServiceProxy onto the other.
func connect(a, b *Service, zoneA, zoneB rpc.Zone) (*serviceproxy.ServiceProxy, *serviceproxy.ServiceProxy) {
	ta, tb := inproc.NewPair()
	spA := a.Connect(zoneB.AsDestination(), ta)
	spB := b.Connect(zoneA.AsDestination(), tb)
	return spA, spB
}

// TestHelloWorldSend exercises the whole stack end to end: a caller in zone
// A invokes a method on an object exposed in zone B, over an in-process
// transport. Because the calc stub only speaks JSON, this also exercises
// the encoding-fallback ladder (spec.md §4.6): the proxy asks for binary and
// transparently degrades to JSON after one INCOMPATIBLE_SERIALISATION round
// trip.
func TestHelloWorldSend(t *testing.T) {
	zoneA, zoneB := rpc.Zone(1), rpc.Zone(2)
	svcA := NewService(zoneA, newCalcRegistry(), testLogger(t))
	svcB := NewService(zoneB, newCalcRegistry(), testLogger(t))
	connect(svcA, svcB, zoneA, zoneB)

	impl := &calc.Impl{}
	descriptor := svcB.Expose(impl)
	require.Equal(t, zoneB.AsDestination(), descriptor.DestinationZone)

	resolved, err := svcA.ResolveInbound(context.Background(), descriptor)
	require.NoError(t, err)
	op, ok := resolved.(*proxy.ObjectProxy)
	require.True(t, ok)

	c := calc.AsICalc(op)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := c.Square(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(49), result)
}

// TestObjectProxyUniqueness asserts I1: resolving the same descriptor twice
// through the same service-proxy returns the identical *proxy.ObjectProxy.
func TestObjectProxyUniqueness(t *testing.T) {
	zoneA, zoneB := rpc.Zone(1), rpc.Zone(2)
	svcA := NewService(zoneA, newCalcRegistry(), testLogger(t))
	svcB := NewService(zoneB, newCalcRegistry(), testLogger(t))
	connect(svcA, svcB, zoneA, zoneB)

	descriptor := svcB.Expose(&calc.Impl{})

	first, err := svcA.ResolveInbound(context.Background(), descriptor)
	require.NoError(t, err)
	second, err := svcA.ResolveInbound(context.Background(), descriptor)
	require.NoError(t, err)
	require.Same(t, first.(*proxy.ObjectProxy), second.(*proxy.ObjectProxy))
}

// TestTryCast exercises spec.md §4.5.5: a supported ordinal succeeds, an
// unsupported one reports INVALID_INTERFACE_ID.
func TestTryCast(t *testing.T) {
	zoneA, zoneB := rpc.Zone(1), rpc.Zone(2)
	svcA := NewService(zoneA, newCalcRegistry(), testLogger(t))
	svcB := NewService(zoneB, newCalcRegistry(), testLogger(t))
	connect(svcA, svcB, zoneA, zoneB)

	descriptor := svcB.Expose(&calc.Impl{})
	resolved, err := svcA.ResolveInbound(context.Background(), descriptor)
	require.NoError(t, err)
	op := resolved.(*proxy.ObjectProxy)

	ctx := context.Background()
	require.NoError(t, op.TryCast(ctx, calc.ICalcOrdinal))

	err = op.TryCast(ctx, rpc.InterfaceOrdinal(0x1234))
	require.Equal(t, rpc.InvalidInterfaceID, err)
}

// TestResolveInboundLocalZoneShortCircuits asserts that a descriptor naming
// this zone's own object resolves directly to the local implementation,
// never through a proxy (I6 in spirit: a zone never routes to itself).
func TestResolveInboundLocalZoneShortCircuits(t *testing.T) {
	zone := rpc.Zone(1)
	svc := NewService(zone, newCalcRegistry(), testLogger(t))
	impl := &calc.Impl{}
	descriptor := svc.Expose(impl)

	resolved, err := svc.ResolveInbound(context.Background(), descriptor)
	require.NoError(t, err)
	gotImpl, ok := resolved.(*calc.Impl)
	require.True(t, ok)
	require.Same(t, impl, gotImpl)
}

// TestMultiHopSend wires three zones A-B-C in a line and routes a call from
// A to an object living in C entirely through B, exercising Router.Resolve's
// relay-chain walk and Service's forwarding path (spec.md §4.5.1). The
// relay entry itself is installed directly here to isolate routing-table
// mechanics from the add_ref wiring that would normally establish it.
func TestMultiHopSend(t *testing.T) {
	zoneA, zoneB, zoneC := rpc.Zone(1), rpc.Zone(2), rpc.Zone(3)
	svcA := NewService(zoneA, newCalcRegistry(), testLogger(t))
	svcB := NewService(zoneB, newCalcRegistry(), testLogger(t))
	svcC := NewService(zoneC, newCalcRegistry(), testLogger(t))

	connect(svcA, svcB, zoneA, zoneB)
	connect(svcB, svcC, zoneB, zoneC)

	// A has no direct link to C; teach its router that C is reachable via B.
	svcA.Router().InstallRelay(zoneC, zoneB)
	// B must forward on to C for zone C's destination.
	// (B's direct link to C was installed by connect() above.)

	descriptor := svcC.Expose(&calc.Impl{})
	resolved, err := svcA.ResolveInbound(context.Background(), descriptor)
	require.NoError(t, err)
	op := resolved.(*proxy.ObjectProxy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := calc.AsICalc(op).Square(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, int64(36), result)
}

// TestHandleSendUnknownObject asserts a descriptor naming a nonexistent
// object reports ZONE_NOT_FOUND rather than panicking.
func TestHandleSendUnknownObject(t *testing.T) {
	zone := rpc.Zone(1)
	svc := NewService(zone, newCalcRegistry(), testLogger(t))
	reply := svc.HandleRequest(context.Background(), nil, wire.Frame{
		Kind:             wire.KindSend,
		DestinationZone:  zone.AsDestination(),
		Object:           rpc.Object(999),
		InterfaceOrdinal: calc.ICalcOrdinal,
		Method:           calc.MethodSquare,
	})
	require.Equal(t, rpc.ZoneNotFound, reply.ResultCode)
}

// TestAddRefInstallsCallerRoute exercises the BuildCallerRoute flag: after
// an inbound add_ref for an object local to this zone, the router can reach
// the caller zone back through the edge the add_ref arrived on.
func TestAddRefInstallsCallerRoute(t *testing.T) {
	zoneA, zoneB := rpc.Zone(1), rpc.Zone(2)
	svcA := NewService(zoneA, newCalcRegistry(), testLogger(t))
	svcB := NewService(zoneB, newCalcRegistry(), testLogger(t))
	spAtoB, _ := connect(svcA, svcB, zoneA, zoneB)
	_ = spAtoB

	descriptor := svcB.Expose(&calc.Impl{})

	reply := svcB.HandleRequest(context.Background(), svcB.router.direct[zoneA], wire.Frame{
		Kind:            wire.KindAddRef,
		CallerZone:      zoneA.AsCaller(),
		DestinationZone: descriptor.DestinationZone,
		Object:          descriptor.Object,
		Count:           1,
		AddRefOptions:   rpc.BuildCallerRoute,
	})
	require.Equal(t, rpc.OK, reply.ResultCode)
	require.Equal(t, uint64(1), reply.Count)

	_, ok := svcB.router.DirectPeer(zoneA)
	require.True(t, ok, "B already had a direct route to A from connect()")

	// A caller zone B has no route to, arriving over the same edge, gains a
	// relay back through A.
	zoneC := rpc.Zone(3)
	reply = svcB.HandleRequest(context.Background(), svcB.router.direct[zoneA], wire.Frame{
		Kind:            wire.KindAddRef,
		CallerZone:      zoneC.AsCaller(),
		DestinationZone: descriptor.DestinationZone,
		Object:          descriptor.Object,
		Count:           1,
		AddRefOptions:   rpc.BuildCallerRoute,
	})
	require.Equal(t, rpc.OK, reply.ResultCode)
	sp, err := svcB.Router().Resolve(zoneC.AsDestination())
	require.NoError(t, err)
	require.Same(t, svcB.router.direct[zoneA], sp)
}
