package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/zonerpc/rpc"
)

func TestRouterRefusesSelfRoute(t *testing.T) {
	r := NewRouter(rpc.Zone(1), rpc.NewLogger("router", rpc.LogLevelError))
	r.InstallRelay(rpc.Zone(1), rpc.Zone(2))
	_, err := r.Resolve(rpc.DestinationZone(1))
	require.Error(t, err)
}

func TestRouterRelayWithoutDirectIsNotFound(t *testing.T) {
	r := NewRouter(rpc.Zone(1), rpc.NewLogger("router", rpc.LogLevelError))
	r.InstallRelay(rpc.Zone(3), rpc.Zone(2))
	// A relay entry for zone 3 now exists but no direct connection, so
	// resolution fails until a direct link appears somewhere in the chain.
	_, err := r.Resolve(rpc.DestinationZone(3))
	require.Error(t, err)
}

func TestRouterRelayChain(t *testing.T) {
	r := NewRouter(rpc.Zone(1), rpc.NewLogger("router", rpc.LogLevelError))
	r.InstallDirect(rpc.Zone(2), nil)
	r.InstallRelay(rpc.Zone(3), rpc.Zone(2))
	sp, err := r.Resolve(rpc.DestinationZone(3))
	require.NoError(t, err)
	require.Nil(t, sp) // the fake direct entry installed above is a nil placeholder
}

func TestRouterRelayNeverEclipsesDirect(t *testing.T) {
	r := NewRouter(rpc.Zone(1), rpc.NewLogger("router", rpc.LogLevelError))
	r.InstallDirect(rpc.Zone(3), nil)
	r.InstallRelay(rpc.Zone(3), rpc.Zone(2))
	_, ok := r.DirectPeer(rpc.Zone(3))
	require.True(t, ok, "installing a relay must not remove an existing direct entry")
}

func TestRouterRelayCycleIsNotFound(t *testing.T) {
	r := NewRouter(rpc.Zone(1), rpc.NewLogger("router", rpc.LogLevelError))
	// Two relay entries pointing at each other, with no direct entry at the
	// end of the chain, must resolve as not-found rather than loop forever.
	r.relay[rpc.Zone(5)] = rpc.Zone(6)
	r.relay[rpc.Zone(6)] = rpc.Zone(5)
	_, err := r.Resolve(rpc.DestinationZone(5))
	require.Error(t, err)
}
