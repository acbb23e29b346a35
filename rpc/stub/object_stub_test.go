package stub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/zonerpc/rpc"
)

type fakeHost struct{ zone rpc.Zone }

func (h *fakeHost) Zone() rpc.Zone { return h.zone }

type fakeCastable struct{}

func (fakeCastable) QueryInterface(ordinal rpc.InterfaceOrdinal) (interface{}, bool) {
	return nil, false
}

func TestObjectStubRefCountingBalance(t *testing.T) {
	s := NewObjectStub(&fakeHost{zone: 1}, 7, fakeCastable{})

	s.AddRef(rpc.CallerZone(2), 3)
	s.AddRef(rpc.CallerZone(3), 1)
	require.Equal(t, uint64(4), s.TotalCount())
	require.Equal(t, uint64(3), s.CountFor(rpc.CallerZone(2)))

	remaining, shouldDestroy := s.Release(rpc.CallerZone(2), 3)
	require.Equal(t, uint64(0), remaining)
	require.False(t, shouldDestroy, "caller zone 3 still holds a reference")

	remaining, shouldDestroy = s.Release(rpc.CallerZone(3), 1)
	require.Equal(t, uint64(0), remaining)
	require.True(t, shouldDestroy)
	require.Zero(t, s.TotalCount())
}

func TestObjectStubHeldSurvivesZeroCount(t *testing.T) {
	s := NewObjectStub(&fakeHost{zone: 1}, 7, fakeCastable{})
	s.SetHeld(true)
	s.AddRef(rpc.CallerZone(2), 1)
	_, shouldDestroy := s.Release(rpc.CallerZone(2), 1)
	require.False(t, shouldDestroy, "held stub must survive a momentary zero count")
	s.SetHeld(false)
	// No counters outstanding and no longer held: a fresh release of zero
	// still reports destroy, since there is nothing left keeping it alive.
	_, shouldDestroy = s.Release(rpc.CallerZone(2), 0)
	require.True(t, shouldDestroy)
}

func TestObjectStubReleaseClampsToCurrentCount(t *testing.T) {
	s := NewObjectStub(&fakeHost{zone: 1}, 7, fakeCastable{})
	s.AddRef(rpc.CallerZone(2), 2)
	remaining, shouldDestroy := s.Release(rpc.CallerZone(2), 50)
	require.Equal(t, uint64(0), remaining)
	require.True(t, shouldDestroy)
}

func TestObjectStubGetZone(t *testing.T) {
	s := NewObjectStub(&fakeHost{zone: 42}, 1, fakeCastable{})
	require.Equal(t, rpc.Zone(42), s.GetZone())
}
