package serviceproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/wire"
)

// fakeTransport is a direct Transport stand-in that answers RoundTrip with a
// canned ResultCode chosen by the test, without any peer at all -- used to
// drive ServiceProxy's negotiation ladders in isolation.
type fakeTransport struct {
	roundTrip func(ctx context.Context, req wire.Frame) wire.Frame
	closed    bool
}

func (f *fakeTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := wire.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	reply := f.roundTrip(ctx, req)
	return wire.Marshal(reply), nil
}

func (f *fakeTransport) Post(ctx context.Context, payload []byte) error { return nil }
func (f *fakeTransport) SetHandlers(RequestHandler, PostHandler)        {}
func (f *fakeTransport) Close() error                                  { f.closed = true; return nil }

type fakeSink struct{}

func (fakeSink) HandleRequest(ctx context.Context, from *ServiceProxy, f wire.Frame) wire.Frame {
	return wire.Frame{ResultCode: rpc.OK}
}
func (fakeSink) HandlePost(ctx context.Context, from *ServiceProxy, f wire.Frame) {}

func TestSendSucceedsWithoutDegradation(t *testing.T) {
	ft := &fakeTransport{roundTrip: func(ctx context.Context, req wire.Frame) wire.Frame {
		require.Equal(t, rpc.HighestSupportedVersion, req.ProtocolVersion)
		return wire.Frame{ResultCode: rpc.OK, Payload: []byte("ok")}
	}}
	sp := NewServiceProxy(rpc.Zone(1), rpc.DestinationZone(2), ft, fakeSink{}, rpc.NewLogger("t", rpc.LogLevelError))
	out, err := sp.Send(context.Background(), rpc.DestinationZone(2), rpc.Object(1), rpc.InterfaceOrdinal(1), rpc.Method(1), rpc.EncodingBinary, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(out))
}

// TestVersionFallback simulates a peer that only accepts the lowest
// supported protocol version, forcing the ladder all the way down
// (spec.md §4.4/§4.6, boundary B4).
func TestVersionFallback(t *testing.T) {
	ft := &fakeTransport{roundTrip: func(ctx context.Context, req wire.Frame) wire.Frame {
		if req.ProtocolVersion != rpc.LowestSupportedVersion {
			return wire.Frame{ResultCode: rpc.InvalidVersion}
		}
		return wire.Frame{ResultCode: rpc.OK, Payload: []byte("ok")}
	}}
	sp := NewServiceProxy(rpc.Zone(1), rpc.DestinationZone(2), ft, fakeSink{}, rpc.NewLogger("t", rpc.LogLevelError))
	out, err := sp.Send(context.Background(), rpc.DestinationZone(2), rpc.Object(1), rpc.InterfaceOrdinal(1), rpc.Method(1), rpc.EncodingBinary, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(out))
}

// TestVersionFallbackExhausted asserts INVALID_VERSION surfaces once every
// supported version has been tried (spec boundary B4).
func TestVersionFallbackExhausted(t *testing.T) {
	ft := &fakeTransport{roundTrip: func(ctx context.Context, req wire.Frame) wire.Frame {
		return wire.Frame{ResultCode: rpc.InvalidVersion}
	}}
	sp := NewServiceProxy(rpc.Zone(1), rpc.DestinationZone(2), ft, fakeSink{}, rpc.NewLogger("t", rpc.LogLevelError))
	_, err := sp.Send(context.Background(), rpc.DestinationZone(2), rpc.Object(1), rpc.InterfaceOrdinal(1), rpc.Method(1), rpc.EncodingBinary, nil)
	require.Equal(t, rpc.InvalidVersion, err)
}

// TestEncodingFallback simulates a peer whose stub only understands JSON,
// exercising the one-shot encoding degrade of spec boundary B5.
func TestEncodingFallback(t *testing.T) {
	ft := &fakeTransport{roundTrip: func(ctx context.Context, req wire.Frame) wire.Frame {
		if req.Encoding != rpc.FallbackEncoding {
			return wire.Frame{ResultCode: rpc.IncompatibleSerialisation}
		}
		return wire.Frame{ResultCode: rpc.OK, Payload: []byte("ok")}
	}}
	sp := NewServiceProxy(rpc.Zone(1), rpc.DestinationZone(2), ft, fakeSink{}, rpc.NewLogger("t", rpc.LogLevelError))
	out, err := sp.Send(context.Background(), rpc.DestinationZone(2), rpc.Object(1), rpc.InterfaceOrdinal(1), rpc.Method(1), rpc.EncodingBinary, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(out))
}

// TestEncodingFallbackExhausted asserts the degrade only happens once.
func TestEncodingFallbackExhausted(t *testing.T) {
	ft := &fakeTransport{roundTrip: func(ctx context.Context, req wire.Frame) wire.Frame {
		return wire.Frame{ResultCode: rpc.IncompatibleSerialisation}
	}}
	sp := NewServiceProxy(rpc.Zone(1), rpc.DestinationZone(2), ft, fakeSink{}, rpc.NewLogger("t", rpc.LogLevelError))
	_, err := sp.Send(context.Background(), rpc.DestinationZone(2), rpc.Object(1), rpc.InterfaceOrdinal(1), rpc.Method(1), rpc.EncodingBinary, nil)
	require.Equal(t, rpc.IncompatibleSerialisation, err)
}

func TestGetProxyUniquenessAndForget(t *testing.T) {
	var addRefs int
	ft := &fakeTransport{roundTrip: func(ctx context.Context, req wire.Frame) wire.Frame {
		if req.Kind == wire.KindAddRef {
			addRefs++
		}
		return wire.Frame{ResultCode: rpc.OK, Count: 1}
	}}
	sp := NewServiceProxy(rpc.Zone(1), rpc.DestinationZone(2), ft, fakeSink{}, rpc.NewLogger("t", rpc.LogLevelError))
	a, err := sp.GetProxy(context.Background(), rpc.DestinationZone(2), rpc.Object(5))
	require.NoError(t, err)
	b, err := sp.GetProxy(context.Background(), rpc.DestinationZone(2), rpc.Object(5))
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, addRefs, "a second GetProxy for the same tuple must not emit a second add_ref (I3)")

	a.Release()
	b.Release()
	c, err := sp.GetProxy(context.Background(), rpc.DestinationZone(2), rpc.Object(5))
	require.NoError(t, err)
	require.NotSame(t, a, c, "after the last holder releases, a fresh GetProxy must build a new ObjectProxy")
	require.Equal(t, 2, addRefs, "a fresh resolution after teardown must add_ref again")
}
