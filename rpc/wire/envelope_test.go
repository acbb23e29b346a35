package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/zonerpc/rpc"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Kind:                   KindAddRef,
		ProtocolVersion:        rpc.ProtocolVersion3,
		Encoding:               rpc.EncodingJSON,
		CallerChannelZone:      rpc.CallerChannelZone(11),
		CallerZone:             rpc.CallerZone(7),
		DestinationZone:        rpc.DestinationZone(9),
		Object:                 rpc.Object(42),
		InterfaceOrdinal:       rpc.InterfaceOrdinal(0xdeadbeef),
		Method:                 rpc.Method(3),
		Payload:                []byte("hello world"),
		DestinationChannelZone: rpc.CallerChannelZone(13),
		KnownDirectionZone:     rpc.Zone(5),
		AddRefOptions:          rpc.BuildCallerRoute | rpc.BuildDestinationRoute,
		PostOptions:            rpc.PostZoneTerminating,
		Count:                  99,
		ResultCode:             rpc.OK,
	}

	got, err := Unmarshal(Marshal(f))
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	f := Frame{Kind: KindReply, ResultCode: rpc.ZoneNotFound}
	got, err := Unmarshal(Marshal(f))
	require.NoError(t, err)
	require.Equal(t, f.Kind, got.Kind)
	require.Equal(t, f.ResultCode, got.ResultCode)
	require.Empty(t, got.Payload)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	// A future field beyond fieldResultCode must not break an older reader.
	b := Marshal(Frame{Kind: KindSend, Object: 5})
	b = appendVarintField(b, fieldResultCode+1, 123456)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, rpc.Object(5), got.Object)
}

func TestDescriptorRoundTrip(t *testing.T) {
	d := rpc.InterfaceDescriptor{DestinationZone: 77, Object: 3}
	got, err := UnmarshalDescriptor(MarshalDescriptor(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestUnmarshalInvalidTag(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)
}
