// Package wire implements the bit-compact wire-level protocol named in
// spec.md §6: the fixed per-message envelope (protocol version, encoding,
// the three routing-coordinate zones, object, interface ordinal, method)
// plus an opaque payload, and the deterministic interface/struct fingerprint
// scheme of spec.md §4.7. Payload *bodies* stay opaque bytes -- the
// serialization codec that produces them is an external collaborator.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sammck-go/zonerpc/rpc"
)

// Kind discriminates which of the five callee-surface operations
// (spec.md §4.1.1) a Frame carries, plus the Reply kind used for every
// response.
type Kind uint64

const (
	KindSend Kind = iota + 1
	KindTryCast
	KindAddRef
	KindRelease
	KindPost
	KindReply
)

// Frame is the wire form of every message exchanged between two zones'
// services: send, try_cast, add_ref, release, post, and their replies
// (spec.md §4.1.1, §6). A single struct covers all of them because they
// share almost every field; Kind says which ones are meaningful.
type Frame struct {
	Kind Kind

	ProtocolVersion   rpc.ProtocolVersion
	Encoding          rpc.Encoding
	CallerChannelZone rpc.CallerChannelZone
	CallerZone        rpc.CallerZone
	DestinationZone   rpc.DestinationZone
	Object            rpc.Object
	InterfaceOrdinal  rpc.InterfaceOrdinal
	Method            rpc.Method
	Payload           []byte

	// add_ref-only fields (spec.md §4.5.2).
	DestinationChannelZone rpc.CallerChannelZone
	KnownDirectionZone     rpc.Zone
	AddRefOptions          rpc.AddRefOptions

	// post-only field (spec.md §4.5.6).
	PostOptions rpc.PostOptions

	// Count is the in/out reference count on add_ref/release, and the
	// replied-with remaining count on their Reply frames.
	Count uint64

	// ResultCode carries a Reply frame's outcome: rpc.OK, one of the other
	// frozen rpc.Code values, or an application error code at or above the
	// reserved ceiling, passed through verbatim (spec.md §7).
	ResultCode rpc.Code
}

const (
	fieldKind protowire.Number = iota + 1
	fieldProtocolVersion
	fieldEncoding
	fieldCallerChannelZone
	fieldCallerZone
	fieldDestinationZone
	fieldObject
	fieldInterfaceOrdinal
	fieldMethod
	fieldPayload
	fieldDestinationChannelZone
	fieldKnownDirectionZone
	fieldAddRefOptions
	fieldPostOptions
	fieldCount
	fieldResultCode
)

// Marshal encodes a Frame using protobuf-wire varints for every scalar
// field and a length-delimited field for the payload -- the bit-compact
// encoding spec.md §6 calls for. Field tags are fixed above; do not
// renumber them, or older peers mid-rollout will misparse live traffic.
func Marshal(f Frame) []byte {
	var b []byte
	b = appendVarintField(b, fieldKind, uint64(f.Kind))
	b = appendVarintField(b, fieldProtocolVersion, uint64(f.ProtocolVersion))
	b = appendVarintField(b, fieldEncoding, uint64(f.Encoding))
	b = appendVarintField(b, fieldCallerChannelZone, uint64(f.CallerChannelZone))
	b = appendVarintField(b, fieldCallerZone, uint64(f.CallerZone))
	b = appendVarintField(b, fieldDestinationZone, uint64(f.DestinationZone))
	b = appendVarintField(b, fieldObject, uint64(f.Object))
	b = appendVarintField(b, fieldInterfaceOrdinal, uint64(f.InterfaceOrdinal))
	b = appendVarintField(b, fieldMethod, uint64(f.Method))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)
	b = appendVarintField(b, fieldDestinationChannelZone, uint64(f.DestinationChannelZone))
	b = appendVarintField(b, fieldKnownDirectionZone, uint64(f.KnownDirectionZone))
	b = appendVarintField(b, fieldAddRefOptions, uint64(f.AddRefOptions))
	b = appendVarintField(b, fieldPostOptions, uint64(f.PostOptions))
	b = appendVarintField(b, fieldCount, f.Count)
	b = appendVarintField(b, fieldResultCode, uint64(f.ResultCode))
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal decodes bytes produced by Marshal. Unknown fields are skipped so
// future additions stay wire-compatible with older readers, the same
// versioning posture the rest of the protocol uses (spec.md §4.6).
func Unmarshal(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("wire: invalid varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				f.Kind = Kind(v)
			case fieldProtocolVersion:
				f.ProtocolVersion = rpc.ProtocolVersion(v)
			case fieldEncoding:
				f.Encoding = rpc.Encoding(v)
			case fieldCallerChannelZone:
				f.CallerChannelZone = rpc.CallerChannelZone(v)
			case fieldCallerZone:
				f.CallerZone = rpc.CallerZone(v)
			case fieldDestinationZone:
				f.DestinationZone = rpc.DestinationZone(v)
			case fieldObject:
				f.Object = rpc.Object(v)
			case fieldInterfaceOrdinal:
				f.InterfaceOrdinal = rpc.InterfaceOrdinal(v)
			case fieldMethod:
				f.Method = rpc.Method(v)
			case fieldDestinationChannelZone:
				f.DestinationChannelZone = rpc.CallerChannelZone(v)
			case fieldKnownDirectionZone:
				f.KnownDirectionZone = rpc.Zone(v)
			case fieldAddRefOptions:
				f.AddRefOptions = rpc.AddRefOptions(v)
			case fieldPostOptions:
				f.PostOptions = rpc.PostOptions(v)
			case fieldCount:
				f.Count = v
			case fieldResultCode:
				f.ResultCode = rpc.Code(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("wire: invalid bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldPayload {
				f.Payload = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("wire: invalid field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}

// MarshalDescriptor encodes an InterfaceDescriptor exactly as it travels
// inside a parameter slot: the (destination_zone, object) pair, each as a
// varint, tagged 1 and 2. This is the only form an object reference takes
// inside an opaque payload (spec.md §3).
func MarshalDescriptor(d rpc.InterfaceDescriptor) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(d.DestinationZone))
	b = appendVarintField(b, 2, uint64(d.Object))
	return b
}

// UnmarshalDescriptor decodes bytes produced by MarshalDescriptor.
func UnmarshalDescriptor(b []byte) (rpc.InterfaceDescriptor, error) {
	var d rpc.InterfaceDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.VarintType {
			return rpc.InterfaceDescriptor{}, fmt.Errorf("wire: invalid descriptor tag")
		}
		b = b[n:]
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return rpc.InterfaceDescriptor{}, fmt.Errorf("wire: invalid descriptor varint")
		}
		b = b[n:]
		switch num {
		case 1:
			d.DestinationZone = rpc.DestinationZone(v)
		case 2:
			d.Object = rpc.Object(v)
		}
	}
	return d, nil
}
