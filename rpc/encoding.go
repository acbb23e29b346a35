package rpc

// Encoding identifies the concrete serialization format used for a call's
// opaque payload (spec.md §6). The codec itself -- turning Go values into
// bytes of a given encoding -- is an external collaborator; the core only
// needs to agree on, negotiate, and tag which one is in play.
type Encoding uint64

const (
	// EncodingUnknown is the zero value; never sent on the wire.
	EncodingUnknown Encoding = iota

	// EncodingBinary is the runtime's native encoding for hand-written
	// stubs in this repo (gob-encoded payload behind the protowire
	// envelope, see rpc/wire).
	EncodingBinary

	// EncodingCompressedBinary is EncodingBinary with the payload
	// flate-compressed.
	EncodingCompressedBinary

	// EncodingJSON is the universally required fallback encoding: every
	// interface-stub MUST support it (spec.md §6).
	EncodingJSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingCompressedBinary:
		return "compressed-binary"
	case EncodingJSON:
		return "json"
	default:
		return "unknown"
	}
}

// FallbackEncoding is the encoding a service-proxy retries with exactly once
// after an INCOMPATIBLE_SERIALISATION reply (spec boundary B5).
const FallbackEncoding = EncodingJSON
