// Package rpc provides the identifier types, wire-level error taxonomy, and
// the logging/shutdown primitives shared by every other zonerpc package. It
// corresponds to component C1 (identifier & version types), C2 (interface
// descriptor) and C3 (casting interface) of the runtime's design.
package rpc

import "fmt"

// Zone identifies a single isolation boundary: a process, an enclave, a
// thread pool reached over an in-memory queue, or the remote end of a
// transport connection. Exactly one Service lives in each zone.
type Zone uint64

// NoZone is the reserved "no zone" value. A DestinationZone of NoZone is
// always rejected (spec boundary B1).
const NoZone Zone = 0

func (z Zone) String() string { return fmt.Sprintf("zone#%d", uint64(z)) }

// AsDestination converts a Zone to a DestinationZone. The conversion is
// always explicit: the three routing-coordinate types below share Zone's
// value space but are distinct Go types so that passing a zone in the wrong
// routing slot is a compile error, not a runtime bug.
func (z Zone) AsDestination() DestinationZone { return DestinationZone(z) }

// AsCaller converts a Zone to a CallerZone.
func (z Zone) AsCaller() CallerZone { return CallerZone(z) }

// AsCallerChannel converts a Zone to a CallerChannelZone.
func (z Zone) AsCallerChannel() CallerChannelZone { return CallerChannelZone(z) }

// DestinationZone is the zone a message (send/try_cast/add_ref/release/post)
// is ultimately addressed to.
type DestinationZone uint64

func (z DestinationZone) String() string { return fmt.Sprintf("dest#%d", uint64(z)) }

// AsZone converts back to a plain Zone, e.g. to compare against a Service's
// own zone id (I6, no self-routing).
func (z DestinationZone) AsZone() Zone { return Zone(z) }

// IsZero reports whether this is the reserved "no destination" value (B1).
func (z DestinationZone) IsZero() bool { return z == 0 }

// CallerZone is the zone that originated a request, carried end to end so a
// callee can attribute per-caller reference counts (spec.md §3, object-stub).
type CallerZone uint64

func (z CallerZone) String() string { return fmt.Sprintf("caller#%d", uint64(z)) }

// AsZone converts back to a plain Zone.
func (z CallerZone) AsZone() Zone { return Zone(z) }

// CallerChannelZone is the zone through which a message is currently being
// relayed -- i.e. the zone id the *previous* hop saw as "local" when it
// forwarded. It may equal CallerZone when the link is direct.
type CallerChannelZone uint64

func (z CallerChannelZone) String() string { return fmt.Sprintf("channel#%d", uint64(z)) }

// AsZone converts back to a plain Zone.
func (z CallerChannelZone) AsZone() Zone { return Zone(z) }

// Object is the per-zone-unique identity of an object-stub. Object(0) is
// reserved for "no object" (spec.md §3).
type Object uint64

// NoObject is the reserved "no object" value.
const NoObject Object = 0

func (o Object) String() string { return fmt.Sprintf("obj#%d", uint64(o)) }

// InterfaceOrdinal is a protocol-version-dependent identifier of an
// interface: the 64-bit fingerprint produced by the (externally specified)
// code generator, reproduced here by package rpc/wire for interfaces that
// choose to compute their own (see spec.md §4.7/§6).
type InterfaceOrdinal uint64

func (i InterfaceOrdinal) String() string { return fmt.Sprintf("iface#%x", uint64(i)) }

// Method is the ordinal of a method within an interface. Method ordinals
// start at 1; Method(0) is reserved and always rejected (spec boundary B3).
type Method uint64

// NoMethod is the reserved, always-invalid method ordinal.
const NoMethod Method = 0

func (m Method) String() string { return fmt.Sprintf("method#%d", uint64(m)) }

// ProtocolVersion is a compile-time enumerated, strictly decreasing sequence
// of supported wire-protocol versions (spec.md §4.6).
type ProtocolVersion uint64

const (
	// ProtocolVersion2 is the oldest version this runtime still speaks.
	ProtocolVersion2 ProtocolVersion = 2
	// ProtocolVersion3 is the newest version this runtime compiles in.
	ProtocolVersion3 ProtocolVersion = 3

	// HighestSupportedVersion is attempted first by a newly constructed
	// service-proxy (state "Negotiating", spec.md §4.4).
	HighestSupportedVersion = ProtocolVersion3

	// LowestSupportedVersion is the floor below which version fallback
	// gives up and surfaces INVALID_VERSION (spec boundary B4).
	LowestSupportedVersion = ProtocolVersion2
)

// SupportedProtocolVersions lists every version this runtime accepts, in
// decreasing order -- the order in which a service-proxy retries.
var SupportedProtocolVersions = []ProtocolVersion{ProtocolVersion3, ProtocolVersion2}
