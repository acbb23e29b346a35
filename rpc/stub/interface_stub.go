package stub

import (
	"context"

	"github.com/sammck-go/zonerpc/rpc"
)

// InterfaceStub is the per-interface dispatch surface on an ObjectStub
// (spec.md §4.2.2, component C5). Code-generator output implements this for
// each interface a concrete type supports; the core's contract is only this
// vtable-like surface.
type InterfaceStub interface {
	// Ordinal returns the interface_ordinal this stub dispatches for.
	Ordinal() rpc.InterfaceOrdinal

	// SupportsEncoding reports whether this stub's generated marshalling
	// code can decode/encode the given wire encoding. Every interface-stub
	// MUST return true for rpc.EncodingJSON (spec.md §6).
	SupportsEncoding(e rpc.Encoding) bool

	// Call dispatches one method: decodes in-bytes (resolving any inbound
	// interface-descriptors into proxies via the supplied Resolver),
	// invokes the concrete implementation, and encodes the result. Any
	// panic raised by the implementation must be recovered by the caller
	// and converted to rpc.Exception (spec.md §4.1.2 step 5) -- InterfaceStub
	// implementations are not required to recover internally.
	Call(ctx context.Context, method rpc.Method, resolver Resolver, in []byte) (out []byte, err error)

	// Cast is the callee side of try_cast: it returns another InterfaceStub
	// over the same underlying object if the implementation also satisfies
	// target, or ok=false (spec.md §4.2.2).
	Cast(target rpc.InterfaceOrdinal) (InterfaceStub, bool)
}

// Resolver turns an inbound interface-descriptor parameter into a locally
// usable form during demarshalling, and an outbound local reference into a
// descriptor during marshalling (spec.md §4.1.2 step 4). It is implemented
// by the owning Service; InterfaceStub implementations receive one per Call
// so they never need to import package service.
type Resolver interface {
	// ResolveInbound turns a descriptor received from the wire into a typed
	// proxy handle, installing routes/stubs as needed (spec.md §4.1
	// resolve()). Resolving a descriptor naming a different zone issues a
	// real add_ref to the owning service-proxy, which is a blocking call --
	// hence ctx.
	ResolveInbound(ctx context.Context, d rpc.InterfaceDescriptor) (interface{}, error)

	// PrepareOutbound exposes a local implementation so a remote caller may
	// reach it, returning the descriptor to embed in the outgoing payload
	// (spec.md §4.1 expose()).
	PrepareOutbound(impl rpc.Castable) (rpc.InterfaceDescriptor, error)
}
