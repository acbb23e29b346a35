package proxy

import (
	"context"

	"github.com/sammck-go/zonerpc/rpc"
)

// InterfaceProxy is the per-interface typed view over an ObjectProxy
// (spec.md §4.3.2, component C7). It is a thin, normally generated adapter:
// each generated method marshals its inputs, calls Send, and demarshals the
// outputs. This base type carries the bookkeeping generated code needs
// (which object-proxy it is over, which ordinal it dispatches as) so
// generated proxies only have to implement the per-method marshalling, not
// the plumbing.
type InterfaceProxy struct {
	object  *ObjectProxy
	ordinal rpc.InterfaceOrdinal
	// encoding is the encoding this interface-proxy's generated marshalling
	// code was written against. A service-proxy may still fall back to
	// EncodingJSON transparently (spec.md §4.6); InterfaceProxy only needs
	// to know what it asked for.
	encoding rpc.Encoding
}

// NewInterfaceProxy constructs the base InterfaceProxy; generated code
// embeds this and adds typed methods.
func NewInterfaceProxy(object *ObjectProxy, ordinal rpc.InterfaceOrdinal, encoding rpc.Encoding) *InterfaceProxy {
	return &InterfaceProxy{object: object, ordinal: ordinal, encoding: encoding}
}

// Ordinal returns the interface_ordinal this proxy dispatches as.
func (p *InterfaceProxy) Ordinal() rpc.InterfaceOrdinal { return p.ordinal }

// Object returns the ObjectProxy this interface-proxy is a view over.
func (p *InterfaceProxy) Object() *ObjectProxy { return p.object }

// Call marshals nothing itself -- generated code has already produced
// in-bytes -- and simply delegates to the underlying object-proxy's Send,
// using the encoding this interface-proxy was built with (spec.md §4.3.2).
func (p *InterfaceProxy) Call(ctx context.Context, method rpc.Method, in []byte) ([]byte, error) {
	return p.object.Send(ctx, p.ordinal, method, p.encoding, in)
}
