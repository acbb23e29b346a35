// Package proxy implements the caller side of the runtime: object-proxies
// (component C6) and interface-proxies (component C7), per spec.md §4.3.
package proxy

import (
	"context"
	"sync"

	"github.com/sammck-go/zonerpc/rpc"
)

// Carrier is the narrow view of a service-proxy an ObjectProxy needs: enough
// to issue remote calls and the final release, without package proxy
// importing package serviceproxy (which itself imports proxy to build
// object-proxies -- see spec.md §9's "cyclic ownership between object-proxy
// and service-proxy").
type Carrier interface {
	// Send delegates a method call to the transport (spec.md §4.3.1). dest
	// is the object's true owning zone, which need not be this carrier's own
	// neighbor when the carrier is itself only the next hop toward it.
	Send(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, ordinal rpc.InterfaceOrdinal, method rpc.Method, encoding rpc.Encoding, in []byte) (out []byte, err error)

	// TryCast delegates a try_cast query to the transport.
	TryCast(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, ordinal rpc.InterfaceOrdinal) error

	// ReleaseRemote emits a release for delta references on obj. It is
	// called exactly once per ObjectProxy, when its local holder count
	// drops to zero (spec.md §4.3.1: "on destruction, emits a release").
	ReleaseRemote(dest rpc.DestinationZone, obj rpc.Object, delta uint64)

	// Forget removes (dest, obj) from the carrier's map; it is invoked by
	// ObjectProxy itself right before ReleaseRemote so that a concurrent
	// GetProxy cannot resurrect a proxy that is already being torn down
	// (enforces I1 across the teardown race).
	Forget(dest rpc.DestinationZone, obj rpc.Object)
}

// ObjectProxy is the caller-side handle to one remote object (spec.md
// §3/§4.3.1, component C6). Exactly one exists per (this-zone,
// destination_zone, object) tuple (I1); the owning service-proxy enforces
// that uniqueness at construction via check-then-insert.
type ObjectProxy struct {
	mu sync.Mutex

	carrier Carrier
	dest    rpc.DestinationZone
	object  rpc.Object

	ifaces map[rpc.InterfaceOrdinal]*InterfaceProxy

	// holders is the number of local references to this proxy: the
	// resolution that created it plus one per Retain. Building an
	// InterfaceProxy over it does not change the count. It starts at 1 and
	// is NOT the same counter as the object-stub's per-caller-zone count on
	// the callee side.
	holders uint64
}

// NewObjectProxy constructs an ObjectProxy. Callers should use the owning
// service-proxy's GetProxy, which enforces proxy uniqueness (I1); this
// constructor itself performs no registration.
func NewObjectProxy(carrier Carrier, dest rpc.DestinationZone, object rpc.Object) *ObjectProxy {
	return &ObjectProxy{
		carrier: carrier,
		dest:    dest,
		object:  object,
		ifaces:  make(map[rpc.InterfaceOrdinal]*InterfaceProxy),
		holders: 1,
	}
}

// Descriptor returns the (destination_zone, object) this proxy points at.
func (p *ObjectProxy) Descriptor() rpc.InterfaceDescriptor {
	return rpc.InterfaceDescriptor{DestinationZone: p.dest, Object: p.object}
}

// Retain increments the local holder count, e.g. when a second local caller
// acquires the same already-resolved proxy.
func (p *ObjectProxy) Retain() {
	p.mu.Lock()
	p.holders++
	p.mu.Unlock()
}

// Release decrements the local holder count. When it reaches zero this is
// the ObjectProxy's "destruction" (spec.md §4.3.1): it removes itself from
// the carrier's map and emits a release on the service-proxy for the
// accumulated delta.
func (p *ObjectProxy) Release() {
	p.mu.Lock()
	if p.holders == 0 {
		p.mu.Unlock()
		return
	}
	p.holders--
	dead := p.holders == 0
	p.mu.Unlock()

	if dead {
		p.carrier.Forget(p.dest, p.object)
		p.carrier.ReleaseRemote(p.dest, p.object, 1)
	}
}

// InterfaceProxy returns the existing per-interface view over this object,
// constructing one via newFn on first use.
func (p *ObjectProxy) InterfaceProxy(ordinal rpc.InterfaceOrdinal, newFn func(*ObjectProxy) *InterfaceProxy) *InterfaceProxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ip, ok := p.ifaces[ordinal]; ok {
		return ip
	}
	ip := newFn(p)
	p.ifaces[ordinal] = ip
	return ip
}

// Send delegates to the owning service-proxy (spec.md §4.3.1).
func (p *ObjectProxy) Send(ctx context.Context, ordinal rpc.InterfaceOrdinal, method rpc.Method, encoding rpc.Encoding, in []byte) ([]byte, error) {
	return p.carrier.Send(ctx, p.dest, p.object, ordinal, method, encoding, in)
}

// TryCast asks the callee whether the target object also supports a
// different interface (spec.md §3, §4.5.5).
func (p *ObjectProxy) TryCast(ctx context.Context, ordinal rpc.InterfaceOrdinal) error {
	return p.carrier.TryCast(ctx, p.dest, p.object, ordinal)
}
