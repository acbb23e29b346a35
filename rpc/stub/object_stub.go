// Package stub implements the callee side of the runtime: object-stubs
// (component C4), interface-stubs (component C5), and the stub-factory
// registry a Service uses to wrap a freshly exposed implementation
// (spec.md §4.1.3, §4.2).
package stub

import (
	"sync"

	"github.com/sammck-go/zonerpc/rpc"
)

// Host is the minimal view of a Service an ObjectStub needs: a weak
// back-reference used only to report the local zone id. Teardown itself is
// driven by the service, which owns the object -> ObjectStub map and acts
// on Release's shouldDestroy result; this keeps the ownership direction
// service -> stub one-way, per spec.md §9's "cyclic stub/service
// relationship" note, without requiring stub to import service.
type Host interface {
	Zone() rpc.Zone
}

// ObjectStub is the callee-side owner of one concrete object instance
// (spec.md §3/§4.2.1, component C4). It holds the implementation, the
// object id the local service minted for it, a set of interface-stubs
// indexed by ordinal, and one reference count per distinct caller zone that
// has been handed a reference.
type ObjectStub struct {
	mu sync.Mutex

	host  Host
	obj   rpc.Object
	impl  rpc.Castable
	ifaces map[rpc.InterfaceOrdinal]InterfaceStub

	// counts[z] is the number of outstanding references caller zone z holds
	// on this object. An entry is created on first add_ref for that caller
	// and removed once it returns to zero.
	counts map[rpc.CallerZone]uint64

	// held, when true, keeps the stub alive even if every per-caller count
	// is zero -- e.g. the service itself is holding it for bookkeeping
	// reasons beyond external references (spec.md §3, object-stub lifecycle).
	held bool
}

// NewObjectStub creates an ObjectStub for impl, identified by obj within
// host's zone. Interface-stubs are added afterward via AddInterfaceStub as
// the stub-factory registry resolves each interface impl satisfies.
func NewObjectStub(host Host, obj rpc.Object, impl rpc.Castable) *ObjectStub {
	return &ObjectStub{
		host:   host,
		obj:    obj,
		impl:   impl,
		ifaces: make(map[rpc.InterfaceOrdinal]InterfaceStub),
		counts: make(map[rpc.CallerZone]uint64),
	}
}

// Object returns this stub's locally-unique object id.
func (s *ObjectStub) Object() rpc.Object { return s.obj }

// Implementation returns the concrete instance this stub wraps.
func (s *ObjectStub) Implementation() rpc.Castable { return s.impl }

// GetZone returns the weak back-link to the owning service's zone
// (spec.md §4.2.1, get_zone()).
func (s *ObjectStub) GetZone() rpc.Zone { return s.host.Zone() }

// GetCastableInterface returns the concrete implementation's casting
// interface for intra-zone typing (spec.md §4.2.1).
func (s *ObjectStub) GetCastableInterface() rpc.Castable { return s.impl }

// AddInterfaceStub registers the dispatch surface for one interface this
// object's implementation satisfies. Called by the stub-factory registry
// while building the stub (spec.md §4.1.3).
func (s *ObjectStub) AddInterfaceStub(ordinal rpc.InterfaceOrdinal, is InterfaceStub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ifaces[ordinal] = is
}

// InterfaceStub looks up the dispatch surface for ordinal, or
// INVALID_INTERFACE_ID semantics (ok=false) if this object does not expose
// it (spec boundary B2).
func (s *ObjectStub) InterfaceStub(ordinal rpc.InterfaceOrdinal) (InterfaceStub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.ifaces[ordinal]
	if ok {
		return is, true
	}
	// Fall back to a dynamic cast through any already-registered
	// interface-stub, mirroring query_interface's role as the origin of
	// try_cast (spec.md §3).
	for _, existing := range s.ifaces {
		if cast, ok := existing.Cast(ordinal); ok {
			s.ifaces[ordinal] = cast
			return cast, true
		}
	}
	return nil, false
}

// SetHeld pins (or unpins) the stub independent of per-caller counts -- used
// by the service when it needs the stub to outlive a momentary zero count
// (e.g. while a reference is mid-flight across a route, spec.md §7's
// "unwind the route" boundary case).
func (s *ObjectStub) SetHeld(held bool) {
	s.mu.Lock()
	s.held = held
	s.mu.Unlock()
}

// AddRef increments the reference count attributed to callerZone by delta,
// registering callerZone on first use (spec.md §4.2.1).
func (s *ObjectStub) AddRef(callerZone rpc.CallerZone, delta uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[callerZone] += delta
	return s.counts[callerZone]
}

// Release decrements the reference count attributed to callerZone by delta.
// It returns the remaining count for that caller and whether the stub, as a
// whole, should now be torn down: every per-caller counter at zero and not
// otherwise held (spec.md §4.2.1).
func (s *ObjectStub) Release(callerZone rpc.CallerZone, delta uint64) (remaining uint64, shouldDestroy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.counts[callerZone]
	if delta > cur {
		delta = cur
	}
	cur -= delta
	if cur == 0 {
		delete(s.counts, callerZone)
	} else {
		s.counts[callerZone] = cur
	}
	shouldDestroy = len(s.counts) == 0 && !s.held
	return cur, shouldDestroy
}

// TotalCount returns the sum of every per-caller-zone reference count, used
// by tests asserting the balanced-count invariant I3.
func (s *ObjectStub) TotalCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, c := range s.counts {
		total += c
	}
	return total
}

// CountFor returns the current reference count for a specific caller zone.
func (s *ObjectStub) CountFor(callerZone rpc.CallerZone) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[callerZone]
}
