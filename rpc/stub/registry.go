package stub

import (
	"fmt"
	"sync"

	"github.com/sammck-go/zonerpc/rpc"
)

// Factory wraps a local implementation in the InterfaceStub generated for
// one interface ordinal, if impl satisfies that interface. ok is false if
// impl does not implement the interface this factory is for.
type Factory func(impl rpc.Castable) (is InterfaceStub, ok bool)

// Registry is the stub-factory registry (spec.md §4.1.3, component C4):
// generated code registers one Factory per interface ordinal it compiled,
// and Service.Expose consults every registered factory to build the full
// set of interface-stubs an exposed implementation supports.
type Registry struct {
	mu        sync.RWMutex
	factories map[rpc.InterfaceOrdinal]Factory
}

// NewRegistry returns an empty stub-factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[rpc.InterfaceOrdinal]Factory)}
}

// Register wires a generated factory into the dispatch table. Calling it
// twice for the same ordinal replaces the previous factory -- generated
// bootstrapping code (register_stubs) is expected to be idempotent per
// process, matching the teacher's ChannelProviderRegistry.Register contract.
func (r *Registry) Register(ordinal rpc.InterfaceOrdinal, f Factory) error {
	if f == nil {
		return fmt.Errorf("stub: nil factory for ordinal %s", ordinal)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[ordinal] = f
	return nil
}

// Build runs every registered factory against impl and returns the set of
// interface-stubs it satisfies, keyed by ordinal. Used by Service.Expose to
// populate a freshly created ObjectStub (spec.md §4.1.1 expose()).
func (r *Registry) Build(impl rpc.Castable) map[rpc.InterfaceOrdinal]InterfaceStub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[rpc.InterfaceOrdinal]InterfaceStub)
	for ordinal, factory := range r.factories {
		if is, ok := factory(impl); ok {
			out[ordinal] = is
		}
	}
	return out
}

// Lookup returns the factory registered for ordinal, if any. try_cast does
// not use it: ObjectStub.InterfaceStub answers through Cast on the object's
// existing interface-stubs.
func (r *Registry) Lookup(ordinal rpc.InterfaceOrdinal) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[ordinal]
	return f, ok
}
