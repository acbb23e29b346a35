// Package service implements component C9 (Service) and component C10
// (Router): the per-zone runtime that owns every local object-stub, holds
// one ServiceProxy per reachable peer zone, and dispatches the five
// callee-surface operations -- send, try_cast, add_ref, release, post --
// either locally or onward through the router (spec.md §4.1-§4.5).
package service

import (
	"context"
	"sync"

	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/proxy"
	"github.com/sammck-go/zonerpc/rpc/serviceproxy"
	"github.com/sammck-go/zonerpc/rpc/stub"
	"github.com/sammck-go/zonerpc/rpc/wire"
)

// ProxyUnwrapper is implemented by generated interface-proxy wrappers that
// want to pass a reference they did not originate back out transparently,
// rather than have the Service re-expose their underlying ObjectProxy as a
// brand new local object. This is what makes the Y-topology case work: zone
// B, handed a reference to an object living in zone C, can hand that same
// reference on to zone A without C ever hearing about B (spec.md §4.1
// expose()/resolve(), the "object references may flow through an
// intermediate zone" case).
type ProxyUnwrapper interface {
	ZoneRPCObjectProxy() *proxy.ObjectProxy
}

// Service is the root runtime object for one zone (spec.md §3, component
// C9). Exactly one exists per zone; it owns the object -> ObjectStub map,
// the stub-factory registry, and the Router that finds a next hop for any
// zone this service has learned how to reach.
type Service struct {
	rpc.ShutdownHelper

	mu         sync.Mutex
	zone       rpc.Zone
	registry   *stub.Registry
	router     *Router
	objects    map[rpc.Object]*stub.ObjectStub
	nextObject rpc.Object
}

// NewService constructs a Service for zone, using registry to build
// interface-stubs for every exposed implementation.
func NewService(zone rpc.Zone, registry *stub.Registry, logger rpc.Logger) *Service {
	s := &Service{
		zone:     zone,
		registry: registry,
		objects:  make(map[rpc.Object]*stub.ObjectStub),
	}
	s.router = NewRouter(zone, logger.Fork("router"))
	s.InitShutdownHelper(logger, s)
	return s
}

// HandleOnceShutdown satisfies rpc.OnceShutdownHandler: nothing extra to do
// beyond what ShutdownHelper already tracks via its wait group.
func (s *Service) HandleOnceShutdown(completionError error) error { return completionError }

// Zone returns this service's own zone id. Satisfies stub.Host.
func (s *Service) Zone() rpc.Zone { return s.zone }

// Router exposes the routing table so a transport layer can install direct
// peer connections as it accepts or dials them.
func (s *Service) Router() *Router { return s.router }

// Connect wires transport in as the connection to peer zone dest: it builds
// a ServiceProxy fronting it, installs the direct route, and returns the
// ServiceProxy so the caller can obtain object-proxies over it (e.g. a
// bootstrap root object descriptor learned out of band).
func (s *Service) Connect(dest rpc.DestinationZone, transport serviceproxy.Transport) *serviceproxy.ServiceProxy {
	sp := serviceproxy.NewServiceProxy(s.zone, dest, transport, s, s.Logger.Fork("peer %s", dest))
	s.router.InstallDirect(dest.AsZone(), sp)
	return sp
}

// Expose wraps impl in a freshly minted ObjectStub, building its
// interface-stub set from the registry, and returns the descriptor a remote
// caller uses to reach it (spec.md §4.1 expose()). The new stub starts
// pinned (held) since no caller has add_ref'd it yet; Unexpose releases that
// pin once the exposing code is done publishing the descriptor.
func (s *Service) Expose(impl rpc.Castable) rpc.InterfaceDescriptor {
	s.mu.Lock()
	s.nextObject++
	obj := s.nextObject
	st := stub.NewObjectStub(s, obj, impl)
	for ordinal, is := range s.registry.Build(impl) {
		st.AddInterfaceStub(ordinal, is)
	}
	st.SetHeld(true)
	s.objects[obj] = st
	s.mu.Unlock()
	return rpc.InterfaceDescriptor{DestinationZone: s.zone.AsDestination(), Object: obj}
}

// Unexpose releases Expose's initial pin on obj. If no caller zone holds a
// reference, the stub is torn down immediately.
func (s *Service) Unexpose(obj rpc.Object) {
	st, ok := s.lookupStub(obj)
	if !ok {
		return
	}
	st.SetHeld(false)
	if st.TotalCount() == 0 {
		s.destroyStub(obj)
	}
}

func (s *Service) lookupStub(obj rpc.Object) (*stub.ObjectStub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.objects[obj]
	return st, ok
}

func (s *Service) destroyStub(obj rpc.Object) {
	s.mu.Lock()
	delete(s.objects, obj)
	s.mu.Unlock()
}

// ResolveInbound turns a descriptor arriving from the wire into a usable
// local handle (spec.md §4.1 resolve()): a descriptor pointing at this zone
// resolves straight to the already-local implementation (no self-proxy, I6);
// any other destination resolves to an ObjectProxy over the route the
// router already knows, which issues a real add_ref to the owning zone the
// first time this (destination, object) tuple is seen (I3).
func (s *Service) ResolveInbound(ctx context.Context, d rpc.InterfaceDescriptor) (interface{}, error) {
	if d.IsZero() {
		return nil, rpc.InvalidData
	}
	if d.DestinationZone.AsZone() == s.zone {
		st, ok := s.lookupStub(d.Object)
		if !ok {
			return nil, rpc.ZoneNotFound
		}
		return st.Implementation(), nil
	}
	sp, err := s.router.Resolve(d.DestinationZone)
	if err != nil {
		return nil, err
	}
	return sp.GetProxy(ctx, d.DestinationZone, d.Object)
}

// PrepareOutbound exposes impl so a remote peer can reach it (spec.md §4.1
// expose()). A value that already wraps a remote ObjectProxy is passed
// through untouched, pointing at its original zone, instead of being
// re-exposed as a new local object.
func (s *Service) PrepareOutbound(impl rpc.Castable) (rpc.InterfaceDescriptor, error) {
	if pu, ok := impl.(ProxyUnwrapper); ok {
		return pu.ZoneRPCObjectProxy().Descriptor(), nil
	}
	return s.Expose(impl), nil
}

// HandleRequest satisfies serviceproxy.Sink: it dispatches one inbound
// send/try_cast/add_ref/release frame, either against a local object-stub or
// by forwarding it to the next hop (spec.md §4.1.2).
func (s *Service) HandleRequest(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame) wire.Frame {
	switch f.Kind {
	case wire.KindSend:
		return s.handleSend(ctx, from, f)
	case wire.KindTryCast:
		return s.handleTryCast(ctx, from, f)
	case wire.KindAddRef:
		return s.handleAddRef(ctx, from, f)
	case wire.KindRelease:
		return s.handleRelease(ctx, from, f, true)
	default:
		return errorReply(rpc.InvalidData)
	}
}

// HandlePost satisfies serviceproxy.Sink: it dispatches one inbound
// fire-and-forget frame.
func (s *Service) HandlePost(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame) {
	switch f.Kind {
	case wire.KindRelease:
		s.handleRelease(ctx, from, f, false)
	case wire.KindPost:
		s.handlePostMessage(ctx, from, f)
	default:
		s.ELogf("discarding post with unexpected kind %d from %s", f.Kind, from.Destination())
	}
}

// nextHop resolves dest to the ServiceProxy that should receive a forwarded
// frame, rejecting both an unroutable destination and the degenerate loop
// of forwarding a message straight back to the zone it arrived from (spec
// boundary, I6 in spirit: never bounce a message back the way it came).
func (s *Service) nextHop(from *serviceproxy.ServiceProxy, dest rpc.DestinationZone) (*serviceproxy.ServiceProxy, rpc.Code) {
	sp, err := s.router.Resolve(dest)
	if err != nil {
		if code, ok := rpc.AsCode(err); ok {
			return nil, code
		}
		return nil, rpc.TransportError
	}
	if from != nil && sp.Destination() == from.Destination() {
		return nil, rpc.TransportError
	}
	return sp, rpc.OK
}

func (s *Service) handleSend(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame) wire.Frame {
	if f.DestinationZone.AsZone() == s.zone {
		return s.dispatchLocalSend(ctx, f)
	}
	sp, code := s.nextHop(from, f.DestinationZone)
	if code != rpc.OK {
		return errorReply(code)
	}
	reply, err := sp.Forward(ctx, f)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return reply
}

func (s *Service) dispatchLocalSend(ctx context.Context, f wire.Frame) wire.Frame {
	if f.Method == rpc.NoMethod {
		return errorReply(rpc.InvalidMethodID)
	}
	st, ok := s.lookupStub(f.Object)
	if !ok {
		return errorReply(rpc.ZoneNotFound)
	}
	is, ok := st.InterfaceStub(f.InterfaceOrdinal)
	if !ok {
		return errorReply(rpc.InvalidInterfaceID)
	}
	if !is.SupportsEncoding(f.Encoding) {
		return errorReply(rpc.IncompatibleSerialisation)
	}
	out, err := s.callWithRecover(ctx, is, f.Method, f.Payload)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return wire.Frame{ResultCode: rpc.OK, Payload: out}
}

func (s *Service) callWithRecover(ctx context.Context, is stub.InterfaceStub, method rpc.Method, in []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.ELogf("recovered panic dispatching method %s: %v", method, r)
			out, err = nil, rpc.Exception
		}
	}()
	return is.Call(ctx, method, s, in)
}

func (s *Service) handleTryCast(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame) wire.Frame {
	if f.DestinationZone.AsZone() == s.zone {
		st, ok := s.lookupStub(f.Object)
		if !ok {
			return errorReply(rpc.ZoneNotFound)
		}
		if _, ok := st.InterfaceStub(f.InterfaceOrdinal); !ok {
			return errorReply(rpc.InvalidInterfaceID)
		}
		return wire.Frame{ResultCode: rpc.OK}
	}
	sp, code := s.nextHop(from, f.DestinationZone)
	if code != rpc.OK {
		return errorReply(code)
	}
	reply, err := sp.Forward(ctx, f)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return reply
}

// handleAddRef implements the reference-count protocol and its topology side
// effects (spec.md §4.5.2). At the terminal hop it credits the object-stub's
// per-caller count; otherwise it forwards, rewriting the two fields the
// next hop needs to see (outgoing caller_channel is this zone as seen by the
// next hop; known_direction_zone is updated to record this zone so any
// further unknown-destination propagation downstream has a hint) and, per
// the AddRefOptions flags, teaching the router new relay routes:
//
//   - BuildCallerRoute installs a relay back to the caller zone via the edge
//     this add_ref arrived on, so later replies/releases/posts addressed to
//     the caller need no further hinting.
//   - BuildDestinationRoute, combined with KnownDirectionZone, teaches this
//     hop that KnownDirectionZone is reachable via the same edge it is using
//     to reach destination_zone -- the Y-topology convergence hint: an
//     intermediate zone learns that two zones on opposite sides of it share
//     a next hop, without dialing anything new.
//
// A third case, checked before any next-hop lookup: if destination_channel
// equals the channel this add_ref arrived on (from's own neighbor zone),
// the originator already believes destination is reached the same way the
// caller reached us -- there is no separate next hop to discover. Re-use
// from's edge directly and let this zone's own table shortcut future lookups
// of destination straight to it.
func (s *Service) handleAddRef(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame) wire.Frame {
	if f.DestinationZone.AsZone() == s.zone {
		st, ok := s.lookupStub(f.Object)
		if !ok {
			return errorReply(rpc.ZoneNotFound)
		}
		total := st.AddRef(f.CallerZone, f.Count)
		if f.AddRefOptions.Has(rpc.BuildCallerRoute) && from != nil {
			s.router.InstallRelay(f.CallerZone.AsZone(), from.Destination().AsZone())
		}
		return wire.Frame{ResultCode: rpc.OK, Count: total}
	}

	if from != nil && f.AddRefOptions.Has(rpc.BuildDestinationRoute) &&
		f.DestinationChannelZone.AsZone() == from.Destination().AsZone() {
		s.router.InstallRelay(f.DestinationZone.AsZone(), from.Destination().AsZone())
		f.CallerChannelZone = s.zone.AsCallerChannel()
		f.KnownDirectionZone = s.zone
		reply, err := from.Forward(ctx, f)
		if err != nil {
			return errorReply(codeFromErr(err))
		}
		return reply
	}

	sp, code := s.nextHop(from, f.DestinationZone)
	if code != rpc.OK {
		return errorReply(code)
	}
	if f.AddRefOptions.Has(rpc.BuildCallerRoute) && from != nil {
		s.router.InstallRelay(f.CallerZone.AsZone(), from.Destination().AsZone())
	}
	if f.AddRefOptions.Has(rpc.BuildDestinationRoute) && f.KnownDirectionZone != rpc.NoZone {
		s.router.InstallRelay(f.KnownDirectionZone, sp.Destination().AsZone())
	}
	f.CallerChannelZone = s.zone.AsCallerChannel()
	f.KnownDirectionZone = s.zone
	reply, err := sp.Forward(ctx, f)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return reply
}

// handleRelease implements spec.md §4.5.3. wantReply distinguishes the two
// paths it can be reached from: a forwarded release that another hop is
// waiting on a reply for (wantReply=true, arrived via HandleRequest), versus
// a best-effort release an ObjectProxy fired as it was destroyed locally
// (wantReply=false, arrived via HandlePost) -- both share the same
// accounting logic.
func (s *Service) handleRelease(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame, wantReply bool) wire.Frame {
	if f.DestinationZone.AsZone() == s.zone {
		st, ok := s.lookupStub(f.Object)
		if !ok {
			if wantReply {
				return errorReply(rpc.ZoneNotFound)
			}
			return wire.Frame{}
		}
		remaining, shouldDestroy := st.Release(f.CallerZone, f.Count)
		if shouldDestroy {
			s.destroyStub(f.Object)
		}
		if wantReply {
			return wire.Frame{ResultCode: rpc.OK, Count: remaining}
		}
		return wire.Frame{}
	}

	sp, code := s.nextHop(from, f.DestinationZone)
	if code != rpc.OK {
		if wantReply {
			return errorReply(code)
		}
		return wire.Frame{}
	}
	if wantReply {
		reply, err := sp.Forward(ctx, f)
		if err != nil {
			return errorReply(codeFromErr(err))
		}
		return reply
	}
	if err := sp.ForwardFramePost(ctx, f); err != nil {
		s.ELogf("forwarding release toward %s failed: %v", f.DestinationZone, err)
	}
	return wire.Frame{}
}

// handlePostMessage implements spec.md §4.5.6, including the
// PostZoneTerminating drain: when the originating zone reports it is
// shutting down, every reference it still holds on local objects is
// released immediately rather than waiting for explicit release messages
// that a terminating zone may never get to send.
func (s *Service) handlePostMessage(ctx context.Context, from *serviceproxy.ServiceProxy, f wire.Frame) {
	if f.DestinationZone.AsZone() == s.zone {
		if f.PostOptions.Has(rpc.PostZoneTerminating) {
			s.drainCallerZone(f.CallerZone)
			return
		}
		st, ok := s.lookupStub(f.Object)
		if !ok {
			s.WLogf("post for unknown object %s", f.Object)
			return
		}
		is, ok := st.InterfaceStub(f.InterfaceOrdinal)
		if !ok {
			s.WLogf("post for unknown interface %s on object %s", f.InterfaceOrdinal, f.Object)
			return
		}
		if _, err := s.callWithRecover(ctx, is, f.Method, f.Payload); err != nil {
			s.WLogf("post dispatch for object %s failed: %v", f.Object, err)
		}
		return
	}

	sp, code := s.nextHop(from, f.DestinationZone)
	if code != rpc.OK {
		s.WLogf("cannot forward post toward %s: %s", f.DestinationZone, code)
		return
	}
	if err := sp.ForwardFramePost(ctx, f); err != nil {
		s.ELogf("forwarding post toward %s failed: %v", f.DestinationZone, err)
	}
}

// drainCallerZone releases every outstanding reference callerZone holds on
// any local object-stub, used when that zone announces it is terminating
// (spec.md §4.5.6 zone_terminating).
func (s *Service) drainCallerZone(callerZone rpc.CallerZone) {
	s.mu.Lock()
	stubs := make([]*stub.ObjectStub, 0, len(s.objects))
	objs := make([]rpc.Object, 0, len(s.objects))
	for obj, st := range s.objects {
		stubs = append(stubs, st)
		objs = append(objs, obj)
	}
	s.mu.Unlock()

	for i, st := range stubs {
		count := st.CountFor(callerZone)
		if count == 0 {
			continue
		}
		_, shouldDestroy := st.Release(callerZone, count)
		if shouldDestroy {
			s.destroyStub(objs[i])
		}
	}
}

func errorReply(code rpc.Code) wire.Frame {
	return wire.Frame{ResultCode: code}
}

func codeFromErr(err error) rpc.Code {
	if code, ok := rpc.AsCode(err); ok {
		return code
	}
	return rpc.TransportError
}
