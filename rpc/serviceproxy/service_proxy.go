package serviceproxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/proxy"
	"github.com/sammck-go/zonerpc/rpc/wire"
)

// Sink is the narrow view of a Service a ServiceProxy needs to dispatch
// inbound traffic arriving over its Transport: enough to route a request or
// post to the local router without package serviceproxy importing package
// service (spec.md §9's note on the router/service-proxy ownership cycle --
// a Service owns one ServiceProxy per peer zone, and each ServiceProxy must
// call back into that same Service for whatever the peer sends it).
type Sink interface {
	// HandleRequest dispatches an inbound send/try_cast/add_ref/release
	// frame and returns the reply frame to marshal back over the wire.
	HandleRequest(ctx context.Context, from *ServiceProxy, f wire.Frame) wire.Frame

	// HandlePost dispatches an inbound fire-and-forget frame. There is
	// nothing to reply with.
	HandlePost(ctx context.Context, from *ServiceProxy, f wire.Frame)
}

// negotiationState tracks where this peer connection sits in the version/
// encoding negotiation described by spec.md §4.4.
type negotiationState int

const (
	stateNegotiating negotiationState = iota
	stateActive
	stateDegradedVersion
	stateDegradedEncoding
	stateTerminal
)

func (s negotiationState) String() string {
	switch s {
	case stateNegotiating:
		return "negotiating"
	case stateActive:
		return "active"
	case stateDegradedVersion:
		return "degraded-version"
	case stateDegradedEncoding:
		return "degraded-encoding"
	case stateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ServiceProxy is component C8: the local zone's single handle onto one
// directly connected peer zone (spec.md §4.4); zones reached through that
// peer by relay share it. It owns the (destination_zone, object) ->
// ObjectProxy map for everything resolved through it (enforcing I1, proxy
// uniqueness) and the version/encoding negotiation
// state machine, and it is both ends of the conversation: outbound calls go
// out over its Transport's RoundTrip/Post, and inbound calls the peer sends
// back arrive through the same Transport and are handed to Sink.
type ServiceProxy struct {
	rpc.Logger

	mu sync.Mutex

	localZone rpc.Zone
	dest      rpc.DestinationZone
	transport Transport
	sink      Sink

	state    negotiationState
	version  rpc.ProtocolVersion
	encoding rpc.Encoding

	// resolveMu serializes the check-add_ref-insert sequence in GetProxy so
	// that two concurrent resolutions of the same (dest, obj) produce
	// exactly one add_ref round trip (I3), not one per racing caller. It is
	// distinct from mu because the add_ref round trip blocks on the network
	// and must not hold mu (roundTripNegotiated re-acquires it internally).
	resolveMu sync.Mutex
	objects   map[objKey]*proxy.ObjectProxy
}

// objKey identifies one ObjectProxy this service-proxy has resolved. Object
// ids are independently minted per zone (Service.Expose's own counter), so
// the same Object value can legitimately name different objects in two
// different destination zones reached as relay targets through this one
// neighbor; keying by the pair keeps I1 scoped correctly.
type objKey struct {
	dest rpc.DestinationZone
	obj  rpc.Object
}

// NewServiceProxy constructs a ServiceProxy fronting transport for the peer
// reachable as dest, and wires the transport's inbound callbacks back to
// sink. Negotiation starts optimistically at the highest version this
// runtime compiles in and the native binary encoding (spec.md §4.4,
// "Negotiating" state).
func NewServiceProxy(localZone rpc.Zone, dest rpc.DestinationZone, transport Transport, sink Sink, logger rpc.Logger) *ServiceProxy {
	sp := &ServiceProxy{
		Logger:    logger,
		localZone: localZone,
		dest:      dest,
		transport: transport,
		sink:      sink,
		state:     stateNegotiating,
		version:   rpc.HighestSupportedVersion,
		encoding:  rpc.EncodingBinary,
		objects:   make(map[objKey]*proxy.ObjectProxy),
	}
	transport.SetHandlers(sp.onRequest, sp.onPost)
	return sp
}

// Destination reports which zone this service-proxy is the handle onto.
func (sp *ServiceProxy) Destination() rpc.DestinationZone { return sp.dest }

// Close tears down the underlying transport.
func (sp *ServiceProxy) Close() error { return sp.transport.Close() }

// GetProxy returns the existing ObjectProxy for (dest, obj) reached through
// this service-proxy, or resolves a brand new one. dest is the object's true
// owning zone; it equals this service-proxy's own Destination() when dest is
// a direct peer, or names a farther zone this service-proxy is merely the
// next hop toward when the route was learned via relay.
//
// This is the single check-add_ref-insert point that enforces I1 (at most
// one ObjectProxy per (this-zone, destination_zone, object) tuple) and I3
// (exactly one add_ref emitted per outstanding reference): the first caller
// to resolve a given tuple blocks here while a real add_ref round trip is
// made to the owning zone; every other caller, racing or not, gets back the
// same *proxy.ObjectProxy via Retain with no additional wire traffic.
func (sp *ServiceProxy) GetProxy(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object) (*proxy.ObjectProxy, error) {
	key := objKey{dest: dest, obj: obj}

	if p, ok := sp.lookupProxy(key); ok {
		p.Retain()
		return p, nil
	}

	sp.resolveMu.Lock()
	defer sp.resolveMu.Unlock()

	if p, ok := sp.lookupProxy(key); ok {
		p.Retain()
		return p, nil
	}

	channelZone := sp.dest.AsZone().AsCallerChannel()
	if _, err := sp.ForwardAddRef(ctx, dest, obj, sp.localZone.AsCaller(), sp.localZone.AsCallerChannel(), channelZone, 1, rpc.NoZone, rpc.BuildCallerRoute); err != nil {
		return nil, err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	p := proxy.NewObjectProxy(sp, dest, obj)
	sp.objects[key] = p
	return p, nil
}

func (sp *ServiceProxy) lookupProxy(key objKey) (*proxy.ObjectProxy, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	p, ok := sp.objects[key]
	return p, ok
}

// Forget implements proxy.Carrier: it removes (dest, obj) from this
// service-proxy's map, called by an ObjectProxy right before it emits its
// final release.
func (sp *ServiceProxy) Forget(dest rpc.DestinationZone, obj rpc.Object) {
	sp.mu.Lock()
	delete(sp.objects, objKey{dest: dest, obj: obj})
	sp.mu.Unlock()
}

// snapshot returns the version/encoding this service-proxy currently
// believes the peer accepts.
func (sp *ServiceProxy) snapshot() (rpc.ProtocolVersion, rpc.Encoding) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.version, sp.encoding
}

// Send implements proxy.Carrier: it round-trips a send frame, retrying
// through the version and encoding fallback ladders of spec.md §4.4/§4.6
// before giving up.
func (sp *ServiceProxy) Send(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, ordinal rpc.InterfaceOrdinal, method rpc.Method, encoding rpc.Encoding, in []byte) ([]byte, error) {
	f := wire.Frame{
		Kind:             wire.KindSend,
		CallerZone:       sp.localZone.AsCaller(),
		DestinationZone:  dest,
		Object:           obj,
		InterfaceOrdinal: ordinal,
		Method:           method,
		Payload:          in,
	}
	reply, err := sp.roundTripNegotiated(ctx, f, encoding)
	if err != nil {
		return nil, err
	}
	if reply.ResultCode != rpc.OK {
		return nil, reply.ResultCode
	}
	return reply.Payload, nil
}

// TryCast implements proxy.Carrier (spec.md §4.5.5).
func (sp *ServiceProxy) TryCast(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, ordinal rpc.InterfaceOrdinal) error {
	f := wire.Frame{
		Kind:             wire.KindTryCast,
		CallerZone:       sp.localZone.AsCaller(),
		DestinationZone:  dest,
		Object:           obj,
		InterfaceOrdinal: ordinal,
	}
	reply, err := sp.roundTripNegotiated(ctx, f, rpc.EncodingJSON)
	if err != nil {
		return err
	}
	if reply.ResultCode != rpc.OK {
		return reply.ResultCode
	}
	return nil
}

// ReleaseRemote implements proxy.Carrier: it fires a release for delta
// references on obj. Release never blocks its caller on a reply -- the
// local ObjectProxy is already gone by the time this runs (spec.md §4.3.1)
// -- but the peer's accounting still needs the message, so it goes out as a
// best-effort post rather than silently dropping errors.
func (sp *ServiceProxy) ReleaseRemote(dest rpc.DestinationZone, obj rpc.Object, delta uint64) {
	version, encoding := sp.snapshot()
	f := wire.Frame{
		Kind:            wire.KindRelease,
		ProtocolVersion: version,
		Encoding:        encoding,
		CallerZone:      sp.localZone.AsCaller(),
		DestinationZone: dest,
		Object:          obj,
		Count:           delta,
	}
	if err := sp.transport.Post(context.Background(), wire.Marshal(f)); err != nil {
		sp.ELogf("release of %s on %s failed: %v", obj, dest, err)
	}
}

// ForwardAddRef sends an add_ref toward this peer on behalf of the router
// (spec.md §4.5.2), returning the remaining/new count the peer reports. dest
// is the add_ref's true destination_zone, callerChannelZone is the zone this
// hop presents as "local" to the peer, and destinationChannelZone is the
// channel (normally this service-proxy's own neighbor) the caller already
// believes reaches dest -- the value later hops compare against their own
// caller_channel to detect the convergence case.
func (sp *ServiceProxy) ForwardAddRef(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, callerZone rpc.CallerZone, callerChannelZone rpc.CallerChannelZone, destinationChannelZone rpc.CallerChannelZone, delta uint64, knownDirectionZone rpc.Zone, options rpc.AddRefOptions) (uint64, error) {
	f := wire.Frame{
		Kind:                   wire.KindAddRef,
		CallerZone:             callerZone,
		CallerChannelZone:      callerChannelZone,
		DestinationChannelZone: destinationChannelZone,
		DestinationZone:        dest,
		Object:                 obj,
		Count:                  delta,
		KnownDirectionZone:     knownDirectionZone,
		AddRefOptions:          options,
	}
	reply, err := sp.roundTripNegotiated(ctx, f, rpc.EncodingJSON)
	if err != nil {
		return 0, err
	}
	if reply.ResultCode != rpc.OK {
		return 0, reply.ResultCode
	}
	return reply.Count, nil
}

// ForwardRelease sends a release toward this peer on behalf of the router,
// returning the peer's remaining count so the router can decide whether its
// own route has gone dark (spec.md §4.5.3).
func (sp *ServiceProxy) ForwardRelease(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, callerZone rpc.CallerZone, delta uint64) (uint64, error) {
	f := wire.Frame{
		Kind:            wire.KindRelease,
		CallerZone:      callerZone,
		DestinationZone: dest,
		Object:          obj,
		Count:           delta,
	}
	reply, err := sp.roundTripNegotiated(ctx, f, rpc.EncodingJSON)
	if err != nil {
		return 0, err
	}
	if reply.ResultCode != rpc.OK {
		return 0, reply.ResultCode
	}
	return reply.Count, nil
}

// ForwardPost relays a fire-and-forget post toward this peer (spec.md
// §4.5.6).
func (sp *ServiceProxy) ForwardPost(ctx context.Context, dest rpc.DestinationZone, obj rpc.Object, ordinal rpc.InterfaceOrdinal, method rpc.Method, encoding rpc.Encoding, in []byte, options rpc.PostOptions) error {
	version, _ := sp.snapshot()
	f := wire.Frame{
		Kind:             wire.KindPost,
		ProtocolVersion:  version,
		Encoding:         encoding,
		CallerZone:       sp.localZone.AsCaller(),
		DestinationZone:  dest,
		Object:           obj,
		InterfaceOrdinal: ordinal,
		Method:           method,
		Payload:          in,
		PostOptions:      options,
	}
	return sp.transport.Post(ctx, wire.Marshal(f))
}

// Forward relays an already-assembled frame to this peer, stamping only
// this hop's own negotiated version/encoding, and returns the reply frame
// verbatim. The router uses this to pass send/try_cast/add_ref/release
// frames on to the next hop without re-deriving them from scratch -- each
// hop negotiates its own version and encoding independently (spec.md §4.4).
func (sp *ServiceProxy) Forward(ctx context.Context, f wire.Frame) (wire.Frame, error) {
	return sp.roundTripNegotiated(ctx, f, f.Encoding)
}

// ForwardFramePost relays an already-assembled frame to this peer as a
// fire-and-forget post, used by the router to pass on inbound posts and
// optimistic releases.
func (sp *ServiceProxy) ForwardFramePost(ctx context.Context, f wire.Frame) error {
	version, _ := sp.snapshot()
	f.ProtocolVersion = version
	return sp.transport.Post(ctx, wire.Marshal(f))
}

// roundTripNegotiated stamps f with this service-proxy's current negotiated
// version/encoding, sends it, and walks the version- and encoding-fallback
// ladders of spec.md §4.4/§4.6 on the corresponding protocol errors. Each
// ladder is walked at most once per call: a version already at
// LowestSupportedVersion surfaces INVALID_VERSION, and an encoding already
// degraded to FallbackEncoding surfaces INCOMPATIBLE_SERIALISATION, instead
// of retrying forever.
func (sp *ServiceProxy) roundTripNegotiated(ctx context.Context, f wire.Frame, wantEncoding rpc.Encoding) (wire.Frame, error) {
	sp.mu.Lock()
	if sp.state == stateTerminal {
		sp.mu.Unlock()
		return wire.Frame{}, rpc.IncompatibleService
	}
	f.ProtocolVersion = sp.version
	if sp.encoding == rpc.FallbackEncoding {
		f.Encoding = rpc.FallbackEncoding
	} else {
		f.Encoding = wantEncoding
	}
	encodingAlreadyDegraded := sp.encoding == rpc.FallbackEncoding
	sp.mu.Unlock()

	for {
		raw, err := sp.transport.RoundTrip(ctx, wire.Marshal(f))
		if err != nil {
			return wire.Frame{}, fmt.Errorf("%w: %v", rpc.TransportError, err)
		}
		reply, err := wire.Unmarshal(raw)
		if err != nil {
			return wire.Frame{}, fmt.Errorf("%w: %v", rpc.InvalidData, err)
		}

		switch reply.ResultCode {
		case rpc.InvalidVersion:
			next, ok := sp.stepDownVersion()
			if !ok {
				sp.markTerminal()
				return wire.Frame{}, rpc.InvalidVersion
			}
			f.ProtocolVersion = next
			continue

		case rpc.IncompatibleSerialisation:
			if encodingAlreadyDegraded || f.Encoding == rpc.FallbackEncoding {
				return wire.Frame{}, rpc.IncompatibleSerialisation
			}
			sp.degradeEncoding()
			f.Encoding = rpc.FallbackEncoding
			encodingAlreadyDegraded = true
			continue
		}

		sp.markActive()
		return reply, nil
	}
}

// stepDownVersion moves to the next-lower supported protocol version,
// reporting false if there is none left to try (spec boundary B4).
func (sp *ServiceProxy) stepDownVersion() (rpc.ProtocolVersion, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, v := range rpc.SupportedProtocolVersions {
		if v < sp.version {
			sp.version = v
			sp.state = stateDegradedVersion
			return v, true
		}
	}
	return 0, false
}

func (sp *ServiceProxy) degradeEncoding() {
	sp.mu.Lock()
	sp.encoding = rpc.FallbackEncoding
	sp.state = stateDegradedEncoding
	sp.mu.Unlock()
}

func (sp *ServiceProxy) markActive() {
	sp.mu.Lock()
	if sp.state == stateNegotiating {
		sp.state = stateActive
	}
	sp.mu.Unlock()
}

func (sp *ServiceProxy) markTerminal() {
	sp.mu.Lock()
	sp.state = stateTerminal
	sp.mu.Unlock()
}

// onRequest is the Transport's RequestHandler: it decodes an inbound
// send/try_cast/add_ref/release frame, hands it to the Sink, and marshals
// the reply.
func (sp *ServiceProxy) onRequest(ctx context.Context, req []byte) []byte {
	f, err := wire.Unmarshal(req)
	if err != nil {
		return wire.Marshal(wire.Frame{Kind: wire.KindReply, ResultCode: rpc.InvalidData})
	}
	reply := sp.sink.HandleRequest(ctx, sp, f)
	reply.Kind = wire.KindReply
	return wire.Marshal(reply)
}

// onPost is the Transport's PostHandler: it decodes an inbound
// fire-and-forget frame and hands it to the Sink. There is no reply to send.
func (sp *ServiceProxy) onPost(ctx context.Context, msg []byte) {
	f, err := wire.Unmarshal(msg)
	if err != nil {
		sp.ELogf("discarding malformed post from %s: %v", sp.dest, err)
		return
	}
	sp.sink.HandlePost(ctx, sp, f)
}
