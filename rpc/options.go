package rpc

// AddRefOptions is the flag set carried on an add_ref call that governs
// which topology side effects the router applies (spec.md §4.5.2, §6).
// Absence of both bits means "refcount only, no topology change".
type AddRefOptions uint32

const (
	// BuildDestinationRoute asks the local zone to promise that future
	// messages from the descriptor-originator to destination_zone will be
	// routed through it: a new service-proxy entry is installed pointing at
	// whatever next hop this zone already uses to reach destination_zone.
	BuildDestinationRoute AddRefOptions = 1 << iota

	// BuildCallerRoute asks the zone receiving the descriptor to install a
	// reverse service-proxy back toward the caller, since it will need to
	// originate messages to the caller later (replies, post, release).
	BuildCallerRoute
)

// Has reports whether every bit in want is set in o.
func (o AddRefOptions) Has(want AddRefOptions) bool { return o&want == want }

// PostOptions is the flag set carried on a post (fire-and-forget) call
// (spec.md §4.1.2/§4.5.6/§6).
type PostOptions uint32

const (
	// PostNormal is plain fire-and-forget, no extra semantics.
	PostNormal PostOptions = 0

	// PostZoneTerminating indicates the calling zone is shutting down. The
	// receiving Service releases every reference still held on behalf of
	// this caller as soon as the post arrives; calls from that zone still in
	// flight are not waited for.
	PostZoneTerminating PostOptions = 1 << iota

	// PostReleaseOptimistic marks an optimistic release that need not be
	// strictly accounted -- the caller does not require the balanced-count
	// guarantee (I3) for this particular message.
	PostReleaseOptimistic
)

// Has reports whether every bit in want is set in o.
func (o PostOptions) Has(want PostOptions) bool { return o&want == want }
