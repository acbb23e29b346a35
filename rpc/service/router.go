package service

import (
	"sync"

	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/serviceproxy"
)

// maxRelayHops bounds how many relay indirections resolve will walk before
// giving up, so a bad relay table (which should never arise, but topology
// wiring is driven by untrusted add_ref hints from peers) fails as
// ZONE_NOT_FOUND instead of looping forever.
const maxRelayHops = 32

// Router is component C10: the per-zone table mapping a destination zone to
// the next hop that reaches it (spec.md §4.5.1). Two kinds of entries exist:
//
//   - direct: a live ServiceProxy, installed when this zone actually holds a
//     Transport connection to the peer (explicit topology wiring, e.g. the
//     inproc or websocket transport layer accepting or dialing a peer).
//   - relay: "reach zone X by forwarding through zone Y's entry", installed
//     from the known_direction_zone hint and the BuildCallerRoute/
//     BuildDestinationRoute flags on an add_ref (spec.md §4.5.2). This is how
//     an intermediate zone in a Y topology learns it can reach the far side
//     of the Y without a new direct connection of its own.
//
// A direct entry always wins over a relay entry for the same zone; installed
// once, a relay entry is never allowed to eclipse it (I4, route coverage,
// shouldn't regress once a real connection exists).
type Router struct {
	mu     sync.Mutex
	local  rpc.Zone
	direct map[rpc.Zone]*serviceproxy.ServiceProxy
	relay  map[rpc.Zone]rpc.Zone
	logger rpc.Logger
}

// NewRouter returns an empty Router for the zone identified by local.
func NewRouter(local rpc.Zone, logger rpc.Logger) *Router {
	return &Router{
		local:  local,
		direct: make(map[rpc.Zone]*serviceproxy.ServiceProxy),
		relay:  make(map[rpc.Zone]rpc.Zone),
		logger: logger,
	}
}

// InstallDirect registers a live connection to peer, superseding any relay
// entry previously recorded for it.
func (r *Router) InstallDirect(peer rpc.Zone, sp *serviceproxy.ServiceProxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[peer] = sp
	delete(r.relay, peer)
}

// RemoveDirect drops a direct entry, e.g. when its transport closes.
func (r *Router) RemoveDirect(peer rpc.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.direct, peer)
}

// InstallRelay records that target can be reached by forwarding through
// via's own route. It refuses to install a self-route (I6) or a relay entry
// that would eclipse an existing direct connection.
func (r *Router) InstallRelay(target rpc.Zone, via rpc.Zone) {
	if target == r.local || target == via {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.direct[target]; ok {
		return
	}
	r.relay[target] = via
}

// DirectPeer returns the live connection to peer, if this zone holds one.
func (r *Router) DirectPeer(peer rpc.Zone) (*serviceproxy.ServiceProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.direct[peer]
	return sp, ok
}

// Resolve returns the next-hop ServiceProxy that reaches dest, following any
// chain of relay entries, or rpc.ZoneNotFound if no route is known (spec
// boundary: an unroutable destination_zone).
func (r *Router) Resolve(dest rpc.DestinationZone) (*serviceproxy.ServiceProxy, error) {
	return r.resolveZone(dest.AsZone())
}

func (r *Router) resolveZone(z rpc.Zone) (*serviceproxy.ServiceProxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[rpc.Zone]bool)
	cur := z
	for i := 0; i < maxRelayHops; i++ {
		if sp, ok := r.direct[cur]; ok {
			return sp, nil
		}
		via, ok := r.relay[cur]
		if !ok {
			return nil, rpc.ZoneNotFound
		}
		if seen[via] {
			return nil, rpc.ZoneNotFound
		}
		seen[via] = true
		cur = via
	}
	return nil, rpc.ZoneNotFound
}
