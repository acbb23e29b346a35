// Package serviceproxy implements component C8: one ServiceProxy per peer
// zone reachable from this zone, each backed by a Transport (spec.md §4.4).
package serviceproxy

import "context"

// RequestHandler processes one inbound request frame (send/try_cast/add_ref/
// release) arriving over a Transport and returns the reply frame's bytes.
type RequestHandler func(ctx context.Context, req []byte) (reply []byte)

// PostHandler processes one inbound fire-and-forget frame.
type PostHandler func(ctx context.Context, msg []byte)

// Transport is how a ServiceProxy actually reaches a peer zone. The core
// treats every transport -- in-process, enclave-bridge, TCP, SPSC queue,
// websocket -- identically: it sees only this duplex surface (spec.md §1).
// A Transport is inherently two-way: the same connection carries this
// zone's outbound calls (RoundTrip/Post) and the peer's inbound calls,
// delivered to whatever handler SetHandlers last registered.
type Transport interface {
	// RoundTrip sends payload and blocks for the peer's reply, or returns an
	// error if the transport itself failed (TRANSPORT_ERROR territory,
	// distinct from an application or protocol error carried inside the
	// reply payload).
	RoundTrip(ctx context.Context, payload []byte) (reply []byte, err error)

	// Post sends payload without waiting for any reply.
	Post(ctx context.Context, payload []byte) error

	// SetHandlers registers the callbacks invoked when this transport
	// receives a request or a post from the peer. Must be called before
	// the transport starts delivering inbound traffic.
	SetHandlers(onRequest RequestHandler, onPost PostHandler)

	// Close releases the transport's resources. Idempotent.
	Close() error
}
