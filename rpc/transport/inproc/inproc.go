// Package inproc implements an in-process Transport pair: two zones living
// in the same Go process, wired directly together without any real network
// hop. It is the in-memory analogue of the teacher runtime's wstnet.Bipipe
// pair -- two linked virtual endpoints that forward traffic directly to one
// another -- adapted from raw byte streams to framed request/reply calls,
// since this runtime's unit of transport is an rpc/wire.Frame rather than a
// byte stream (spec.md §1, "transports are pluggable").
//
// The two ends are connected with a real unix-domain socketpair
// (github.com/prep/socketpair), exactly as the teacher's loop_stub_endpoint.go
// and socks_skeleton_endpoint.go couple a local service to its bridge -- so
// even the "no network" transport exercises a genuine duplex OS connection
// rather than a bare Go channel.
//
// It is the natural transport for tests and for local multi-zone demos (the
// Y-topology scenario can be built entirely out of inproc pairs).
package inproc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/prep/socketpair"

	"github.com/sammck-go/zonerpc/rpc/serviceproxy"
)

// ErrClosed is returned by RoundTrip/Post once the transport has been
// closed.
var ErrClosed = errors.New("inproc: transport closed")

const kindRequest byte = 1
const kindReply byte = 2
const kindPost byte = 3

// endpoint is one end of a socketpair-linked duplex pipe, framing each
// RoundTrip/Post/reply as a [kind byte][8 byte call id][4 byte length][payload]
// message over the underlying net.Conn.
type endpoint struct {
	conn net.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[uint64]chan []byte
	onRequest  serviceproxy.RequestHandler
	onPost     serviceproxy.PostHandler
	nextCallID uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPair returns two Transport endpoints joined by a unix socketpair, each
// other's peer. Wiring one end into zone A's Service.Connect and the other
// into zone B's gives the two zones a direct route to each other.
func NewPair() (a, b serviceproxy.Transport) {
	ca, cb, err := socketpair.New("unix")
	if err != nil {
		// A local unix socketpair only fails under extreme resource
		// exhaustion; the teacher's own callers (loop_stub_endpoint.go,
		// socks_skeleton_endpoint.go) treat this as fatal to the caller too.
		panic("inproc: unable to create socketpair: " + err.Error())
	}
	ea := newEndpoint(ca)
	eb := newEndpoint(cb)
	return ea, eb
}

func newEndpoint(conn net.Conn) *endpoint {
	e := &endpoint{
		conn:    conn,
		pending: make(map[uint64]chan []byte),
		closed:  make(chan struct{}),
	}
	go e.readLoop()
	return e
}

func (e *endpoint) readLoop() {
	defer close(e.closed)
	header := make([]byte, 13)
	for {
		if _, err := io.ReadFull(e.conn, header); err != nil {
			return
		}
		kind := header[0]
		callID := binary.BigEndian.Uint64(header[1:9])
		length := binary.BigEndian.Uint32(header[9:13])
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(e.conn, payload); err != nil {
				return
			}
		}

		switch kind {
		case kindReply:
			e.mu.Lock()
			ch, ok := e.pending[callID]
			if ok {
				delete(e.pending, callID)
			}
			e.mu.Unlock()
			if ok {
				ch <- payload
			}
		case kindRequest:
			e.mu.Lock()
			handler := e.onRequest
			e.mu.Unlock()
			if handler == nil {
				continue
			}
			go func(callID uint64, payload []byte) {
				reply := handler(context.Background(), payload)
				_ = e.writeMessage(kindReply, callID, reply)
			}(callID, payload)
		case kindPost:
			e.mu.Lock()
			handler := e.onPost
			e.mu.Unlock()
			if handler != nil {
				go handler(context.Background(), payload)
			}
		}
	}
}

func (e *endpoint) writeMessage(kind byte, callID uint64, payload []byte) error {
	header := make([]byte, 13+len(payload))
	header[0] = kind
	binary.BigEndian.PutUint64(header[1:9], callID)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(payload)))
	copy(header[13:], payload)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := e.conn.Write(header)
	return err
}

func (e *endpoint) SetHandlers(onRequest serviceproxy.RequestHandler, onPost serviceproxy.PostHandler) {
	e.mu.Lock()
	e.onRequest = onRequest
	e.onPost = onPost
	e.mu.Unlock()
}

// RoundTrip sends payload as a request over the socketpair and blocks for
// its correlated reply.
func (e *endpoint) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	callID := e.newCallID()
	ch := make(chan []byte, 1)
	e.mu.Lock()
	e.pending[callID] = ch
	e.mu.Unlock()

	if err := e.writeMessage(kindRequest, callID, payload); err != nil {
		e.mu.Lock()
		delete(e.pending, callID)
		e.mu.Unlock()
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, callID)
		e.mu.Unlock()
		return nil, ctx.Err()
	case <-e.closed:
		return nil, ErrClosed
	}
}

func (e *endpoint) newCallID() uint64 {
	e.mu.Lock()
	e.nextCallID++
	id := e.nextCallID
	e.mu.Unlock()
	return id
}

// Post sends payload as a fire-and-forget message; it never blocks on the
// peer handler's completion.
func (e *endpoint) Post(ctx context.Context, payload []byte) error {
	return e.writeMessage(kindPost, 0, payload)
}

// Close shuts down this endpoint's half of the socketpair. The peer
// endpoint observes EOF on its next read and winds down independently.
func (e *endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.conn.Close() })
	return err
}
