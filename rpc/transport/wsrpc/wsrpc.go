// Package wsrpc implements a serviceproxy.Transport over a websocket
// connection: the teacher runtime's own wire (a gorilla/websocket conn
// carrying chisel's SSH-multiplexed tunnel traffic, see share/client.go and
// share/server.go) adapted to carry this runtime's rpc/wire.Frame messages
// instead of tunneled byte streams. Dial reuses the teacher's
// backoff-retrying connect loop (jpillora/backoff); Handler plays the
// server's half, upgrading an incoming HTTP request to a websocket exactly
// as share/server.go's handleClientHandler does.
package wsrpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/serviceproxy"
)

// frame kinds for the thin correlation envelope this package wraps around
// each rpc/wire.Frame so many concurrent RoundTrips can share one socket.
const (
	kindRequest byte = 1
	kindReply   byte = 2
	kindPost    byte = 3
)

var errClosed = errors.New("wsrpc: transport closed")

// Conn adapts one live websocket connection into a serviceproxy.Transport.
// Every message on the wire is [1 kind byte][8 byte call id][payload]; a
// request's reply carries the same call id so concurrent RoundTrips sharing
// this one socket can be matched back to their caller.
type Conn struct {
	rpc.Logger

	ws *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[uint64]chan []byte
	onRequest serviceproxy.RequestHandler
	onPost    serviceproxy.PostHandler

	nextCallID uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn starts serving ws as a Transport: a background goroutine reads
// frames and dispatches them until the connection closes.
func NewConn(ws *websocket.Conn, logger rpc.Logger) *Conn {
	c := &Conn{
		Logger:  logger,
		ws:      ws,
		pending: make(map[uint64]chan []byte),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.DLogf("wsrpc read loop ending: %v", err)
			return
		}
		if len(data) < 9 {
			c.WLogf("wsrpc: dropping undersized message (%d bytes)", len(data))
			continue
		}
		kind := data[0]
		callID := binary.BigEndian.Uint64(data[1:9])
		payload := data[9:]

		switch kind {
		case kindReply:
			c.mu.Lock()
			ch, ok := c.pending[callID]
			if ok {
				delete(c.pending, callID)
			}
			c.mu.Unlock()
			if ok {
				ch <- payload
			}
		case kindRequest:
			c.mu.Lock()
			handler := c.onRequest
			c.mu.Unlock()
			if handler == nil {
				continue
			}
			go func(callID uint64, payload []byte) {
				reply := handler(context.Background(), payload)
				if err := c.writeMessage(kindReply, callID, reply); err != nil {
					c.ELogf("wsrpc: writing reply failed: %v", err)
				}
			}(callID, append([]byte(nil), payload...))
		case kindPost:
			c.mu.Lock()
			handler := c.onPost
			c.mu.Unlock()
			if handler == nil {
				continue
			}
			go handler(context.Background(), append([]byte(nil), payload...))
		default:
			c.WLogf("wsrpc: dropping message with unknown kind %d", kind)
		}
	}
}

func (c *Conn) writeMessage(kind byte, callID uint64, payload []byte) error {
	buf := make([]byte, 9+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint64(buf[1:9], callID)
	copy(buf[9:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, buf)
}

// SetHandlers registers the callbacks invoked for inbound requests/posts.
func (c *Conn) SetHandlers(onRequest serviceproxy.RequestHandler, onPost serviceproxy.PostHandler) {
	c.mu.Lock()
	c.onRequest = onRequest
	c.onPost = onPost
	c.mu.Unlock()
}

// RoundTrip sends payload as a request and blocks for its correlated reply.
func (c *Conn) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	callID := atomic.AddUint64(&c.nextCallID, 1)
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[callID] = ch
	c.mu.Unlock()

	if err := c.writeMessage(kindRequest, callID, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errClosed
	}
}

// Post sends payload as a fire-and-forget message.
func (c *Conn) Post(ctx context.Context, payload []byte) error {
	return c.writeMessage(kindPost, 0, payload)
}

// Close shuts down the underlying websocket connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.ws.Close() })
	return err
}

// DialConfig configures the client side of a wsrpc connection, mirroring
// the teacher client's own retrying-connect knobs (share/client.go's
// Config).
type DialConfig struct {
	Server           string
	MaxRetryCount    int
	MaxRetryInterval time.Duration
}

// Dial connects to a zonerpc websocket endpoint, retrying with exponential
// backoff the way the teacher client's connection loop does (share/client.go),
// and returns the established Transport.
func Dial(ctx context.Context, cfg DialConfig, logger rpc.Logger) (*Conn, error) {
	server := cfg.Server
	if !strings.HasPrefix(server, "ws") && !strings.HasPrefix(server, "http") {
		server = "ws://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("wsrpc: invalid server url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)

	if id, err := NewIdentity(); err != nil {
		logger.WLogf("wsrpc: could not mint client identity: %v", err)
	} else {
		logger.ILogf("Fingerprint %s", id.Fingerprint())
	}

	b := &backoff.Backoff{Max: cfg.MaxRetryInterval}
	if b.Max <= 0 {
		b.Max = 5 * time.Minute
	}

	var lastErr error
	for attempt := 0; cfg.MaxRetryCount <= 0 || attempt <= cfg.MaxRetryCount; attempt++ {
		if attempt > 0 {
			d := b.Duration()
			logger.DLogf("wsrpc: retrying dial to %s in %s (attempt %d)", u, d, attempt)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			return NewConn(ws, logger), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("wsrpc: giving up connecting to %s: %w", u, lastErr)
}

// Handler upgrades incoming HTTP requests to websockets and hands each
// resulting Transport to onAccept, mirroring share/server.go's
// handleClientHandler. It is meant to be registered directly as an
// http.Handler (or mounted under a path via http.ServeMux).
type Handler struct {
	Logger   rpc.Logger
	OnAccept func(*Conn)

	upgrader websocket.Upgrader
	identOnce sync.Once
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.identOnce.Do(func() {
		id, err := NewIdentity()
		if err != nil {
			h.Logger.ELogf("wsrpc: %v", err)
			return
		}
		h.Logger.ILogf("Fingerprint %s", id.Fingerprint())
	})

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.ELogf("wsrpc: upgrade failed: %v", err)
		return
	}
	h.OnAccept(NewConn(ws, h.Logger.Fork("conn %s", r.RemoteAddr)))
}
