package wsrpc

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/zonerpc/rpc"
	"github.com/sammck-go/zonerpc/rpc/serviceproxy"
)

func testLogger(t *testing.T) rpc.Logger {
	return rpc.NewLogger(t.Name(), rpc.LogLevelError)
}

// serveOne starts an httptest server whose Handler upgrades each incoming
// connection and hands it to onAccept, returning the server (wsURL gives its
// ws:// URL).
func serveOne(t *testing.T, onAccept func(*Conn)) *httptest.Server {
	h := &Handler{Logger: testLogger(t), OnAccept: onAccept}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestRoundTripOverWebsocket dials a real websocket server and exercises a
// request/reply round trip end to end through the correlation envelope.
func TestRoundTripOverWebsocket(t *testing.T) {
	accepted := make(chan *Conn, 1)
	srv := serveOne(t, func(c *Conn) {
		c.SetHandlers(func(ctx context.Context, req []byte) []byte {
			return append([]byte("echo:"), req...)
		}, nil)
		accepted <- c
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, DialConfig{Server: wsURL(srv)}, testLogger(t))
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the connection")
	}

	reply, err := client.RoundTrip(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "echo:hello", string(reply))
}

// TestPostOverWebsocket exercises the fire-and-forget path.
func TestPostOverWebsocket(t *testing.T) {
	got := make(chan []byte, 1)
	srv := serveOne(t, func(c *Conn) {
		c.SetHandlers(nil, func(ctx context.Context, msg []byte) { got <- msg })
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, DialConfig{Server: wsURL(srv)}, testLogger(t))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Post(ctx, []byte("fire and forget")))

	select {
	case msg := <-got:
		require.Equal(t, "fire and forget", string(msg))
	case <-time.After(time.Second):
		t.Fatal("server never received the post")
	}
}

// TestConcurrentRoundTripsAreCorrelated ensures many in-flight RoundTrips
// sharing one socket each get their own reply back, never another caller's.
func TestConcurrentRoundTripsAreCorrelated(t *testing.T) {
	srv := serveOne(t, func(c *Conn) {
		c.SetHandlers(func(ctx context.Context, req []byte) []byte {
			return append([]byte(nil), req...)
		}, nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, DialConfig{Server: wsURL(srv)}, testLogger(t))
	require.NoError(t, err)
	defer client.Close()

	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			payload := []byte(strings.Repeat("x", i+1))
			reply, err := client.RoundTrip(ctx, payload)
			if err != nil {
				results <- err
				return
			}
			if string(reply) != string(payload) {
				results <- errors.New("mismatched reply")
				return
			}
			results <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
}

func TestRoundTripFailsAfterClose(t *testing.T) {
	srv := serveOne(t, func(c *Conn) {
		c.SetHandlers(func(ctx context.Context, req []byte) []byte { return req }, nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, DialConfig{Server: wsURL(srv)}, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.RoundTrip(ctx, []byte("anything"))
	require.Error(t, err)
}

var _ serviceproxy.Transport = (*Conn)(nil)
