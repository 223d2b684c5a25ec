package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsServer struct {
	*httptest.Server
	auth     chan string
	received chan Envelope
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		auth:     make(chan string, 1),
		received: make(chan Envelope, 8),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case s.conns <- conn:
		default:
		}
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.received <- env
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebsocketTransportRoundTrip(t *testing.T) {
	srv := newWSServer(t)
	tr := NewWebsocketTransport(nil, WebsocketConfig{URL: srv.url(), Token: "Bearer tok-1"})

	inbound := make(chan json.RawMessage, 1)
	tr.On("bid_negotiation_update", func(payload json.RawMessage) { inbound <- payload })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, "Bearer tok-1", <-srv.auth)

	require.NoError(t, tr.Emit(ctx, EventJoin, "carrierY"))
	select {
	case env := <-srv.received:
		assert.Equal(t, EventJoin, env.Event)
		assert.JSONEq(t, `"carrierY"`, string(env.Data))
	case <-ctx.Done():
		t.Fatal("server did not receive join")
	}

	serverConn := <-srv.conns
	require.NoError(t, serverConn.WriteJSON(Envelope{Event: "unknown_event", Data: json.RawMessage(`{}`)}))
	require.NoError(t, serverConn.WriteJSON(Envelope{Event: "bid_negotiation_update", Data: json.RawMessage(`{"bidId":"b1"}`)}))
	select {
	case payload := <-inbound:
		assert.JSONEq(t, `{"bidId":"b1"}`, string(payload))
	case <-ctx.Done():
		t.Fatal("handler not invoked")
	}

	require.NoError(t, serverConn.Close())
	select {
	case <-tr.Done():
	case <-ctx.Done():
		t.Fatal("Done not closed after server hangup")
	}
	assert.ErrorIs(t, tr.Emit(ctx, EventJoin, "x"), ErrNotConnected)
}

func TestWebsocketTransportCloseAndReconnect(t *testing.T) {
	srv := newWSServer(t)
	tr := NewWebsocketTransport(nil, WebsocketConfig{URL: srv.url()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, "", <-srv.auth)
	first := tr.Done()
	require.NoError(t, tr.Close())
	select {
	case <-first:
	case <-ctx.Done():
		t.Fatal("Done not closed after Close")
	}

	require.NoError(t, tr.Connect(ctx))
	<-srv.auth
	require.NoError(t, tr.Emit(ctx, EventJoinBid, "b2"))
	select {
	case env := <-srv.received:
		assert.Equal(t, EventJoinBid, env.Event)
	case <-ctx.Done():
		t.Fatal("emit after reconnect not received")
	}
	require.NoError(t, tr.Close())
}

func TestWebsocketTransportDialError(t *testing.T) {
	tr := NewWebsocketTransport(nil, WebsocketConfig{URL: "ws://127.0.0.1:1/socket", HandshakeTimeout: 200 * time.Millisecond})
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}
