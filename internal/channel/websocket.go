package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketConfig configures WebsocketTransport.
type WebsocketConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// WebsocketTransport carries named events as JSON envelopes over a gorilla websocket.
type WebsocketTransport struct {
	cfg    WebsocketConfig
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

// NewWebsocketTransport creates a transport for cfg.URL. Nothing is dialed until Connect.
func NewWebsocketTransport(log *slog.Logger, cfg WebsocketConfig) *WebsocketTransport {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &WebsocketTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:   log.With(slog.String("component", "websocket")),
		handlers: map[string]Handler{},
	}
}

// Connect dials the backend unless a connection is already open.
func (t *WebsocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	header := http.Header{}
	for k, v := range t.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	if token := strings.TrimSpace(strings.TrimPrefix(t.cfg.Token, "Bearer ")); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", t.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	done := make(chan struct{})
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	go t.readPump(conn, done)
	return nil
}

// Emit writes one envelope. The context deadline, if any, bounds the write.
func (t *WebsocketTransport) Emit(ctx context.Context, event string, payload any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// On registers handler for event, replacing any previous handler.
func (t *WebsocketTransport) On(event string, handler Handler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers[event] = handler
}

// Off removes the handler for event.
func (t *WebsocketTransport) Off(event string) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	delete(t.handlers, event)
}

// Done returns a channel closed when the current connection ends.
func (t *WebsocketTransport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.done
}

// Close sends a normal close frame and closes the current connection.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WebsocketTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		_ = conn.Close()
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				t.logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("invalid websocket frame", slog.Any("error", err))
			continue
		}
		t.handlersMu.RLock()
		handler := t.handlers[env.Event]
		t.handlersMu.RUnlock()
		if handler == nil {
			t.logger.Debug("unhandled websocket event", slog.String("event", env.Event))
			continue
		}
		handler(env.Data)
	}
}
