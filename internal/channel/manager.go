// Package channel manages the live negotiation channel: connection state, room joins, alias
// subscriptions, and bounded reconnects.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
)

// ErrChannelUnavailable is reported once reconnect attempts are exhausted.
var ErrChannelUnavailable = errors.New("channel unavailable")

// ErrAlreadyStarted is returned when Start is called on a running or stopped manager.
var ErrAlreadyStarted = errors.New("channel: manager already started")

// InboundHandler receives every decoded alias event.
type InboundHandler func(alias string, raw negotiation.RawEvent)

// Config bounds reconnect behavior.
type Config struct {
	// ReconnectAttempts is the number of retries after a failed or dropped connection.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Manager owns one Transport for the lifetime of a session. It is single use: after Stop it
// cannot be started again.
type Manager struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger
	hub       *statusHub

	mu        sync.Mutex
	state     State
	id        identity.Identity
	activeBid string
	handler   InboundHandler
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a manager around transport.
func NewManager(log *slog.Logger, transport Transport, cfg Config) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	return &Manager{
		transport: transport,
		cfg:       cfg,
		logger:    log.With(slog.String("component", "channel")),
		hub:       newStatusHub(),
		state:     StateDisconnected,
	}
}

// Start subscribes every alias through handler and begins connecting in the background.
func (m *Manager) Start(ctx context.Context, id identity.Identity, handler InboundHandler) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("channel: inbound handler is required")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.id = id
	m.handler = handler
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	for _, alias := range negotiation.Aliases() {
		m.transport.On(alias, m.inbound(alias))
	}
	go m.supervise(runCtx)
	return nil
}

// Stop leaves the bid room, unsubscribes every alias, and closes the transport. It waits for the
// supervisor to exit or ctx to end.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	bid := m.activeBid
	connected := m.state == StateConnected
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		m.hub.closeAll()
		return nil
	}

	if connected && bid != "" {
		if err := m.transport.Emit(ctx, EventLeaveBid, bid); err != nil {
			m.logger.Warn("leave bid room failed", slog.String("bid_id", bid), slog.Any("error", err))
		}
	}
	for _, alias := range negotiation.Aliases() {
		m.transport.Off(alias)
	}
	cancel()
	closeErr := m.transport.Close()

	select {
	case <-done:
	case <-ctx.Done():
		m.hub.closeAll()
		return ctx.Err()
	}
	m.setState(StateDisconnected, 0, nil)
	m.hub.closeAll()
	m.logger.Info("channel stopped")
	return closeErr
}

// Done is closed when the supervisor exits, either after Stop or once the channel is unavailable.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.done
}

// Status returns the current connectivity state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a status observer. It returns a stream ID, a read-only event channel, and
// a cancel function. The channel is closed on cancel or when the manager stops.
func (m *Manager) Subscribe(buffer int) (string, <-chan StatusEvent, func()) {
	return m.hub.subscribe(buffer)
}

// ActiveBid returns the bid whose room is joined.
func (m *Manager) ActiveBid() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeBid
}

// SetActiveBid switches the bid-scoped room. While connected it leaves the previous room and
// joins the new one; otherwise the bid is joined on the next connect.
func (m *Manager) SetActiveBid(ctx context.Context, bidID string) error {
	bidID = strings.TrimSpace(bidID)
	m.mu.Lock()
	prev := m.activeBid
	m.activeBid = bidID
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || prev == bidID {
		return nil
	}
	if prev != "" {
		if err := m.transport.Emit(ctx, EventLeaveBid, prev); err != nil {
			return fmt.Errorf("leave bid %s: %w", prev, err)
		}
	}
	if bidID != "" {
		if err := m.transport.Emit(ctx, EventJoinBid, bidID); err != nil {
			return fmt.Errorf("join bid %s: %w", bidID, err)
		}
	}
	return nil
}

func (m *Manager) inbound(alias string) Handler {
	return func(payload json.RawMessage) {
		raw, err := negotiation.DecodeRaw(payload)
		if err != nil {
			m.logger.Warn("undecodable channel event", slog.String("alias", alias), slog.Any("error", err))
			return
		}
		m.mu.Lock()
		handler := m.handler
		m.mu.Unlock()
		if handler != nil {
			handler(alias, raw)
		}
	}
}

// supervise connects, waits for the connection to end, and retries with a fixed delay until the
// retry budget is spent. A successful connect resets the budget.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)
	failures := 0
	for {
		m.setState(StateConnecting, failures, nil)
		err := m.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			m.setState(StateConnected, 0, nil)
			m.logger.Info("channel connected")
			select {
			case <-ctx.Done():
				return
			case <-m.transport.Done():
			}
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("channel dropped")
			err = errors.New("connection lost")
		} else {
			m.logger.Warn("channel connect failed", slog.Int("attempt", failures+1), slog.Any("error", err))
		}

		failures++
		if failures > m.cfg.ReconnectAttempts {
			m.setState(StateUnavailable, failures, fmt.Errorf("%w: %w", ErrChannelUnavailable, err))
			m.logger.Error("channel unavailable", slog.Int("attempts", failures), slog.Any("error", err))
			return
		}
		m.setState(StateDisconnected, failures, err)

		timer := time.NewTimer(m.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect opens the transport and emits the room joins for the session identity.
func (m *Manager) connect(ctx context.Context) error {
	if err := m.transport.Connect(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	id := m.id
	bid := m.activeBid
	m.mu.Unlock()

	event := EventJoin
	if id.IsShipper() {
		event = EventJoinShipper
	}
	if err := m.transport.Emit(ctx, event, id.ID); err != nil {
		_ = m.transport.Close()
		return fmt.Errorf("%s: %w", event, err)
	}
	if bid != "" {
		if err := m.transport.Emit(ctx, EventJoinBid, bid); err != nil {
			_ = m.transport.Close()
			return fmt.Errorf("%s: %w", EventJoinBid, err)
		}
	}
	return nil
}

func (m *Manager) setState(state State, attempt int, err error) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	event := StatusEvent{State: state, Attempt: attempt, At: time.Now().UTC()}
	if err != nil {
		event.Error = err.Error()
	}
	m.hub.publish(event)
}
