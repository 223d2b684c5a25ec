package channel

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStatusBuffer is the default per-subscriber status buffer.
const DefaultStatusBuffer = 16

// State is the connectivity state of the live channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateUnavailable is terminal: reconnect attempts are exhausted.
	StateUnavailable State = "unavailable"
)

// StatusEvent is published on every state transition.
type StatusEvent struct {
	State   State     `json:"state"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// statusHub fans status transitions out to observers. Slow observers miss events rather than
// stalling the connection supervisor.
type statusHub struct {
	mu      sync.RWMutex
	streams map[string]chan StatusEvent
}

func newStatusHub() *statusHub {
	return &statusHub{streams: map[string]chan StatusEvent{}}
}

func (h *statusHub) publish(event StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *statusHub) subscribe(buffer int) (string, <-chan StatusEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultStatusBuffer
	}
	streamID := uuid.NewString()
	ch := make(chan StatusEvent, buffer)

	h.mu.Lock()
	h.streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if current, ok := h.streams[streamID]; ok {
				delete(h.streams, streamID)
				close(current)
			}
			h.mu.Unlock()
		})
	}
	return streamID, ch, cancel
}

func (h *statusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.streams {
		delete(h.streams, id)
		close(ch)
	}
}
