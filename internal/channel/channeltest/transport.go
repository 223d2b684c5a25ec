// Package channeltest provides an in-memory channel.Transport for tests.
package channeltest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/memohai/negosync/internal/channel"
)

// ErrConnectRefused is returned by Connect while scripted failures remain.
var ErrConnectRefused = errors.New("channeltest: connect refused")

// Emitted is one recorded outbound event.
type Emitted struct {
	Event   string
	Payload any
}

// Transport records outbound events and lets tests push inbound ones.
type Transport struct {
	mu       sync.Mutex
	handlers map[string]channel.Handler
	emitted  []Emitted
	connects int
	closes   int
	failures int
	done     chan struct{}
}

// New creates a disconnected fake transport.
func New() *Transport {
	return &Transport{handlers: map[string]channel.Handler{}}
}

// FailConnects makes the next n Connect calls fail.
func (t *Transport) FailConnects(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.failures > 0 {
		t.failures--
		return ErrConnectRefused
	}
	if t.done == nil || isClosed(t.done) {
		t.done = make(chan struct{})
	}
	return nil
}

func (t *Transport) Emit(_ context.Context, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil || isClosed(t.done) {
		return channel.ErrNotConnected
	}
	t.emitted = append(t.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

func (t *Transport) On(event string, handler channel.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = handler
}

func (t *Transport) Off(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, event)
}

func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.done
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	if t.done != nil && !isClosed(t.done) {
		close(t.done)
	}
	return nil
}

// Drop simulates an unintentional disconnect.
func (t *Transport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil && !isClosed(t.done) {
		close(t.done)
	}
}

// Deliver pushes payload to the handler registered for event.
func (t *Transport) Deliver(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	handler := t.handlers[event]
	t.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("channeltest: no handler for %q", event)
	}
	handler(data)
	return nil
}

// Emitted returns a copy of the recorded outbound events.
func (t *Transport) Emitted() []Emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Emitted(nil), t.emitted...)
}

// Handlers returns the number of registered inbound handlers.
func (t *Transport) Handlers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Connects returns how many times Connect was called.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Closes returns how many times Close was called.
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

var _ channel.Transport = (*Transport)(nil)
