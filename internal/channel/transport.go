package channel

import (
	"context"
	"encoding/json"
	"errors"
)

// Outbound room directives.
const (
	EventJoinShipper = "join_shipper"
	EventJoin        = "join"
	EventJoinBid     = "join_bid_negotiation"
	EventLeaveBid    = "leave_bid_negotiation"
)

// ErrNotConnected is returned by transports asked to emit without a live connection.
var ErrNotConnected = errors.New("channel: transport not connected")

// Handler receives the payload of one inbound event.
type Handler func(payload json.RawMessage)

// Transport is the bidirectional named-event connection to the backend.
//
// Handlers registered with On survive reconnects. Done returns a channel that is closed when
// the current connection ends for any reason. Connect may be called again after Done fires
// or after Close.
type Transport interface {
	Connect(ctx context.Context) error
	Emit(ctx context.Context, event string, payload any) error
	On(event string, handler Handler)
	Off(event string)
	Done() <-chan struct{}
	Close() error
}

// Envelope is the wire frame for named events.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
