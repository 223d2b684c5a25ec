package negotiation

import (
	"errors"
	"testing"
	"time"

	"github.com/memohai/negosync/internal/identity"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(WithClock(func() time.Time { return fixedNow }))
}

func TestNormalizeShipperAlias(t *testing.T) {
	raw := RawEvent{
		"bidId":                     "b1",
		"loadId":                    "l1",
		"senderId":                  "shipperX",
		"shipperCounterRate":        float64(2800),
		"shipperNegotiationMessage": "new rate",
	}
	ev, err := newTestNormalizer().Normalize(raw, AliasShipperInternalNegotiate, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if ev.SenderRole != identity.RoleShipper {
		t.Fatalf("expected shipper role, got %q", ev.SenderRole)
	}
	if ev.Rate == nil || *ev.Rate != 2800 {
		t.Fatalf("expected rate 2800, got %v", ev.Rate)
	}
	if ev.Message != "new rate" {
		t.Fatalf("unexpected message %q", ev.Message)
	}
	if ev.SenderID != "shipperX" || ev.SenderName != "Shipper" {
		t.Fatalf("unexpected sender %q/%q", ev.SenderID, ev.SenderName)
	}
	if ev.BidID != "b1" || ev.LoadID != "l1" {
		t.Fatalf("unexpected ids bid=%q load=%q", ev.BidID, ev.LoadID)
	}
	if !ev.OccurredAt.Equal(fixedNow) {
		t.Fatalf("expected processing time, got %v", ev.OccurredAt)
	}
	if ev.EventID == "" {
		t.Fatal("expected synthesized event id")
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := RawEvent{"threadId": "t1", "bidId": "b1", "senderId": "c9", "rate": "2,650", "message": "can do"}
	n := newTestNormalizer()
	first, err := n.Normalize(raw, AliasBidNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	second, err := n.Normalize(raw, AliasBidNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if first.EventID != second.EventID {
		t.Fatalf("event id not stable: %q vs %q", first.EventID, second.EventID)
	}
	if first.Key() != second.Key() {
		t.Fatalf("key not stable: %v vs %v", first.Key(), second.Key())
	}

	// A later processing time must not change the id of an untimestamped payload.
	later := NewNormalizer(WithClock(func() time.Time { return fixedNow.Add(time.Minute) }))
	third, err := later.Normalize(raw, AliasLiveNegotiationUpdate, OriginPoll)
	if err != nil {
		t.Fatalf("third Normalize: %v", err)
	}
	if third.EventID != first.EventID {
		t.Fatalf("alias or clock changed event id: %q vs %q", third.EventID, first.EventID)
	}
}

func TestNormalizeSynthesizesMessage(t *testing.T) {
	tests := []struct {
		name  string
		alias string
		raw   RawEvent
		want  string
		role  identity.Role
	}{
		{
			name:  "shipper",
			alias: AliasShipperInternalNegotiate,
			raw:   RawEvent{"bidId": "b1", "shipperCounterRate": float64(2800)},
			want:  "Shipper countered at $2,800",
			role:  identity.RoleShipper,
		},
		{
			name:  "inhouse",
			alias: AliasInhouseInternalNegotiate,
			raw:   RawEvent{"bidId": "b1", "employeeName": "Dana", "inhouseCounterRate": "1250.5"},
			want:  "Broker countered at $1,250.50",
			role:  identity.RoleBroker,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := newTestNormalizer().Normalize(tt.raw, tt.alias, OriginChannel)
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if ev.Message != tt.want {
				t.Fatalf("got message %q want %q", ev.Message, tt.want)
			}
			if ev.SenderRole != tt.role {
				t.Fatalf("got role %q want %q", ev.SenderRole, tt.role)
			}
		})
	}
}

func TestNormalizeCandidateFields(t *testing.T) {
	raw := RawEvent{
		"negotiationId": "t7",
		"bid":           map[string]any{"_id": "b7"},
		"load":          map[string]any{"id": float64(42)},
		"sender":        map[string]any{"id": "u5", "name": "Bob", "role": "driver"},
		"text":          "hello",
		"previousRate":  "$3,000",
		"timestamp":     float64(1767225600000),
		"messageId":     "m-1",
		"isMine":        "true",
	}
	ev, err := newTestNormalizer().Normalize(raw, AliasNewNegotiationMessage, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if ev.ThreadID != "t7" || ev.BidID != "b7" || ev.LoadID != "42" {
		t.Fatalf("unexpected ids %+v", ev)
	}
	if ev.SenderID != "u5" || ev.SenderName != "Bob" || ev.SenderRole != identity.RoleCarrier {
		t.Fatalf("unexpected sender %+v", ev)
	}
	if ev.PreviousRate == nil || *ev.PreviousRate != 3000 {
		t.Fatalf("unexpected previous rate %v", ev.PreviousRate)
	}
	if ev.Rate != nil {
		t.Fatalf("expected no rate, got %v", *ev.Rate)
	}
	want := time.UnixMilli(1767225600000).UTC()
	if !ev.OccurredAt.Equal(want) {
		t.Fatalf("got time %v want %v", ev.OccurredAt, want)
	}
	if ev.EventID != "m-1" {
		t.Fatalf("unexpected event id %q", ev.EventID)
	}
	if !ev.SelfFlag {
		t.Fatal("expected self flag")
	}
}

func TestNormalizeTimestampFormats(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Time
	}{
		{"rfc3339", "2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"seconds", float64(1767225600), time.Unix(1767225600, 0).UTC()},
		{"millis string", "1767225600000", time.UnixMilli(1767225600000).UTC()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RawEvent{"senderId": "u1", "message": "x", "createdAt": tt.value}
			ev, err := newTestNormalizer().Normalize(raw, AliasAPINegotiationUpdate, OriginPoll)
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if !ev.OccurredAt.Equal(tt.want) {
				t.Fatalf("got %v want %v", ev.OccurredAt, tt.want)
			}
		})
	}
}

func TestNormalizeFromField(t *testing.T) {
	n := newTestNormalizer()
	ev, err := n.Normalize(RawEvent{"from": "broker", "message": "hi", "bidId": "b"}, AliasInternalNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if ev.SenderRole != identity.RoleBroker || ev.SenderName != "Broker" {
		t.Fatalf("expected role from 'from', got %+v", ev)
	}
	ev, err = n.Normalize(RawEvent{"from": "u77", "message": "hi"}, AliasInternalNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if ev.SenderID != "u77" || ev.SenderRole != identity.RoleUnknown {
		t.Fatalf("expected sender id from 'from', got %+v", ev)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
	}{
		{"empty", RawEvent{}},
		{"no sender", RawEvent{"message": "hello", "bidId": "b1"}},
		{"no content", RawEvent{"senderId": "u1", "bidId": "b1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestNormalizer().Normalize(tt.raw, AliasNegotiationThreadUpdate, OriginChannel)
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
			var malformed *MalformedEventError
			if !errors.As(err, &malformed) || malformed.Alias != AliasNegotiationThreadUpdate {
				t.Fatalf("expected MalformedEventError with alias, got %v", err)
			}
		})
	}
}

func TestKeyFallsBackToEventID(t *testing.T) {
	a := Event{EventID: "e1"}
	b := Event{EventID: "e2"}
	if a.Key() == b.Key() {
		t.Fatal("events without thread or bid must not share a key")
	}
	c := Event{EventID: "e3", ThreadID: "t", BidID: "b"}
	if got := c.Key().String(); got != "t|b" {
		t.Fatalf("unexpected key string %q", got)
	}
}

func TestNewerThan(t *testing.T) {
	at := func(d time.Duration, o Origin) Event { return Event{OccurredAt: fixedNow.Add(d), Origin: o} }
	cases := []struct {
		name     string
		incoming Event
		active   Event
		want     bool
	}{
		{"later wins", at(time.Second, OriginPoll), at(0, OriginChannel), true},
		{"earlier loses", at(-time.Second, OriginChannel), at(0, OriginPoll), false},
		{"channel tie over channel", at(0, OriginChannel), at(0, OriginChannel), true},
		{"poll tie over poll", at(0, OriginPoll), at(0, OriginPoll), true},
		{"channel tie over poll", at(0, OriginChannel), at(0, OriginPoll), true},
		{"poll tie under channel", at(0, OriginPoll), at(0, OriginChannel), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.incoming.NewerThan(tc.active); got != tc.want {
				t.Fatalf("NewerThan = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSyntheticIDDistinguishesSameTimestampUpdates(t *testing.T) {
	n := newTestNormalizer()
	base := func(rate float64) RawEvent {
		return RawEvent{
			"threadId":  "t1",
			"bidId":     "b1",
			"senderId":  "c1",
			"rate":      rate,
			"createdAt": "2026-03-01T11:59:00Z",
		}
	}
	first, err := n.Normalize(base(2800), AliasBidNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	second, err := n.Normalize(base(2900), AliasBidNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if first.EventID == second.EventID {
		t.Fatalf("different counter-offers share id %s", first.EventID)
	}
	again, _ := n.Normalize(base(2900), AliasLiveNegotiationUpdate, OriginPoll)
	if again.EventID != second.EventID {
		t.Fatalf("redelivery changed id: %s vs %s", again.EventID, second.EventID)
	}
}

func TestNormalizePrefersUpdateTime(t *testing.T) {
	raw := RawEvent{
		"bidId":     "b1",
		"senderId":  "c1",
		"rate":      2800.0,
		"createdAt": "2026-03-01T11:00:00Z",
		"updatedAt": "2026-03-01T11:59:30Z",
	}
	ev, err := newTestNormalizer().Normalize(raw, AliasBidNegotiationUpdate, OriginChannel)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)
	if !ev.OccurredAt.Equal(want) {
		t.Fatalf("OccurredAt = %v, want %v", ev.OccurredAt, want)
	}
}

func TestAliasesCoverInboundNames(t *testing.T) {
	names := Aliases()
	if len(names) != 9 {
		t.Fatalf("expected 9 aliases, got %d: %v", len(names), names)
	}
	if _, ok := LookupProfile(AliasPoll); ok {
		t.Fatal("poll is not an inbound alias")
	}
}
