package selforigin

import (
	"testing"

	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
)

func TestSelfSuppression(t *testing.T) {
	alice := identity.Identity{ID: "u1", DisplayName: "Alice", Role: identity.RoleCarrier}
	f := NewFilter()

	tests := []struct {
		name string
		ev   negotiation.Event
		want string
	}{
		{"own id", negotiation.Event{SenderID: "u1", SenderName: "Someone"}, NameSenderID},
		{"own name", negotiation.Event{SenderID: "u2", SenderName: "Alice"}, NameSenderName},
		{"flagged", negotiation.Event{SenderID: "u9", SenderName: "Bot", SelfFlag: true}, NameExplicitFlag},
		{"other", negotiation.Event{SenderID: "u2", SenderName: "Bob"}, ""},
		{"name case differs", negotiation.Event{SenderID: "u2", SenderName: "alice"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Match(tt.ev, alice); got != tt.want {
				t.Fatalf("Match = %q, want %q", got, tt.want)
			}
			if f.IsOwnEvent(tt.ev, alice) != (tt.want != "") {
				t.Fatalf("IsOwnEvent disagrees with Match")
			}
		})
	}
}

func TestRoleCorrelatedMatch(t *testing.T) {
	shipper := identity.Identity{ID: "S-1", DisplayName: "Acme Foods", Role: identity.RoleShipper}
	tests := []struct {
		name string
		id   identity.Identity
		ev   negotiation.Event
		want bool
	}{
		{"shipper loose name", shipper, negotiation.Event{SenderRole: identity.RoleShipper, SenderName: " acme foods ", SenderID: "x"}, true},
		{"shipper loose id", shipper, negotiation.Event{SenderRole: identity.RoleShipper, SenderID: "s-1"}, true},
		{"role differs", shipper, negotiation.Event{SenderRole: identity.RoleBroker, SenderID: "s-1"}, false},
		{"carrier never correlates", identity.Identity{ID: "c1", DisplayName: "Carl", Role: identity.RoleCarrier}, negotiation.Event{SenderRole: identity.RoleCarrier, SenderID: "C1"}, false},
		{"empty values", shipper, negotiation.Event{SenderRole: identity.RoleShipper}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleCorrelatedMatch.Match(tt.ev, tt.id); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestAnonymousSendersAreNotOwn(t *testing.T) {
	normalizer := negotiation.NewNormalizer()
	tests := []struct {
		name  string
		claim map[string]any
		alias string
		raw   negotiation.RawEvent
	}{
		{
			name:  "broker colleague without a name",
			claim: map[string]any{"sub": "emp1", "userType": "inhouse"},
			alias: negotiation.AliasInhouseInternalNegotiate,
			raw:   negotiation.RawEvent{"employeeId": "emp2", "bidId": "b1", "inhouseCounterRate": 2750.0},
		},
		{
			name:  "other carrier without a name",
			claim: map[string]any{"sub": "c1"},
			alias: negotiation.AliasNewNegotiationMessage,
			raw:   negotiation.RawEvent{"senderId": "driver7", "senderRole": "carrier", "bidId": "b1", "message": "can do 2600"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := identity.FromClaims(tt.claim)
			ev, err := normalizer.Normalize(tt.raw, tt.alias, negotiation.OriginChannel)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got := NewFilter().Match(ev, id); got != "" {
				t.Fatalf("event from %s suppressed by %q", ev.SenderID, got)
			}
		})
	}

	named := identity.Identity{ID: "emp1", DisplayName: "Broker", Role: identity.RoleBroker}
	placeholder := negotiation.Event{SenderID: "emp2", SenderName: "Broker", SenderRole: identity.RoleBroker}
	if got := NewFilter().Match(placeholder, named); got != "" {
		t.Fatalf("placeholder name matched by %q", got)
	}
}

func TestCustomPredicates(t *testing.T) {
	never := NewPredicate("never", func(negotiation.Event, identity.Identity) bool { return false })
	f := NewFilter(never)
	if f.IsOwnEvent(negotiation.Event{SenderID: "u1"}, identity.Identity{ID: "u1"}) {
		t.Fatal("custom predicate list must replace the defaults")
	}
	var zero *Filter
	if got := zero.Match(negotiation.Event{SenderID: "u1"}, identity.Identity{ID: "u1"}); got != NameSenderID {
		t.Fatalf("nil filter should use defaults, got %q", got)
	}
}
