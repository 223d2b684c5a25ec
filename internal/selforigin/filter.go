// Package selforigin decides whether a negotiation event was produced by the local user.
package selforigin

import (
	"strings"

	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
)

// Predicate is one independent self-origin check.
type Predicate interface {
	Name() string
	Match(ev negotiation.Event, id identity.Identity) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc struct {
	name string
	fn   func(negotiation.Event, identity.Identity) bool
}

// NewPredicate wraps fn as a named Predicate.
func NewPredicate(name string, fn func(negotiation.Event, identity.Identity) bool) PredicateFunc {
	return PredicateFunc{name: name, fn: fn}
}

func (p PredicateFunc) Name() string { return p.name }

func (p PredicateFunc) Match(ev negotiation.Event, id identity.Identity) bool {
	return p.fn(ev, id)
}

// Built-in predicate names.
const (
	NameSenderID        = "sender_id"
	NameSenderName      = "sender_name"
	NameExplicitFlag    = "explicit_self_flag"
	NameRoleCorrelation = "role_correlated"
)

// SenderIDMatch fires when the event sender id equals the local id.
var SenderIDMatch = NewPredicate(NameSenderID, func(ev negotiation.Event, id identity.Identity) bool {
	return id.ID != "" && ev.SenderID == id.ID
})

// SenderNameMatch fires on an exact, case-sensitive display name match. Role placeholder names
// given to nameless senders never match.
var SenderNameMatch = NewPredicate(NameSenderName, func(ev negotiation.Event, id identity.Identity) bool {
	return id.DisplayName != "" && senderName(ev) == id.DisplayName
})

// ExplicitSelfFlag fires when the payload marked itself as the local user's.
var ExplicitSelfFlag = NewPredicate(NameExplicitFlag, func(ev negotiation.Event, _ identity.Identity) bool {
	return ev.SelfFlag
})

// RoleCorrelatedMatch fires for shipper and broker identities when the event carries the same
// role and the sender id or name matches loosely (trimmed, case folded). Carriers share a role
// with every other carrier on the load, so they never correlate by role.
var RoleCorrelatedMatch = NewPredicate(NameRoleCorrelation, func(ev negotiation.Event, id identity.Identity) bool {
	if id.Role != identity.RoleShipper && id.Role != identity.RoleBroker {
		return false
	}
	if ev.SenderRole != id.Role {
		return false
	}
	return looseEqual(ev.SenderID, id.ID) || looseEqual(senderName(ev), id.DisplayName)
})

// senderName returns the name the sender supplied, or "" for a role placeholder.
func senderName(ev negotiation.Event) string {
	if ev.SenderName == ev.SenderRole.DefaultName() {
		return ""
	}
	return ev.SenderName
}

func looseEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// DefaultPredicates returns the built-in checks in evaluation order.
func DefaultPredicates() []Predicate {
	return []Predicate{SenderIDMatch, SenderNameMatch, ExplicitSelfFlag, RoleCorrelatedMatch}
}

// Filter ORs a list of predicates. The zero value uses DefaultPredicates.
type Filter struct {
	predicates []Predicate
}

// NewFilter builds a Filter. With no predicates the defaults are used.
func NewFilter(predicates ...Predicate) *Filter {
	if len(predicates) == 0 {
		predicates = DefaultPredicates()
	}
	return &Filter{predicates: predicates}
}

// Match returns the name of the first predicate that fires, or "" when none does.
func (f *Filter) Match(ev negotiation.Event, id identity.Identity) string {
	predicates := DefaultPredicates()
	if f != nil && len(f.predicates) > 0 {
		predicates = f.predicates
	}
	for _, p := range predicates {
		if p.Match(ev, id) {
			return p.Name()
		}
	}
	return ""
}

// IsOwnEvent reports whether ev was produced by id. False positives only suppress a
// notification the user already knows about.
func (f *Filter) IsOwnEvent(ev negotiation.Event, id identity.Identity) bool {
	return f.Match(ev, id) != ""
}
