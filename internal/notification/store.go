// Package notification keeps the bounded, time-limited feed of negotiation notifications.
package notification

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/negosync/internal/negotiation"
)

// Defaults applied when Config fields are zero.
const (
	DefaultTTL      = 12 * time.Second
	DefaultMaxItems = 20
	DefaultSeenTTL  = 24 * time.Hour
	DefaultSeenMax  = 5000
)

// Notification is a surfaced event plus presentation metadata.
type Notification struct {
	negotiation.Event
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Dismissed bool      `json:"dismissed"`
}

// Outcome classifies what Upsert did with an event.
type Outcome int

const (
	Inserted Outcome = iota
	Replaced
	Stale
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Stale:
		return "stale"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Surfaced reports whether the outcome produced a new active notification.
func (o Outcome) Surfaced() bool {
	return o == Inserted || o == Replaced
}

// RemoveReason tells why a notification left the store.
type RemoveReason string

const (
	RemovedDismissed  RemoveReason = "dismissed"
	RemovedSuperseded RemoveReason = "superseded"
	RemovedExpired    RemoveReason = "expired"
	RemovedEvicted    RemoveReason = "evicted"
)

// Config bounds the store.
type Config struct {
	TTL      time.Duration
	MaxItems int
	SeenTTL  time.Duration
	SeenMax  int
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRemoveHook registers fn to be called for every notification leaving the store.
// fn runs with the store lock held and must not call back into the store.
func WithRemoveHook(fn func(Notification, RemoveReason)) Option {
	return func(s *Store) {
		s.onRemove = fn
	}
}

// Store holds at most one active notification per (thread, bid) key, ordered most recent first.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	max      int
	now      func() time.Time
	onRemove func(Notification, RemoveReason)
	ll       *list.List // *Notification, most recent at front
	byKey    map[negotiation.Key]*list.Element
	byID     map[string]*list.Element
	seen     *SeenIndex
}

// NewStore creates an empty store.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = DefaultSeenTTL
	}
	if cfg.SeenMax <= 0 {
		cfg.SeenMax = DefaultSeenMax
	}
	s := &Store{
		ttl:   cfg.TTL,
		max:   cfg.MaxItems,
		now:   time.Now,
		ll:    list.New(),
		byKey: map[negotiation.Key]*list.Element{},
		byID:  map[string]*list.Element{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seen = NewSeenIndex(cfg.SeenMax, cfg.SeenTTL, s.now)
	return s
}

// Upsert merges ev into the store. A duplicate event id or an event older than the active one
// on the same key leaves the store unchanged; otherwise ev becomes the head notification.
func (s *Store) Upsert(ev negotiation.Event) (Notification, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)

	key := ev.Key()
	current, hasCurrent := s.byKey[key]
	if s.seen.Seen(ev.EventID) {
		if hasCurrent {
			return *current.Value.(*Notification), Duplicate
		}
		return Notification{}, Duplicate
	}
	s.seen.Mark(ev.EventID)

	outcome := Inserted
	if hasCurrent {
		active := current.Value.(*Notification)
		if !ev.NewerThan(active.Event) {
			return *active, Stale
		}
		s.removeLocked(current, RemovedSuperseded)
		outcome = Replaced
	}

	n := &Notification{
		Event:     ev,
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	el := s.ll.PushFront(n)
	s.byKey[key] = el
	s.byID[n.ID] = el
	for s.ll.Len() > s.max {
		s.removeLocked(s.ll.Back(), RemovedEvicted)
	}
	return *n, outcome
}

// Covers reports whether ev would add nothing: its id was seen already, or the active
// notification on its key is at least as fresh.
func (s *Store) Covers(ev negotiation.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen.Seen(ev.EventID) {
		return true
	}
	s.sweepLocked(s.now())
	el, ok := s.byKey[ev.Key()]
	if !ok {
		return false
	}
	return !ev.NewerThan(el.Value.(*Notification).Event)
}

// List returns the active notifications, most recent first.
func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	out := make([]Notification, 0, s.ll.Len())
	for el := s.ll.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Notification))
	}
	return out
}

// Get returns the active notification with id.
func (s *Store) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	el, ok := s.byID[id]
	if !ok {
		return Notification{}, false
	}
	return *el.Value.(*Notification), true
}

// Len returns the number of notifications currently held, expired ones not yet swept included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// Dismiss removes the notification with id.
func (s *Store) Dismiss(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.byID[id]
	if !ok {
		return false
	}
	s.removeLocked(el, RemovedDismissed)
	return true
}

// DismissAll removes every notification and returns how many were removed.
func (s *Store) DismissAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for el := s.ll.Front(); el != nil; el = s.ll.Front() {
		s.removeLocked(el, RemovedDismissed)
		count++
	}
	return count
}

// Sweep removes expired notifications and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// NextExpiry returns the earliest expiry among held notifications.
func (s *Store) NextExpiry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for el := s.ll.Front(); el != nil; el = el.Next() {
		exp := el.Value.(*Notification).ExpiresAt
		if next.IsZero() || exp.Before(next) {
			next = exp
		}
	}
	return next, !next.IsZero()
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for el := s.ll.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*Notification).ExpiresAt) {
			s.removeLocked(el, RemovedExpired)
			removed++
		}
		el = next
	}
	return removed
}

func (s *Store) removeLocked(el *list.Element, reason RemoveReason) {
	n := el.Value.(*Notification)
	s.ll.Remove(el)
	delete(s.byID, n.ID)
	if cur, ok := s.byKey[n.Key()]; ok && cur == el {
		delete(s.byKey, n.Key())
	}
	if s.onRemove != nil {
		removed := *n
		removed.Dismissed = reason == RemovedDismissed
		s.onRemove(removed, reason)
	}
}
