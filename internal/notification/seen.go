package notification

import (
	"container/list"
	"sync"
	"time"
)

// SeenIndex is a TTL-bound LRU of event ids. Ids outlive the notifications they produced so
// a redelivered event stays a duplicate after expiry or dismissal.
type SeenIndex struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	now   func() time.Time
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // id -> element
}

type seenEntry struct {
	id  string
	exp time.Time
}

// NewSeenIndex creates an index holding at most maxIDs ids for ttl each.
func NewSeenIndex(maxIDs int, ttl time.Duration, now func() time.Time) *SeenIndex {
	if maxIDs <= 0 {
		maxIDs = 5000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &SeenIndex{cap: maxIDs, ttl: ttl, now: now, ll: list.New(), items: make(map[string]*list.Element, maxIDs)}
}

// Seen reports whether id was marked and has not expired.
func (s *SeenIndex) Seen(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[id]
	if !ok {
		return false
	}
	if s.now().Before(el.Value.(seenEntry).exp) {
		s.ll.MoveToFront(el)
		return true
	}
	s.ll.Remove(el)
	delete(s.items, id)
	return false
}

// Mark records id, refreshing its expiry if already present.
func (s *SeenIndex) Mark(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if el, ok := s.items[id]; ok {
		el.Value = seenEntry{id: id, exp: now.Add(s.ttl)}
		s.ll.MoveToFront(el)
		return
	}
	s.items[id] = s.ll.PushFront(seenEntry{id: id, exp: now.Add(s.ttl)})
	for s.ll.Len() > s.cap {
		s.removeBack()
	}
	for back := s.ll.Back(); back != nil && !now.Before(back.Value.(seenEntry).exp); back = s.ll.Back() {
		s.removeBack()
	}
}

// Len returns the number of tracked ids, expired ones included until they are evicted.
func (s *SeenIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

func (s *SeenIndex) removeBack() {
	back := s.ll.Back()
	if back == nil {
		return
	}
	s.ll.Remove(back)
	delete(s.items, back.Value.(seenEntry).id)
}
