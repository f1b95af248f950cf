package perception

import (
	"sync"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/world"
)

// Memory bounds.
const (
	DefaultMaxEvents = 50
	DefaultTTL       = 5 * time.Minute
)

// Query narrows a memory read. Zero fields match everything.
type Query struct {
	Type        string
	Verb        action.Verb
	Since       time.Time
	MinThreat   float64
	MinInterest float64
}

func (q Query) matches(ev Event) bool {
	if q.Type != "" && ev.Type != q.Type {
		return false
	}
	if q.Verb != "" && ev.Verb != q.Verb {
		return false
	}
	if !q.Since.IsZero() && ev.At.Before(q.Since) {
		return false
	}
	if ev.Threat < q.MinThreat || ev.Interest < q.MinInterest {
		return false
	}
	return true
}

// Memory holds each observer's recent perceptions in a bounded list: at most
// maxEvents entries, none older than ttl. Pruning is amortised — every Add
// drops that observer's expired entries before appending, so a quiet
// observer's stale memories linger only until someone acts near them again.
type Memory struct {
	mu         sync.Mutex
	byObserver map[string][]Event
	maxEvents  int
	ttl        time.Duration
	now        func() time.Time
}

// NewMemory returns a memory with the default bounds.
func NewMemory() *Memory {
	return &Memory{
		byObserver: map[string][]Event{},
		maxEvents:  DefaultMaxEvents,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
}

// Add appends an event to the observer's list, evicting expired entries
// first and then the oldest entries past the cap.
func (m *Memory) Add(observer world.Ref, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := observer.String()
	list := m.pruneLocked(key)
	list = append(list, ev)
	if excess := len(list) - m.maxEvents; excess > 0 {
		list = append(list[:0:0], list[excess:]...)
	}
	m.byObserver[key] = list
}

// Recall returns the observer's events matching q, oldest first.
func (m *Memory) Recall(observer world.Ref, q Query) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, ev := range m.pruneLocked(observer.String()) {
		if q.matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Forget drops everything the observer remembers.
func (m *Memory) Forget(observer world.Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byObserver, observer.String())
}

// pruneLocked drops expired events for key and returns the surviving list.
// Caller holds the mutex.
func (m *Memory) pruneLocked(key string) []Event {
	list := m.byObserver[key]
	cutoff := m.now().Add(-m.ttl)
	kept := list[:0]
	for _, ev := range list {
		if !ev.At.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	m.byObserver[key] = kept
	return kept
}
