package witness

import (
	"sync"
	"time"

	"github.com/openweald/weald/internal/world"
)

// EngagementState is where an NPC's attention is.
type EngagementState string

const (
	StateIdle       EngagementState = "idle"
	StateEngaged    EngagementState = "engaged"
	StateDistracted EngagementState = "distracted"
	StateLeaving    EngagementState = "leaving"
)

// Engagement defaults.
const (
	// distractedAfter is the idle time before an engaged NPC starts
	// glancing around.
	distractedAfter = 20 * time.Second

	// maxEngagements bounds the table; past it the stalest entry is evicted.
	maxEngagements = 256
)

// Engagement is one NPC's attention lock: what kind of thing holds it, how
// long it survives without interaction, and how far the NPC may drift before
// it breaks.
type Engagement struct {
	Type             string
	State            EngagementState
	AttentionSpan    time.Duration
	LastInteraction  time.Time
	MaxDistanceTiles float64
}

// Transition is one state change reported by the sweep. Ended is true when
// the engagement lapsed entirely and was removed.
type Transition struct {
	NPC   world.Ref
	From  EngagementState
	To    EngagementState
	Ended bool
}

// Engagements is the bounded attention side-channel, separate from the
// conversation table: an NPC watching a fight or listening in has an
// engagement but no conversation.
type Engagements struct {
	mu  sync.Mutex
	m   map[string]*Engagement
	now func() time.Time
}

// NewEngagements returns an empty engagement table.
func NewEngagements() *Engagements {
	return &Engagements{m: map[string]*Engagement{}, now: time.Now}
}

// Engage locks npc's attention. An existing engagement is replaced.
func (e *Engagements) Engage(npc world.Ref, typ string, span time.Duration, maxDistance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.m) >= maxEngagements {
		e.evictStalestLocked()
	}
	e.m[npc.String()] = &Engagement{
		Type:             typ,
		State:            StateEngaged,
		AttentionSpan:    span,
		LastInteraction:  e.now(),
		MaxDistanceTiles: maxDistance,
	}
}

// Touch renews npc's engagement, pulling a distracted NPC back in.
func (e *Engagements) Touch(npc world.Ref) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if eng, ok := e.m[npc.String()]; ok {
		eng.LastInteraction = e.now()
		eng.State = StateEngaged
	}
}

// Get returns npc's engagement, if any.
func (e *Engagements) Get(npc world.Ref) (Engagement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	eng, ok := e.m[npc.String()]
	if !ok {
		return Engagement{}, false
	}
	return *eng, true
}

// Release drops npc's engagement outright.
func (e *Engagements) Release(npc world.Ref) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.m, npc.String())
}

// Sweep ages every engagement: engaged turns distracted after 20 idle
// seconds, distracted lapses once idle exceeds the attention span. Run it at
// 1Hz or faster.
func (e *Engagements) Sweep() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var out []Transition
	for key, eng := range e.m {
		ref, err := world.ParseRef(key)
		if err != nil {
			delete(e.m, key)
			continue
		}
		idle := now.Sub(eng.LastInteraction)
		switch eng.State {
		case StateEngaged:
			if idle > distractedAfter {
				eng.State = StateDistracted
				out = append(out, Transition{NPC: ref, From: StateEngaged, To: StateDistracted})
			}
		case StateDistracted, StateLeaving:
			if idle > eng.AttentionSpan {
				delete(e.m, key)
				out = append(out, Transition{NPC: ref, From: eng.State, To: StateIdle, Ended: true})
			}
		}
	}
	return out
}

// evictStalestLocked drops the entry with the oldest interaction. Caller
// holds the mutex.
func (e *Engagements) evictStalestLocked() {
	var stalest string
	var when time.Time
	for key, eng := range e.m {
		if stalest == "" || eng.LastInteraction.Before(when) {
			stalest, when = key, eng.LastInteraction
		}
	}
	if stalest != "" {
		delete(e.m, stalest)
	}
}
