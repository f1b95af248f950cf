package turns

import (
	"time"

	"github.com/openweald/weald/internal/world"
)

// EventType is the flavour of a timed event; each has its own round cap.
type EventType string

const (
	EventCombat       EventType = "combat"
	EventConversation EventType = "conversation"
	EventExploration  EventType = "exploration"
)

// maxRounds caps each event type before it force-ends.
var maxRounds = map[EventType]int{
	EventCombat:       20,
	EventConversation: 10,
	EventExploration:  15,
}

// MaxRounds returns the round cap for typ, 0 for unknown types.
func MaxRounds(typ EventType) int { return maxRounds[typ] }

// DefaultTurnTimeout is how long a participant may sit in ACTION_SELECTION
// before the turn is skipped.
const DefaultTurnTimeout = 60 * time.Second

// Participant is one entity in a timed event's initiative order.
type Participant struct {
	Ref        world.Ref
	Initiative int
	RawDex     float64

	// LeftRegion marks a participant whose region tile no longer matches
	// the event's; they keep their slot but receive no more turns.
	LeftRegion bool

	// Down marks a participant at zero health.
	Down bool

	// Disengaged and Farewelled feed the conversation end conditions.
	Disengaged bool
	Farewelled bool

	// Skipped counts turns lost to the selection timeout.
	Skipped int
}

// TimedEvent is one bounded encounter: its participants in initiative
// order, the phase machine position, and the held-action reserve.
type TimedEvent struct {
	ID   string
	Type EventType

	// Region pins the event to one region tile; participants are checked
	// against it every tick.
	Region world.Location

	Participants []*Participant

	Round   int // 1-based
	TurnIdx int // index into Participants
	Phase   Phase

	// TurnDeadline is when the current ACTION_SELECTION expires.
	TurnDeadline time.Time

	// ObjectiveMet ends an exploration event early.
	ObjectiveMet bool

	Held []HeldAction

	StartedAt time.Time
}

// Current returns the participant whose turn it is, nil when the order is
// empty.
func (e *TimedEvent) Current() *Participant {
	if len(e.Participants) == 0 {
		return nil
	}
	return e.Participants[e.TurnIdx%len(e.Participants)]
}

// ParticipantFor returns the participant entry for ref, nil when absent.
func (e *TimedEvent) ParticipantFor(ref world.Ref) *Participant {
	for _, p := range e.Participants {
		if p.Ref == ref {
			return p
		}
	}
	return nil
}

// Includes reports whether ref takes part in the event.
func (e *TimedEvent) Includes(ref world.Ref) bool {
	return e.ParticipantFor(ref) != nil
}

// advanceTurn moves to the next participant who can still act, wrapping
// into a new round when the order is exhausted. Returns false when nobody
// can act at all.
func (e *TimedEvent) advanceTurn() bool {
	n := len(e.Participants)
	for i := 1; i <= n; i++ {
		idx := e.TurnIdx + i
		wrapped := idx >= n
		idx %= n
		if p := e.Participants[idx]; !p.LeftRegion && !p.Down {
			if wrapped {
				e.Round++
			}
			e.TurnIdx = idx
			return true
		}
	}
	return false
}

// EndReason explains why an event finished.
type EndReason string

const (
	EndSideDown      EndReason = "side_down"
	EndRoundCap      EndReason = "round_cap"
	EndAllFarewelled EndReason = "all_farewelled"
	EndAllDisengaged EndReason = "all_disengaged"
	EndObjectiveMet  EndReason = "objective_met"
	EndNobodyLeft    EndReason = "nobody_left"
	EndForced        EndReason = "forced"
)

// endCondition evaluates the event's end rules. The second return is false
// while the event should continue.
func (e *TimedEvent) endCondition() (EndReason, bool) {
	if e.Round > MaxRounds(e.Type) {
		return EndRoundCap, true
	}

	switch e.Type {
	case EventCombat:
		if e.sideDown(world.KindActor) || e.sideDown(world.KindNPC) {
			return EndSideDown, true
		}
		active := 0
		for _, p := range e.Participants {
			if !p.LeftRegion && !p.Down {
				active++
			}
		}
		if active <= 1 {
			return EndNobodyLeft, true
		}
	case EventConversation:
		all := true
		for _, p := range e.Participants {
			if !p.Farewelled && !p.LeftRegion {
				all = false
				break
			}
		}
		if all {
			return EndAllFarewelled, true
		}
		all = true
		for _, p := range e.Participants {
			if !p.Disengaged && !p.LeftRegion {
				all = false
				break
			}
		}
		if all {
			return EndAllDisengaged, true
		}
	case EventExploration:
		if e.ObjectiveMet {
			return EndObjectiveMet, true
		}
	}
	return "", false
}

// sideDown reports whether every still-present participant of the given
// kind is at zero health. A side that was never present, or whose members
// all left the region, does not count as down.
func (e *TimedEvent) sideDown(kind world.RefKind) bool {
	present := false
	for _, p := range e.Participants {
		if p.Ref.Kind != kind || p.LeftRegion {
			continue
		}
		present = true
		if !p.Down {
			return false
		}
	}
	return present
}
