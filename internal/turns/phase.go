// Package turns bounds free play into timed events: combat, conversation and
// exploration rounds with initiative order, a per-turn phase machine, held
// actions with reaction priorities, and end conditions that tear the event
// down and hand each NPC participant a journal entry.
package turns

// Phase is one station of the per-turn state machine.
type Phase string

const (
	PhaseTurnStart        Phase = "TURN_START"
	PhaseActionSelection  Phase = "ACTION_SELECTION"
	PhaseActionResolution Phase = "ACTION_RESOLUTION"
	PhaseTurnEnd          Phase = "TURN_END"
	PhaseEventEndCheck    Phase = "EVENT_END_CHECK"
	PhaseEventEnd         Phase = "EVENT_END"
)

// CanTransition reports whether from → to is a legal phase edge. The machine
// is a cycle with one exit:
//
//	TURN_START → ACTION_SELECTION → ACTION_RESOLUTION → TURN_END →
//	EVENT_END_CHECK → {TURN_START | EVENT_END}
//
// plus the timeout shortcut ACTION_SELECTION → TURN_END for skipped turns.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseTurnStart:
		return to == PhaseActionSelection
	case PhaseActionSelection:
		return to == PhaseActionResolution || to == PhaseTurnEnd
	case PhaseActionResolution:
		return to == PhaseTurnEnd
	case PhaseTurnEnd:
		return to == PhaseEventEndCheck
	case PhaseEventEndCheck:
		return to == PhaseTurnStart || to == PhaseEventEnd
	}
	return false
}

// TransitionRecord is the structured log line emitted on every phase change.
type TransitionRecord struct {
	EventID string
	Turn    int
	Round   int
	Actor   string
	From    Phase
	To      Phase
	Reason  string
}
