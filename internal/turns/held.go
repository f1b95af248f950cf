package turns

import (
	"sort"
	"strings"
	"time"

	"github.com/openweald/weald/internal/world"
)

// TriggerType names what a held action waits for.
type TriggerType string

const (
	TriggerCounterSpell      TriggerType = "COUNTER_SPELL"
	TriggerInterrupt         TriggerType = "INTERRUPT"
	TriggerEvade             TriggerType = "EVADE"
	TriggerDefendAlly        TriggerType = "DEFEND_ALLY"
	TriggerOpportunityAttack TriggerType = "OPPORTUNITY_ATTACK"
	TriggerReadyAction       TriggerType = "READY_ACTION"
	TriggerWarning           TriggerType = "WARNING"
)

// triggerPriorities orders reactions when several fire on one stimulus.
var triggerPriorities = map[TriggerType]int{
	TriggerCounterSpell:      10,
	TriggerInterrupt:         9,
	TriggerEvade:             8,
	TriggerDefendAlly:        7,
	TriggerOpportunityAttack: 6,
	TriggerReadyAction:       5,
	TriggerWarning:           3,
}

// Priority returns the reaction priority of t, 0 for unknown types.
func Priority(t TriggerType) int { return triggerPriorities[t] }

// StimulusKind classifies an in-event happening that may trip held actions.
type StimulusKind string

const (
	StimulusMove       StimulusKind = "move"
	StimulusAttack     StimulusKind = "attack"
	StimulusCast       StimulusKind = "cast"
	StimulusAreaEffect StimulusKind = "area_effect"
	StimulusApproach   StimulusKind = "approach"
)

// Stimulus is one potentially triggering happening.
type Stimulus struct {
	Kind  StimulusKind
	Actor world.Ref
	// Target is who the stimulus is aimed at, zero when untargeted.
	Target world.Ref
}

// Trigger is a held action's firing condition.
type Trigger struct {
	Type TriggerType

	// Condition narrows the trigger: "enemy_moves", "hostile_casts",
	// "anyone_approaches". The empty condition fires on any stimulus the
	// type covers.
	Condition string
}

// HeldAction is a reserved action waiting for its trigger.
type HeldAction struct {
	Actor   world.Ref
	Action  string
	Trigger Trigger

	HeldSince time.Time

	// ExpiresAtTurn bounds the reserve; zero means it survives until the
	// event ends.
	ExpiresAtTurn int
}

// covers maps each trigger type to the stimulus kinds that can fire it.
func (t TriggerType) covers(kind StimulusKind) bool {
	switch t {
	case TriggerCounterSpell:
		return kind == StimulusCast
	case TriggerInterrupt:
		return kind == StimulusCast || kind == StimulusAttack
	case TriggerEvade, TriggerDefendAlly:
		return kind == StimulusAttack || kind == StimulusAreaEffect
	case TriggerOpportunityAttack:
		return kind == StimulusMove || kind == StimulusApproach
	case TriggerReadyAction, TriggerWarning:
		return true
	}
	return false
}

// Matches reports whether the held action fires on s. The holder never
// reacts to their own stimulus.
func (h HeldAction) Matches(s Stimulus) bool {
	if h.Actor == s.Actor {
		return false
	}
	if !h.Trigger.Type.covers(s.Kind) {
		return false
	}
	if c := h.Trigger.Condition; c != "" {
		// Conditions name the stimulus kind or a participant.
		if !strings.Contains(c, string(s.Kind)) && !strings.Contains(c, s.Actor.ID) {
			return false
		}
	}
	return true
}

// MatchHeld returns the held actions firing on s, highest priority first.
// Equal priorities keep their held order (first held reacts first).
func MatchHeld(held []HeldAction, s Stimulus) []HeldAction {
	var fired []HeldAction
	for _, h := range held {
		if h.Matches(s) {
			fired = append(fired, h)
		}
	}
	sort.SliceStable(fired, func(i, j int) bool {
		return Priority(fired[i].Trigger.Type) > Priority(fired[j].Trigger.Type)
	})
	return fired
}
