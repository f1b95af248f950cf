// Package perception propagates what the world's actions look, sound, smell
// and resonate like. Every observable action fans out to candidate observers
// in the same place; for each one, the sense gates pick the best channel, the
// clarity curve degrades the impression with distance, and the scored event
// lands in that observer's bounded memory for the witness layer to react to.
package perception

import (
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/world"
)

// Event types. Every action brackets with a start emission and a completion
// typed by its verb: speech completes as communication, movement batches as
// movement, everything else as action_completed. Damage rulings additionally
// emit damage_dealt (damage_received on the target itself), and a hit that
// drops the target to zero health emits combat_started.
const (
	TypeActionStarted   = "action_started"
	TypeActionCompleted = "action_completed"
	TypeCommunication   = "communication"
	TypeMovement        = "movement"
	TypeCombatStarted   = "combat_started"
	TypeDamageDealt     = "damage_dealt"
	TypeDamageReceived  = "damage_received"
)

// Clarity is how well an observer made out an event. The levels are ordered;
// degraded channels step down one level at a time.
type Clarity string

const (
	// ClarityClear means the observer saw or heard exactly what happened.
	ClarityClear Clarity = "clear"

	// ClarityVague means the broad shape registered but not the detail.
	ClarityVague Clarity = "vague"

	// ClaritySensed means a non-visual channel carried the event.
	ClaritySensed Clarity = "sensed"

	// ClarityObscured means something happened, nothing more.
	ClarityObscured Clarity = "obscured"

	// ClarityNone means the event did not register at all.
	ClarityNone Clarity = "none"
)

// rank orders clarities from none (0) to clear (4).
func (c Clarity) rank() int {
	switch c {
	case ClarityClear:
		return 4
	case ClarityVague:
		return 3
	case ClaritySensed:
		return 2
	case ClarityObscured:
		return 1
	}
	return 0
}

// Perceived reports whether the event registered at all.
func (c Clarity) Perceived() bool { return c.rank() > 0 }

// Downgrade steps the clarity one level toward none.
func (c Clarity) Downgrade() Clarity {
	switch c {
	case ClarityClear:
		return ClarityVague
	case ClarityVague:
		return ClaritySensed
	case ClaritySensed:
		return ClarityObscured
	}
	return ClarityNone
}

// ClarityFor applies the distance curve: ratio is the observer's distance
// over the best sense's effective range. visualOnly marks an impression
// carried by sight alone.
func ClarityFor(ratio float64, visualOnly bool) Clarity {
	switch {
	case ratio > 1:
		return ClarityNone
	case ratio <= 0.5:
		return ClarityClear
	case ratio <= 0.8:
		if visualOnly {
			return ClarityVague
		}
		return ClaritySensed
	default:
		return ClarityVague
	}
}

// Event is one observer's impression of one action.
type Event struct {
	ID       string
	Observer world.Ref
	Actor    world.Ref
	Target   world.Ref

	Verb    action.Verb
	Subtype string
	Type    string // one of the Type* constants

	Sense    world.Sense
	Clarity  Clarity
	Distance float64

	Threat   float64
	Interest float64
	Urgency  float64

	// Summary is the human line shown when the observer recalls the event.
	// Obscured impressions carry a degraded summary.
	Summary string

	At time.Time
}
