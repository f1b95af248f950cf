// Package rules is the adjudication boundary: it turns a validated intent
// into event lines (human-readable records) and effect lines (machine
// commands in the SYSTEM.<OP> grammar of this package).
//
// The rules machine proper is an external collaborator. [Builtin] is the
// in-process reference adjudicator used when no external machine is
// configured; [Bridge] reaches one over MCP. Both implement [Adjudicator]
// and may span several iterations when dice are needed: an outcome with a
// non-empty NeedRoll suspends the intent until the roll result arrives, and
// adjudication re-enters with the accumulated rolls.
package rules

import (
	"context"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/world"
)

// MaxIterations caps adjudication rounds per intent. An adjudicator still
// demanding rolls at the cap fails the intent instead of looping.
const MaxIterations = 5

// RollOutcome is one resolved dice roll, in the order requested.
type RollOutcome struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Total      int    `json:"total"`
}

// Request is the input of one adjudication iteration. Records are snapshots;
// the adjudicator never mutates state.
type Request struct {
	Intent    *action.Intent
	Iteration int
	Rolls     []RollOutcome
	Actor     world.Record
	Target    world.Record // nil for untargeted verbs
	Distance  float64      // actor→target tiles, 0 when untargeted
}

// Outcome is the result of one adjudication iteration.
//
// Exactly one of two shapes comes back: a suspension (NeedRoll non-empty,
// everything else ignored) or a ruling (event and effect lines, Success,
// Warnings). A ruling with Success=false carries event lines describing the
// miss but usually no effects.
type Outcome struct {
	// NeedRoll, when non-empty, is a dice expression the pipeline must
	// resolve before re-entering adjudication at the next iteration.
	NeedRoll string `json:"need_roll,omitempty"`

	// EventLines are parsed-command records ("ATTACK(actor=..., hit=true)")
	// consumed by the turn manager's trigger detector and the journal.
	EventLines []string `json:"event_lines"`

	// EffectLines are SYSTEM.<OP>(...) commands for the state applier.
	EffectLines []string `json:"effect_lines"`

	// Success reports whether the action achieved its purpose.
	Success bool `json:"success"`

	// Warnings ride along on success responses ("at maximum range").
	Warnings []string `json:"warnings,omitempty"`
}

// Suspended reports whether the outcome demands a roll.
func (o Outcome) Suspended() bool { return o.NeedRoll != "" }

// Adjudicator is the rules-machine contract.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req Request) (Outcome, error)
}

// Func adapts a function to [Adjudicator]; handy for test doubles.
type Func func(ctx context.Context, req Request) (Outcome, error)

// Adjudicate implements [Adjudicator].
func (f Func) Adjudicate(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}
