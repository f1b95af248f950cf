package rules

import (
	"context"
	"fmt"
	"math"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/world"
)

// Effect operation names accepted by the state applier.
const (
	OpApplyDamage     = "APPLY_DAMAGE"
	OpApplyHeal       = "APPLY_HEAL"
	OpAdjustInventory = "ADJUST_INVENTORY"
	OpSetAwareness    = "SET_AWARENESS"
	OpSetOccupancy    = "SET_OCCUPANCY"
)

// StatBonus converts a raw 0–100 stat into its roll modifier:
// floor((stat − 50) / 10).
func StatBonus(stat float64) int {
	return int(math.Floor((stat - 50) / 10))
}

// Compile-time interface check.
var _ Adjudicator = (*Builtin)(nil)

// Builtin is the in-process reference adjudicator. It implements the small
// verb table directly: contested verbs (ATTACK, CAST) burn iterations on
// dice, everything else rules in one pass.
type Builtin struct{}

// NewBuiltin returns the reference adjudicator.
func NewBuiltin() *Builtin { return &Builtin{} }

// Adjudicate implements [Adjudicator].
func (b *Builtin) Adjudicate(ctx context.Context, req Request) (Outcome, error) {
	if req.Iteration > MaxIterations {
		return Outcome{}, fault.Newf(fault.Internal, "rules: adjudicate",
			"intent %s exceeded %d adjudication iterations", req.Intent.ID, MaxIterations)
	}
	switch req.Intent.Verb {
	case action.VerbAttack:
		return b.attack(req), nil
	case action.VerbCast:
		return b.cast(req), nil
	case action.VerbCommunicate:
		return b.communicate(req), nil
	case action.VerbTake:
		return b.adjustInventory(req, req.Intent.ActorRef, itemOf(req), 1), nil
	case action.VerbDrop:
		return b.adjustInventory(req, req.Intent.ActorRef, itemOf(req), -1), nil
	case action.VerbGive:
		return b.give(req), nil
	case action.VerbUse:
		return b.use(req), nil
	case action.VerbExamine:
		return b.examine(req), nil
	default:
		// MOVE, TRAVEL, DEFEND, EQUIP, HIDE, SEARCH, WAIT rule in one pass
		// with no record effects; their consequences live in the movement
		// and travel engines or in later perception.
		return Outcome{
			Success: true,
			EventLines: []string{Command{
				Op: string(req.Intent.Verb),
				Args: map[string]Value{
					"actor": Ident(req.Intent.ActorRef.String()),
				},
			}.String()},
		}, nil
	}
}

// attack runs the three-iteration melee exchange: attack roll, then damage
// roll on a hit, then the ruling.
func (b *Builtin) attack(req Request) Outcome {
	atkBonus := StatBonus(stat(req.Actor, "str"))
	defense := 10 + StatBonus(stat(req.Target, "dex"))

	switch len(req.Rolls) {
	case 0:
		return Outcome{NeedRoll: rollExpr("1d20", atkBonus)}
	case 1:
		if req.Rolls[0].Total < defense {
			return Outcome{
				Success: false,
				EventLines: []string{attackEvent(req, false, 0)},
			}
		}
		return Outcome{NeedRoll: rollExpr("1d6", atkBonus)}
	default:
		mag := req.Rolls[1].Total
		if mag < 1 {
			mag = 1
		}
		out := Outcome{
			Success:    true,
			EventLines: []string{attackEvent(req, true, mag)},
			EffectLines: []string{SystemLine(OpApplyDamage, map[string]Value{
				"target": Ident(req.Intent.TargetRef.String()),
				"mag":    Num(float64(mag)),
			})},
		}
		if def, ok := defOf(req); ok && req.Distance >= def.MaxRangeTiles {
			out.Warnings = append(out.Warnings, "at maximum range")
		}
		return out
	}
}

// cast is a two-iteration thaumic strike: one damage roll, then the ruling.
func (b *Builtin) cast(req Request) Outcome {
	bonus := StatBonus(stat(req.Actor, "wis"))
	if len(req.Rolls) == 0 {
		return Outcome{NeedRoll: rollExpr("2d6", bonus)}
	}
	mag := req.Rolls[0].Total
	if mag < 1 {
		mag = 1
	}
	return Outcome{
		Success: true,
		EventLines: []string{Command{Op: string(action.VerbCast), Args: map[string]Value{
			"actor":  Ident(req.Intent.ActorRef.String()),
			"target": Ident(req.Intent.TargetRef.String()),
			"mag":    Num(float64(mag)),
		}}.String()},
		EffectLines: []string{SystemLine(OpApplyDamage, map[string]Value{
			"target": Ident(req.Intent.TargetRef.String()),
			"mag":    Num(float64(mag)),
		})},
	}
}

func (b *Builtin) communicate(req Request) Outcome {
	args := map[string]Value{
		"actor":   Ident(req.Intent.ActorRef.String()),
		"volume":  Ident(req.Intent.Subtype()),
		"message": Str(req.Intent.StringParam("message")),
	}
	if !req.Intent.TargetRef.IsZero() {
		args["target"] = Ident(req.Intent.TargetRef.String())
	}
	return Outcome{
		Success:    true,
		EventLines: []string{Command{Op: string(action.VerbCommunicate), Args: args}.String()},
	}
}

func (b *Builtin) adjustInventory(req Request, target world.Ref, item string, mag int) Outcome {
	if item == "" {
		return Outcome{Success: false, EventLines: []string{Command{
			Op: string(req.Intent.Verb),
			Args: map[string]Value{
				"actor":  Ident(req.Intent.ActorRef.String()),
				"reason": Str("no item named"),
			},
		}.String()}}
	}
	return Outcome{
		Success: true,
		EventLines: []string{Command{Op: string(req.Intent.Verb), Args: map[string]Value{
			"actor": Ident(req.Intent.ActorRef.String()),
			"item":  Ident(item),
		}}.String()},
		EffectLines: []string{SystemLine(OpAdjustInventory, map[string]Value{
			"target": Ident(target.String()),
			"item":   Ident(item),
			"mag":    Num(float64(mag)),
		})},
	}
}

func (b *Builtin) give(req Request) Outcome {
	item := itemOf(req)
	if item == "" || req.Intent.TargetRef.IsZero() {
		return Outcome{Success: false, EventLines: []string{
			fmt.Sprintf("GIVE(actor=%s, reason=\"missing item or recipient\")", req.Intent.ActorRef),
		}}
	}
	return Outcome{
		Success: true,
		EventLines: []string{Command{Op: string(action.VerbGive), Args: map[string]Value{
			"actor":  Ident(req.Intent.ActorRef.String()),
			"target": Ident(req.Intent.TargetRef.String()),
			"item":   Ident(item),
		}}.String()},
		EffectLines: []string{
			SystemLine(OpAdjustInventory, map[string]Value{
				"target": Ident(req.Intent.ActorRef.String()),
				"item":   Ident(item),
				"mag":    Num(-1),
			}),
			SystemLine(OpAdjustInventory, map[string]Value{
				"target": Ident(req.Intent.TargetRef.String()),
				"item":   Ident(item),
				"mag":    Num(1),
			}),
		},
	}
}

// use handles the one consumable the reference table knows: anything tagged
// "healing" in parameters heals 2d4 worth, flat 5 without a roll to keep USE
// single-iteration.
func (b *Builtin) use(req Request) Outcome {
	out := Outcome{
		Success: true,
		EventLines: []string{Command{Op: string(action.VerbUse), Args: map[string]Value{
			"actor":  Ident(req.Intent.ActorRef.String()),
			"target": Ident(req.Intent.TargetRef.String()),
		}}.String()},
	}
	if req.Intent.StringParam("effect") == "healing" {
		out.EffectLines = append(out.EffectLines, SystemLine(OpApplyHeal, map[string]Value{
			"target": Ident(req.Intent.ActorRef.String()),
			"mag":    Num(5),
		}))
	}
	return out
}

func (b *Builtin) examine(req Request) Outcome {
	return Outcome{
		Success: true,
		EventLines: []string{Command{Op: string(action.VerbExamine), Args: map[string]Value{
			"actor":  Ident(req.Intent.ActorRef.String()),
			"target": Ident(req.Intent.TargetRef.String()),
		}}.String()},
		EffectLines: []string{SystemLine(OpSetAwareness, map[string]Value{
			"observer": Ident(req.Intent.ActorRef.String()),
			"target":   Ident(req.Intent.TargetRef.String()),
		})},
	}
}

func attackEvent(req Request, hit bool, mag int) string {
	args := map[string]Value{
		"actor":  Ident(req.Intent.ActorRef.String()),
		"target": Ident(req.Intent.TargetRef.String()),
		"hit":    Ident(fmt.Sprintf("%t", hit)),
	}
	if hit {
		args["mag"] = Num(float64(mag))
	}
	return Command{Op: string(action.VerbAttack), Args: args}.String()
}

func rollExpr(dice string, bonus int) string {
	switch {
	case bonus > 0:
		return fmt.Sprintf("%s+%d", dice, bonus)
	case bonus < 0:
		return fmt.Sprintf("%s%d", dice, bonus)
	}
	return dice
}

func stat(rec world.Record, name string) float64 {
	if rec == nil {
		return 50
	}
	v, ok := rec.Stat(name)
	if !ok {
		return 50
	}
	return v
}

func itemOf(req Request) string {
	if s := req.Intent.StringParam("item"); s != "" {
		return s
	}
	if req.Intent.TargetRef.Kind == world.KindItem {
		return req.Intent.TargetRef.ID
	}
	return ""
}

var registry = action.NewRegistry()

func defOf(req Request) (action.Definition, bool) {
	return registry.Lookup(req.Intent.Verb)
}
