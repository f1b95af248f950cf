// Package action models the closed catalog of things an entity can do — the
// verb table, each verb's perceptibility and targeting rules — and the
// Intent, the unit of work that carries one actor's attempt at a verb
// through the pipeline.
//
// The verb set is deliberately closed: handlers dispatch on it exhaustively
// and the relevance tables in workmem key off it. Adding a verb means
// touching the catalog here, never registering from outside.
package action

import "strings"

// Verb identifies one entry of the action catalog.
type Verb string

const (
	VerbAttack      Verb = "ATTACK"
	VerbDefend      Verb = "DEFEND"
	VerbMove        Verb = "MOVE"
	VerbTravel      Verb = "TRAVEL"
	VerbCommunicate Verb = "COMMUNICATE"
	VerbUse         Verb = "USE"
	VerbExamine     Verb = "EXAMINE"
	VerbTake        Verb = "TAKE"
	VerbDrop        Verb = "DROP"
	VerbGive        Verb = "GIVE"
	VerbEquip       Verb = "EQUIP"
	VerbCast        Verb = "CAST"
	VerbHide        Verb = "HIDE"
	VerbSearch      Verb = "SEARCH"
	VerbWait        Verb = "WAIT"
)

// ParseVerb maps a case-insensitive verb name onto the catalog.
func ParseVerb(s string) (Verb, bool) {
	v := Verb(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VerbAttack, VerbDefend, VerbMove, VerbTravel, VerbCommunicate,
		VerbUse, VerbExamine, VerbTake, VerbDrop, VerbGive, VerbEquip,
		VerbCast, VerbHide, VerbSearch, VerbWait:
		return v, true
	}
	return "", false
}

// Category groups verbs for working-memory relevance and turn bookkeeping.
type Category string

const (
	CategoryCombat      Category = "combat"
	CategoryMovement    Category = "movement"
	CategorySocial      Category = "social"
	CategoryInteraction Category = "interaction"
	CategoryStealth     Category = "stealth"
	CategoryPassive     Category = "passive"
)

// Movement subtypes, derived from entity speed by the movement engine and
// selecting distinct sense profiles.
const (
	SubtypeWalk   = "WALK"
	SubtypeSneak  = "SNEAK"
	SubtypeSprint = "SPRINT"
)

// Communication subtypes, carried in intent parameters as "volume".
const (
	SubtypeWhisper = "whisper"
	SubtypeTalk    = "talk"
	SubtypeShout   = "shout"
)
