package workmem

import (
	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/perception"
)

// Relevance declares which slices of world state one verb needs loaded into
// working memory. The table below is the single authority: handlers never
// request fields ad hoc, they get exactly what their verb's row grants.
type Relevance struct {
	// Stats names the actor stats worth surfacing for this verb.
	Stats []string

	// Health includes the actor's current/max health.
	Health bool

	// Inventory includes the actor's carried items.
	Inventory bool

	// Target loads the target entity's record when the intent names one.
	Target bool

	// Place loads the place record for the actor's current location,
	// connections and features included.
	Place bool

	// Occupants lists who else the place-entity index has at the location.
	Occupants bool

	// Recent recalls the actor's perception memory, narrowed by RecentQuery.
	Recent bool

	// RecentQuery filters the recall when Recent is set. The zero query
	// matches every remembered event.
	RecentQuery perception.Query

	// Conversation includes the actor's live conversation state, if any.
	Conversation bool
}

// relevanceTable maps every catalog verb to its working-memory needs. The
// verb set is closed, so a missing row is a programming error; RelevanceFor
// falls back to the WAIT row rather than panicking.
var relevanceTable = map[action.Verb]Relevance{
	action.VerbAttack: {
		Stats:       []string{"str", "dex"},
		Health:      true,
		Inventory:   true,
		Target:      true,
		Place:       true,
		Occupants:   true,
		Recent:      true,
		RecentQuery: perception.Query{MinThreat: 30},
	},
	action.VerbDefend: {
		Stats:       []string{"dex", "con"},
		Health:      true,
		Recent:      true,
		RecentQuery: perception.Query{Verb: action.VerbAttack},
	},
	action.VerbMove: {
		Stats:     []string{"dex"},
		Place:     true,
		Occupants: true,
	},
	action.VerbTravel: {
		Inventory: true, // keyed doors check carried items
		Place:     true,
	},
	action.VerbCommunicate: {
		Target:       true,
		Occupants:    true,
		Recent:       true,
		RecentQuery:  perception.Query{Verb: action.VerbCommunicate},
		Conversation: true,
	},
	action.VerbUse: {
		Inventory: true,
		Target:    true,
		Place:     true,
	},
	action.VerbExamine: {
		Target: true,
		Place:  true,
		Recent: true,
	},
	action.VerbTake: {
		Inventory: true,
		Target:    true,
		Place:     true,
	},
	action.VerbDrop: {
		Inventory: true,
		Place:     true,
	},
	action.VerbGive: {
		Inventory: true,
		Target:    true,
		Occupants: true,
	},
	action.VerbEquip: {
		Inventory: true,
	},
	action.VerbCast: {
		Stats:     []string{"int", "wis"},
		Health:    true,
		Target:    true,
		Place:     true,
		Occupants: true,
	},
	action.VerbHide: {
		Stats:     []string{"dex"},
		Place:     true,
		Occupants: true,
	},
	action.VerbSearch: {
		Place:  true,
		Recent: true,
	},
	action.VerbWait: {},
}

// RelevanceFor returns the verb's row of the relevance table. Unknown verbs
// get the minimal WAIT row.
func RelevanceFor(verb action.Verb) Relevance {
	if r, ok := relevanceTable[verb]; ok {
		return r
	}
	return relevanceTable[action.VerbWait]
}
