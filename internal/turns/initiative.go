package turns

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openweald/weald/internal/roll"
	"github.com/openweald/weald/internal/rules"
)

// RollInitiative rolls d20 + dex bonus for every participant and sorts the
// slice into turn order: total descending, ties broken by raw dex
// descending, then by a deterministic draw seeded with the event id so two
// runs of the same event agree.
func RollInitiative(eventID string, parts []*Participant, roller *roll.Roller) {
	for _, p := range parts {
		p.Initiative = roller.D20() + rules.StatBonus(p.RawDex)
	}
	SortInitiative(eventID, parts)
}

// SortInitiative orders already-stamped participants: total descending,
// then raw dex descending, then the event-seeded draw.
func SortInitiative(eventID string, parts []*Participant) {
	draw := func(i int) int {
		return roll.SeededDraw(eventID+"|"+parts[i].Ref.String(), 0, 1<<30)
	}
	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].Initiative != parts[j].Initiative {
			return parts[i].Initiative > parts[j].Initiative
		}
		if parts[i].RawDex != parts[j].RawDex {
			return parts[i].RawDex > parts[j].RawDex
		}
		return draw(i) > draw(j)
	})
}

// InitiativeLine renders the order for the Inbox announcement.
func InitiativeLine(parts []*Participant) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s (%d)", p.Ref, p.Initiative)
	}
	return sb.String()
}
