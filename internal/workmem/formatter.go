package workmem

import (
	"fmt"
	"strings"
	"time"

	"github.com/openweald/weald/internal/world"
)

// FormatBriefing renders a [WorkingMemory] as prompt-ready text for the
// adjudicator and the NPC dialogue provider. now anchors the relative
// timestamps on recalled perceptions.
//
// The formatter is pure: no I/O, no side effects, safe for concurrent use.
// Sections whose relevance fields came back empty are omitted rather than
// rendered as bare headers.
func FormatBriefing(wm *WorkingMemory, now time.Time) string {
	if wm == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s prepares to %s.", displayName(wm.Actor, wm.ActorRef), wm.ActorVerb)

	if cond := formatCondition(wm); cond != "" {
		sb.WriteString("\n\n## Condition\n")
		sb.WriteString(cond)
	}

	if wm.Relevance.Inventory {
		if inv := formatInventory(wm.Actor); inv != "" {
			sb.WriteString("\n\n## Carried\n")
			sb.WriteString(inv)
		}
	}

	if wm.Target != nil {
		sb.WriteString("\n\n## Target\n")
		sb.WriteString(formatTarget(wm.Target))
	}

	if scene := formatScene(wm); scene != "" {
		sb.WriteString("\n\n## Surroundings\n")
		sb.WriteString(scene)
	}

	if len(wm.Recent) > 0 {
		sb.WriteString("\n\n## Recent Impressions\n")
		sb.WriteString(formatRecent(wm, now))
	}

	if wm.Conversation != nil {
		sb.WriteString("\n\n## Conversation\n")
		fmt.Fprintf(&sb, "In conversation with %s.", wm.Conversation.Target)
		if len(wm.Conversation.Participants) > 2 {
			fmt.Fprintf(&sb, " %d participants in total.", len(wm.Conversation.Participants))
		}
	}

	return sb.String()
}

func displayName(rec world.Record, ref world.Ref) string {
	if rec != nil && rec.Name() != "" {
		return rec.Name()
	}
	return ref.String()
}

// formatCondition renders the stats the relevance row singled out plus
// health. Stats the record does not carry are skipped silently.
func formatCondition(wm *WorkingMemory) string {
	var lines []string
	for _, name := range wm.Relevance.Stats {
		if v, ok := wm.Actor.Stat(name); ok {
			lines = append(lines, fmt.Sprintf("%s: %.0f", name, v))
		}
	}
	if wm.Relevance.Health {
		if cur, max, ok := wm.Actor.Health(); ok {
			lines = append(lines, fmt.Sprintf("health: %.0f/%.0f", cur, max))
		}
	}
	return strings.Join(lines, "\n")
}

func formatInventory(rec world.Record) string {
	items := rec.Inventory()
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Count > 1 {
			parts = append(parts, fmt.Sprintf("%s x%d", it.Name, it.Count))
		} else {
			parts = append(parts, it.Name)
		}
	}
	return "Carrying: " + strings.Join(parts, ", ")
}

func formatTarget(rec world.Record) string {
	line := rec.Name()
	if line == "" {
		line = rec.ID()
	}
	if cur, max, ok := rec.Health(); ok {
		line += fmt.Sprintf(" (health %.0f/%.0f)", cur, max)
	}
	if loc, ok := rec.Location(); ok {
		line += fmt.Sprintf(" at (%d, %d)", loc.X, loc.Y)
	}
	return line
}

func formatScene(wm *WorkingMemory) string {
	var lines []string
	if wm.Place != nil {
		line := "Place: " + wm.Place.Name
		if n := len(wm.Place.Connections); n > 0 {
			exits := make([]string, 0, n)
			for _, c := range wm.Place.Connections {
				exits = append(exits, fmt.Sprintf("%s (%s)", c.TargetPlaceID, c.Direction))
			}
			line += ". Exits: " + strings.Join(exits, ", ")
		}
		lines = append(lines, line)
	}
	if len(wm.Occupants) > 0 {
		names := make([]string, 0, len(wm.Occupants))
		for _, ref := range wm.Occupants {
			names = append(names, ref.String())
		}
		lines = append(lines, "Also present: "+strings.Join(names, ", "))
	}
	return strings.Join(lines, "\n")
}

// formatRecent renders recalled perceptions oldest first, each with a
// relative timestamp and the clarity it registered at.
func formatRecent(wm *WorkingMemory, now time.Time) string {
	lines := make([]string, 0, len(wm.Recent))
	for _, ev := range wm.Recent {
		line := fmt.Sprintf("[%s] %s %s", relativeTime(now.Sub(ev.At)), ev.Actor, strings.ToLower(string(ev.Verb)))
		if !ev.Target.IsZero() {
			line += " toward " + ev.Target.String()
		}
		line += fmt.Sprintf(" (%s)", ev.Clarity)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// relativeTime compacts a duration into "just now", "30s ago", "2m ago".
func relativeTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
