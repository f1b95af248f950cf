package turns

import (
	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/rules"
	"github.com/openweald/weald/internal/world"
)

// DetectTrigger scans a ruling's parsed event lines for verbs that open a
// timed event. ATTACK opens combat, COMMUNICATE a conversation; combat wins
// when both appear. The returned refs are the explicit participants named by
// the event records (actor and targets); the second return is false when
// nothing in the lines starts an event.
func DetectTrigger(eventLines []string) (EventType, []world.Ref, bool) {
	var typ EventType
	seen := map[world.Ref]bool{}
	var parts []world.Ref

	add := func(ref world.Ref) {
		if ref.IsZero() || seen[ref] {
			return
		}
		seen[ref] = true
		parts = append(parts, ref)
	}

	for _, line := range eventLines {
		cmd, err := rules.ParseCommand(line)
		if err != nil {
			continue
		}
		switch cmd.Op {
		case string(action.VerbAttack):
			typ = EventCombat
		case string(action.VerbCommunicate):
			if typ == "" {
				typ = EventConversation
			}
		default:
			continue
		}
		for _, key := range []string{"actor", "target"} {
			if ref, err := world.ParseRef(cmd.ArgText(key)); err == nil {
				add(ref)
			}
		}
	}
	if typ == "" {
		return "", nil, false
	}
	return typ, parts, true
}
