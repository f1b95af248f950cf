package turns

import (
	"testing"

	"github.com/openweald/weald/internal/world"
)

func TestDetectTrigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lines    []string
		wantType EventType
		wantRefs []string
		wantOK   bool
	}{
		{
			name:     "attack opens combat",
			lines:    []string{`ATTACK(actor=actor.hero, target=npc.grenda, hit=true, mag=4)`},
			wantType: EventCombat,
			wantRefs: []string{"actor.hero", "npc.grenda"},
			wantOK:   true,
		},
		{
			name:     "speech opens conversation",
			lines:    []string{`COMMUNICATE(actor=actor.hero, target=npc.grenda, volume=talk, message="hello")`},
			wantType: EventConversation,
			wantRefs: []string{"actor.hero", "npc.grenda"},
			wantOK:   true,
		},
		{
			name: "combat outranks conversation",
			lines: []string{
				`COMMUNICATE(actor=actor.hero, volume=shout, message="have at you")`,
				`ATTACK(actor=actor.hero, target=npc.borin, hit=false)`,
			},
			wantType: EventCombat,
			wantRefs: []string{"actor.hero", "npc.borin"},
			wantOK:   true,
		},
		{
			name: "participants deduped across lines",
			lines: []string{
				`ATTACK(actor=actor.hero, target=npc.grenda, hit=true, mag=2)`,
				`ATTACK(actor=actor.hero, target=npc.grenda, hit=true, mag=3)`,
			},
			wantType: EventCombat,
			wantRefs: []string{"actor.hero", "npc.grenda"},
			wantOK:   true,
		},
		{
			name:   "movement starts nothing",
			lines:  []string{`MOVE(actor=actor.hero, to="(4,5)")`},
			wantOK: false,
		},
		{
			name:   "unparseable lines skipped",
			lines:  []string{`garbage`, ``},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			typ, refs, ok := DetectTrigger(tt.lines)
			if ok != tt.wantOK {
				t.Fatalf("DetectTrigger() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if typ != tt.wantType {
				t.Errorf("type = %s, want %s", typ, tt.wantType)
			}
			if len(refs) != len(tt.wantRefs) {
				t.Fatalf("refs = %v, want %v", refs, tt.wantRefs)
			}
			for i, want := range tt.wantRefs {
				if refs[i] != world.MustRef(want) {
					t.Errorf("refs[%d] = %s, want %s", i, refs[i], want)
				}
			}
		})
	}
}
