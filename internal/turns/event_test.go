package turns

import (
	"testing"

	"github.com/openweald/weald/internal/world"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseTurnStart, PhaseActionSelection, true},
		{PhaseActionSelection, PhaseActionResolution, true},
		{PhaseActionSelection, PhaseTurnEnd, true}, // timeout shortcut
		{PhaseActionResolution, PhaseTurnEnd, true},
		{PhaseTurnEnd, PhaseEventEndCheck, true},
		{PhaseEventEndCheck, PhaseTurnStart, true},
		{PhaseEventEndCheck, PhaseEventEnd, true},
		{PhaseTurnStart, PhaseTurnEnd, false},
		{PhaseActionResolution, PhaseActionSelection, false},
		{PhaseEventEnd, PhaseTurnStart, false},
		{PhaseTurnEnd, PhaseTurnStart, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func mkEvent(typ EventType, refs ...string) *TimedEvent {
	ev := &TimedEvent{ID: "ev-1", Type: typ, Round: 1}
	for _, r := range refs {
		ev.Participants = append(ev.Participants, &Participant{Ref: world.MustRef(r)})
	}
	return ev
}

func TestAdvanceTurnSkipsDownAndGone(t *testing.T) {
	t.Parallel()

	ev := mkEvent(EventCombat, "actor.hero", "npc.grenda", "npc.borin")
	ev.Participants[1].Down = true

	if !ev.advanceTurn() {
		t.Fatal("advanceTurn() = false, want true")
	}
	if ev.TurnIdx != 2 {
		t.Errorf("TurnIdx = %d, want 2 (grenda skipped)", ev.TurnIdx)
	}
	if ev.Round != 1 {
		t.Errorf("Round = %d, want 1", ev.Round)
	}

	// Wrapping back to the hero opens round 2.
	if !ev.advanceTurn() {
		t.Fatal("advanceTurn() = false, want true")
	}
	if ev.TurnIdx != 0 || ev.Round != 2 {
		t.Errorf("TurnIdx = %d, Round = %d, want 0, 2", ev.TurnIdx, ev.Round)
	}
}

func TestAdvanceTurnWrapCountsOneRound(t *testing.T) {
	t.Parallel()

	// Current actor is last in order and everyone after the wrap except the
	// final candidate is down: the round must still advance exactly once.
	ev := mkEvent(EventCombat, "actor.hero", "npc.grenda", "npc.borin")
	ev.TurnIdx = 2
	ev.Participants[0].Down = true

	if !ev.advanceTurn() {
		t.Fatal("advanceTurn() = false, want true")
	}
	if ev.TurnIdx != 1 || ev.Round != 2 {
		t.Errorf("TurnIdx = %d, Round = %d, want 1, 2", ev.TurnIdx, ev.Round)
	}
}

func TestAdvanceTurnNobodyLeft(t *testing.T) {
	t.Parallel()

	ev := mkEvent(EventCombat, "actor.hero", "npc.grenda")
	ev.Participants[0].Down = true
	ev.Participants[1].LeftRegion = true
	if ev.advanceTurn() {
		t.Error("advanceTurn() = true, want false when nobody can act")
	}
}

func TestEndConditionRoundCaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ EventType
		cap int
	}{
		{EventCombat, 20},
		{EventConversation, 10},
		{EventExploration, 15},
	}
	for _, tt := range tests {
		ev := mkEvent(tt.typ, "actor.hero", "npc.grenda", "npc.borin")
		ev.Round = tt.cap
		if reason, over := ev.endCondition(); over {
			t.Errorf("%s at round %d ended early (%s)", tt.typ, tt.cap, reason)
		}
		ev.Round = tt.cap + 1
		reason, over := ev.endCondition()
		if !over || reason != EndRoundCap {
			t.Errorf("%s past cap: (%s, %v), want (%s, true)", tt.typ, reason, over, EndRoundCap)
		}
	}
}

func TestEndConditionSideDown(t *testing.T) {
	t.Parallel()

	ev := mkEvent(EventCombat, "actor.hero", "npc.grenda", "npc.borin")
	if _, over := ev.endCondition(); over {
		t.Fatal("fresh combat ended immediately")
	}

	ev.Participants[1].Down = true
	if _, over := ev.endCondition(); over {
		t.Fatal("combat ended with one NPC still standing")
	}

	ev.Participants[2].Down = true
	reason, over := ev.endCondition()
	if !over || reason != EndSideDown {
		t.Errorf("endCondition() = (%s, %v), want (%s, true)", reason, over, EndSideDown)
	}
}

func TestEndConditionCombatLastOneStanding(t *testing.T) {
	t.Parallel()

	ev := mkEvent(EventCombat, "actor.hero", "npc.grenda")
	ev.Participants[1].LeftRegion = true
	reason, over := ev.endCondition()
	if !over || reason != EndNobodyLeft {
		t.Errorf("endCondition() = (%s, %v), want (%s, true)", reason, over, EndNobodyLeft)
	}
}

func TestEndConditionConversation(t *testing.T) {
	t.Parallel()

	ev := mkEvent(EventConversation, "actor.hero", "npc.grenda")
	ev.Participants[0].Farewelled = true
	if _, over := ev.endCondition(); over {
		t.Fatal("conversation ended with one side still talking")
	}

	ev.Participants[1].Farewelled = true
	reason, over := ev.endCondition()
	if !over || reason != EndAllFarewelled {
		t.Errorf("endCondition() = (%s, %v), want (%s, true)", reason, over, EndAllFarewelled)
	}

	// A participant who wandered off does not block the disengage rule.
	ev = mkEvent(EventConversation, "actor.hero", "npc.grenda", "npc.borin")
	ev.Participants[0].Disengaged = true
	ev.Participants[1].Disengaged = true
	ev.Participants[2].LeftRegion = true
	reason, over = ev.endCondition()
	if !over || reason != EndAllDisengaged {
		t.Errorf("endCondition() = (%s, %v), want (%s, true)", reason, over, EndAllDisengaged)
	}
}

func TestEndConditionExplorationObjective(t *testing.T) {
	t.Parallel()

	ev := mkEvent(EventExploration, "actor.hero", "npc.grenda")
	if _, over := ev.endCondition(); over {
		t.Fatal("exploration ended with objective unmet")
	}
	ev.ObjectiveMet = true
	reason, over := ev.endCondition()
	if !over || reason != EndObjectiveMet {
		t.Errorf("endCondition() = (%s, %v), want (%s, true)", reason, over, EndObjectiveMet)
	}
}
