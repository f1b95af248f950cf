package witness

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

func newPolicy(t *testing.T) (*Policy, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	p := NewPolicy(s, action.NewRegistry(),
		NewConversations(nil, slog.Default()), NewEngagements(), nil, 1, slog.Default())
	return p, s
}

func seedEntity(t *testing.T, s store.Store, ref world.Ref, loc world.Location, personality map[string]any) {
	t.Helper()
	rec := world.Record{"id": ref.ID, "name": ref.ID}
	rec.SetLocation(loc)
	if personality != nil {
		rec["personality"] = personality
	}
	if err := store.SaveEntity(context.Background(), s, 1, ref, rec); err != nil {
		t.Fatalf("SaveEntity(%s) error = %v", ref, err)
	}
}

func speechEvent(observer, actor, target world.Ref, distance float64, volume, message string) perception.Event {
	return perception.Event{
		ID:       "ev-1",
		Observer: observer,
		Actor:    actor,
		Target:   target,
		Verb:     action.VerbCommunicate,
		Subtype:  volume,
		Type:     perception.TypeActionCompleted,
		Sense:    world.SensePressure,
		Clarity:  perception.ClarityClear,
		Distance: distance,
		Summary:  message,
		At:       time.Now(),
	}
}

func TestReactDirectAddressStartsConversation(t *testing.T) {
	t.Parallel()

	p, s := newPolicy(t)
	ctx := context.Background()
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")
	seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 4, Y: 2}, nil)
	seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

	cmds, err := p.React(ctx, speechEvent(grenda, hero, grenda, 8, action.SubtypeTalk, "hello, Grenda"))
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Type != CommandConverse {
		t.Fatalf("cmds = %+v, want one converse", cmds)
	}
	if !p.Conversations().Active(grenda) {
		t.Error("direct address should start a conversation")
	}
	if eng, ok := p.Engagements().Get(grenda); !ok || eng.State != StateEngaged {
		t.Errorf("engagement = %+v, want engaged", eng)
	}
}

func TestReactVeryCloseSpeech(t *testing.T) {
	t.Parallel()

	p, s := newPolicy(t)
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")
	seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 3, Y: 2}, nil)
	seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

	// Not addressed, but one tile away.
	cmds, err := p.React(context.Background(), speechEvent(grenda, hero, world.Ref{}, 1, action.SubtypeTalk, "nice day"))
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Type != CommandConverse {
		t.Fatalf("cmds = %+v, want converse at close range", cmds)
	}
}

func TestReactFarewellEndsConversation(t *testing.T) {
	t.Parallel()

	p, s := newPolicy(t)
	ctx := context.Background()
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")
	seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 3, Y: 2}, nil)
	seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

	p.Conversations().StartOrExtend(ctx, grenda, hero, ParticipantSpan)

	cmds, err := p.React(ctx, speechEvent(grenda, hero, grenda, 1, action.SubtypeTalk, "goodbye then"))
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Type != CommandDisengage {
		t.Fatalf("cmds = %+v, want disengage on farewell", cmds)
	}
	if p.Conversations().Active(grenda) {
		t.Error("conversation should have ended on farewell")
	}
}

func TestReactSocialScoreTiers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hero := world.MustRef("actor.hero")

	tests := []struct {
		name        string
		personality map[string]any
		want        CommandType // "" means ignore
	}{
		{
			"gossip joins on keywords",
			map[string]any{
				"curiosity": 15.0, "gossip_tendency": true,
				"keywords": []any{"dragon"},
			},
			CommandConverse, // 45 curiosity + 20 keyword + 15 gossip + 12 distance = 92
		},
		{
			"mildly curious eavesdrops",
			map[string]any{"curiosity": 12.0},
			CommandEavesdrop,
		},
		{
			"indifferent ignores",
			map[string]any{"curiosity": 2.0},
			"",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, s := newPolicy(t)
			grenda := world.MustRef("npc.grenda")
			seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 6, Y: 2}, tc.personality)
			seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

			ev := speechEvent(grenda, hero, world.Ref{}, 4, action.SubtypeTalk, "they say a dragon was seen")
			cmds, err := p.React(ctx, ev)
			if err != nil {
				t.Fatalf("React() error = %v", err)
			}
			if tc.want == "" {
				if len(cmds) != 0 {
					t.Fatalf("cmds = %+v, want ignore", cmds)
				}
				return
			}
			if len(cmds) != 1 || cmds[0].Type != tc.want {
				t.Fatalf("cmds = %+v, want %s", cmds, tc.want)
			}
		})
	}
}

func TestReactObscuredIsSkipped(t *testing.T) {
	t.Parallel()

	p, s := newPolicy(t)
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")
	seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 3, Y: 2}, nil)
	seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

	ev := speechEvent(grenda, hero, grenda, 1, action.SubtypeTalk, "hello")
	ev.Clarity = perception.ClarityObscured
	cmds, err := p.React(context.Background(), ev)
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Fatalf("cmds = %+v, want none for obscured", cmds)
	}
}

type fixedGate struct{ veto bool }

func (g fixedGate) ActiveUnrelated(world.Ref) bool { return g.veto }

func TestReactTimedEventGate(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	p := NewPolicy(s, action.NewRegistry(),
		NewConversations(nil, slog.Default()), NewEngagements(), fixedGate{veto: true}, 1, slog.Default())
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")
	seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 3, Y: 2}, nil)
	seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

	cmds, err := p.React(context.Background(), speechEvent(grenda, hero, grenda, 1, action.SubtypeTalk, "hello"))
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Fatalf("cmds = %+v, want none while an unrelated timed event runs", cmds)
	}
}

func TestReactMoveFacesWhenFree(t *testing.T) {
	t.Parallel()

	p, s := newPolicy(t)
	ctx := context.Background()
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")
	seedEntity(t, s, grenda, world.Location{PlaceID: "square", X: 5, Y: 2}, nil)
	seedEntity(t, s, hero, world.Location{PlaceID: "square", X: 2, Y: 2}, nil)

	ev := perception.Event{
		Observer: grenda, Actor: hero, Verb: action.VerbMove,
		Clarity: perception.ClarityClear, Distance: 3, At: time.Now(),
	}
	cmds, err := p.React(ctx, ev)
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Type != CommandFace {
		t.Fatalf("cmds = %+v, want face", cmds)
	}
	if cmds[0].Toward != (world.Tile{X: 2, Y: 2}) {
		t.Errorf("toward = %v, want the mover's tile", cmds[0].Toward)
	}

	// A conversing NPC does not break off to watch passers-by.
	p.Conversations().StartOrExtend(ctx, grenda, world.MustRef("actor.other"), ParticipantSpan)
	cmds, err = p.React(ctx, ev)
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Fatalf("cmds = %+v, want none while conversing", cmds)
	}
}

func TestThrottleSuppressesBursts(t *testing.T) {
	t.Parallel()

	th := NewThrottle()
	now := time.Now()
	th.now = func() time.Time { return now }
	grenda := world.MustRef("npc.grenda")

	if !th.Allow(grenda, CommandFace, false) {
		t.Fatal("first command should pass")
	}
	if th.Allow(grenda, CommandFace, false) {
		t.Fatal("identical command within the gap should be suppressed")
	}
	if !th.Allow(grenda, CommandConverse, false) {
		t.Fatal("a different command type has its own window")
	}
	if !th.Allow(grenda, CommandFace, true) {
		t.Fatal("follow-up commands bypass the throttle")
	}

	now = now.Add(MinCommandGap + time.Millisecond)
	if !th.Allow(grenda, CommandFace, false) {
		t.Fatal("command after the gap should pass")
	}
}

func TestEngagementSweepTransitions(t *testing.T) {
	t.Parallel()

	e := NewEngagements()
	now := time.Now()
	e.now = func() time.Time { return now }
	grenda := world.MustRef("npc.grenda")

	e.Engage(grenda, "conversation", 30*time.Second, 5)
	if trs := e.Sweep(); len(trs) != 0 {
		t.Fatalf("fresh engagement transitioned: %+v", trs)
	}

	// Past 20 idle seconds: distracted.
	now = now.Add(21 * time.Second)
	trs := e.Sweep()
	if len(trs) != 1 || trs[0].To != StateDistracted {
		t.Fatalf("transitions = %+v, want distracted", trs)
	}

	// Past the attention span: gone.
	now = now.Add(10 * time.Second)
	trs = e.Sweep()
	if len(trs) != 1 || !trs[0].Ended {
		t.Fatalf("transitions = %+v, want ended", trs)
	}
	if _, ok := e.Get(grenda); ok {
		t.Error("ended engagement should be removed")
	}

	// Touch pulls a distracted NPC back.
	e.Engage(grenda, "eavesdrop", 20*time.Second, 5)
	now = now.Add(21 * time.Second)
	e.Sweep()
	e.Touch(grenda)
	if eng, _ := e.Get(grenda); eng.State != StateEngaged {
		t.Errorf("state after touch = %s, want engaged", eng.State)
	}
}

func TestConversationExpiry(t *testing.T) {
	t.Parallel()

	c := NewConversations(nil, slog.Default())
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	grenda := world.MustRef("npc.grenda")
	hero := world.MustRef("actor.hero")

	c.StartOrExtend(ctx, grenda, hero, ParticipantSpan)
	c.SaveGoal(grenda, "patrol", "paused")
	if !c.Active(grenda) {
		t.Fatal("conversation should be active")
	}

	// A message renews the window.
	now = now.Add(20 * time.Second)
	c.StartOrExtend(ctx, grenda, hero, ParticipantSpan)
	now = now.Add(20 * time.Second)
	if !c.Active(grenda) {
		t.Fatal("renewed conversation expired too early")
	}

	now = now.Add(ParticipantSpan)
	ended := c.ExpireDue(ctx)
	if len(ended) != 1 || ended[0].PreviousGoal != "patrol" {
		t.Fatalf("ExpireDue() = %+v, want the patrol conversation", ended)
	}
	if c.Active(grenda) {
		t.Error("expired conversation still active")
	}
}
