package apply

import (
	"context"
	"log/slog"
	"testing"

	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

func newApplier(t *testing.T) (*Applier, *store.MemStore, *bus.Bus) {
	t.Helper()
	s := store.NewMemStore()
	b := bus.NewBus("s1", bus.NewMemLog(), bus.NewMemLog())
	a := NewApplier(b, s, store.NewPlaceIndex(s, 1), 1, slog.Default(), 0)
	return a, s, b
}

func seedNPC(t *testing.T, s store.Store, id string, cur, max float64) {
	t.Helper()
	rec := world.Record{"id": id, "name": id}
	rec.SetHealth(cur, max)
	if err := s.Save(context.Background(), 1, store.KindNPC, id, rec); err != nil {
		t.Fatalf("Save(%s) error = %v", id, err)
	}
}

func TestApplyDamageClamps(t *testing.T) {
	t.Parallel()

	a, s, _ := newApplier(t)
	ctx := context.Background()
	seedNPC(t, s, "grenda", 12, 20)

	diffs, err := a.ApplyEffect(ctx, "e1", `SYSTEM.APPLY_DAMAGE(target=npc.grenda, mag=5)`)
	if err != nil {
		t.Fatalf("ApplyEffect() error = %v", err)
	}
	if len(diffs) != 1 || diffs[0].Delta != -5 {
		t.Fatalf("diffs = %+v, want one delta -5", diffs)
	}
	rec, _ := s.Load(ctx, 1, store.KindNPC, "grenda")
	if cur, _, _ := rec.Health(); cur != 7 {
		t.Errorf("health = %v, want 7", cur)
	}

	// Damage past zero clamps at zero.
	if _, err := a.ApplyEffect(ctx, "e2", `SYSTEM.APPLY_DAMAGE(target=npc.grenda, mag=99)`); err != nil {
		t.Fatalf("ApplyEffect() error = %v", err)
	}
	rec, _ = s.Load(ctx, 1, store.KindNPC, "grenda")
	if cur, _, _ := rec.Health(); cur != 0 {
		t.Errorf("health after overkill = %v, want 0", cur)
	}

	// Healing past max clamps at max.
	if _, err := a.ApplyEffect(ctx, "e3", `SYSTEM.APPLY_HEAL(target=npc.grenda, mag=999)`); err != nil {
		t.Fatalf("ApplyEffect() error = %v", err)
	}
	rec, _ = s.Load(ctx, 1, store.KindNPC, "grenda")
	if cur, _, _ := rec.Health(); cur != 20 {
		t.Errorf("health after overheal = %v, want 20", cur)
	}
}

func TestApplyEffectIdempotent(t *testing.T) {
	t.Parallel()

	a, s, _ := newApplier(t)
	ctx := context.Background()
	seedNPC(t, s, "grenda", 20, 20)

	line := `SYSTEM.APPLY_DAMAGE(target=npc.grenda, mag=4)`
	first, err := a.ApplyEffect(ctx, "dup", line)
	if err != nil {
		t.Fatalf("first ApplyEffect() error = %v", err)
	}
	second, err := a.ApplyEffect(ctx, "dup", line)
	if err != nil {
		t.Fatalf("second ApplyEffect() error = %v", err)
	}
	if len(second) != len(first) || second[0] != first[0] {
		t.Errorf("replay diffs = %+v, want journalled %+v", second, first)
	}
	rec, _ := s.Load(ctx, 1, store.KindNPC, "grenda")
	if cur, _, _ := rec.Health(); cur != 16 {
		t.Errorf("health = %v, want 16 (applied exactly once)", cur)
	}
}

func TestAdjustInventoryDeletesAtZero(t *testing.T) {
	t.Parallel()

	a, s, _ := newApplier(t)
	ctx := context.Background()
	rec := world.Record{"id": "hero"}
	rec.AdjustInventory("rope", 2)
	if err := s.Save(ctx, 1, store.KindActor, "hero", rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := a.ApplyEffect(ctx, "i1", `SYSTEM.ADJUST_INVENTORY(target=actor.hero, item=rope, mag=-2)`); err != nil {
		t.Fatalf("ApplyEffect() error = %v", err)
	}
	got, _ := s.Load(ctx, 1, store.KindActor, "hero")
	if got.HasItem("rope") {
		t.Error("rope survived a drop to zero")
	}

	// Creating on first mention.
	if _, err := a.ApplyEffect(ctx, "i2", `SYSTEM.ADJUST_INVENTORY(target=actor.hero, item=lantern, mag=1)`); err != nil {
		t.Fatalf("ApplyEffect() error = %v", err)
	}
	got, _ = s.Load(ctx, 1, store.KindActor, "hero")
	if got.InventoryCount("lantern") != 1 {
		t.Errorf("lantern count = %d, want 1", got.InventoryCount("lantern"))
	}
}

func TestSetOccupancyShapes(t *testing.T) {
	t.Parallel()

	a, s, _ := newApplier(t)
	ctx := context.Background()
	rec := world.Record{"id": "hero"}
	rec.SetLocation(world.Location{PlaceID: "tavern", X: 1, Y: 1})
	if err := s.Save(ctx, 1, store.KindActor, "hero", rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		name string
		line string
		want func(world.Location) bool
	}{
		{"place tile", `SYSTEM.SET_OCCUPANCY(target=actor.hero, tiles=[place_tile.3.4])`,
			func(l world.Location) bool { return l.X == 3 && l.Y == 4 && l.PlaceID == "tavern" }},
		{"region tile", `SYSTEM.SET_OCCUPANCY(target=actor.hero, tiles=[region_tile.7.2])`,
			func(l world.Location) bool { return l.RegionX == 7 && l.RegionY == 2 }},
		{"place", `SYSTEM.SET_OCCUPANCY(target=actor.hero, tiles=[place.market])`,
			func(l world.Location) bool { return l.PlaceID == "market" }},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.ApplyEffect(ctx, EffectID("c", 1, i), tt.line); err != nil {
				t.Fatalf("ApplyEffect() error = %v", err)
			}
			got, _ := s.Load(ctx, 1, store.KindActor, "hero")
			loc, _ := got.Location()
			if !tt.want(loc) {
				t.Errorf("location = %+v", loc)
			}
		})
	}

	if _, err := a.ApplyEffect(ctx, "bad", `SYSTEM.SET_OCCUPANCY(target=actor.hero, tiles=[orbit.9])`); !fault.Is(err, fault.UnhandledEffect) {
		t.Errorf("unknown tile shape: kind = %v, want unhandled_effect", fault.KindOf(err))
	}
}

func TestApplierTickAppliesFinalRuling(t *testing.T) {
	t.Parallel()

	a, s, b := newApplier(t)
	ctx := context.Background()
	seedNPC(t, s, "grenda", 20, 20)

	ruling := bus.New("adjudicator", bus.MakeStage(bus.FamilyRuling, 1), "attack lands")
	ruling.CorrelationID = "corr-1"
	ruling.Meta["final"] = true
	ruling.Meta["effect_lines"] = []any{`SYSTEM.APPLY_DAMAGE(target=npc.grenda, mag=6)`}
	if err := b.Publish(ctx, ruling); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	for _, st := range []bus.Status{bus.StatusProcessing, bus.StatusPendingStateApply} {
		if err := b.Advance(ctx, ruling.ID, st); err != nil {
			t.Fatalf("Advance(%s) error = %v", st, err)
		}
	}

	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	rec, _ := s.Load(ctx, 1, store.KindNPC, "grenda")
	if cur, _, _ := rec.Health(); cur != 14 {
		t.Errorf("health = %v, want 14", cur)
	}
	applied, err := b.Pending(ctx, bus.FamilyApplied)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(applied) != 1 || applied[0].ReplyTo != ruling.ID {
		t.Fatalf("applied envelopes = %+v, want one replying to the ruling", applied)
	}
	rulings, _ := b.Pending(ctx, bus.FamilyRuling, bus.StatusDone)
	if len(rulings) != 1 {
		t.Errorf("ruling not marked done")
	}
}

func TestApplierNeverAppliesSuperseded(t *testing.T) {
	t.Parallel()

	a, s, b := newApplier(t)
	ctx := context.Background()
	seedNPC(t, s, "grenda", 20, 20)

	stale := bus.New("adjudicator", bus.MakeStage(bus.FamilyRuling, 1), "stale")
	stale.CorrelationID = "corr-1"
	stale.Meta["final"] = true
	stale.Meta["effect_lines"] = []any{`SYSTEM.APPLY_DAMAGE(target=npc.grenda, mag=6)`}
	if err := b.Publish(ctx, stale); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Advance(ctx, stale.ID, bus.StatusSuperseded); err != nil {
		t.Fatalf("Advance(superseded) error = %v", err)
	}

	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	rec, _ := s.Load(ctx, 1, store.KindNPC, "grenda")
	if cur, _, _ := rec.Health(); cur != 20 {
		t.Errorf("superseded ruling caused a diff: health = %v, want 20", cur)
	}
}
