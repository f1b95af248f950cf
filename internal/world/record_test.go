package world

import (
	"encoding/json"
	"testing"
)

func TestRecordLocationRoundTrip(t *testing.T) {
	t.Parallel()

	rec := Record{"id": "grenda"}
	loc := Location{WorldX: 1, WorldY: 2, RegionX: 3, RegionY: 4, PlaceID: "market", X: 5, Y: 6}
	rec.SetLocation(loc)

	got, ok := rec.Location()
	if !ok {
		t.Fatal("Location() ok = false after SetLocation")
	}
	if got != loc {
		t.Fatalf("Location() = %+v, want %+v", got, loc)
	}
}

func TestRecordSurvivesJSON(t *testing.T) {
	t.Parallel()

	rec := Record{"id": "grenda", "name": "Grenda"}
	rec.SetLocation(Location{PlaceID: "market", X: 5, Y: 6})
	rec.SetHealth(18, 24)
	rec.SetStat("dex", 62)
	rec.AddTag("shopkeeper")
	rec.AdjustInventory("apple", 3)

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Record
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	loc, ok := back.Location()
	if !ok || loc.X != 5 || loc.Y != 6 || loc.PlaceID != "market" {
		t.Fatalf("location after JSON = %+v ok=%v", loc, ok)
	}
	cur, max, ok := back.Health()
	if !ok || cur != 18 || max != 24 {
		t.Fatalf("health after JSON = %v/%v ok=%v", cur, max, ok)
	}
	if dex, ok := back.Stat("dex"); !ok || dex != 62 {
		t.Fatalf("dex after JSON = %v ok=%v", dex, ok)
	}
	if !back.HasTag("shopkeeper") {
		t.Fatal("tag lost in JSON round trip")
	}
	if got := back.InventoryCount("apple"); got != 3 {
		t.Fatalf("inventory after JSON = %d, want 3", got)
	}
}

func TestAdjustInventory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setup     func(Record)
		item      string
		delta     int
		wantCount int
		wantHas   bool
	}{
		{"create on first add", func(Record) {}, "apple", 2, 2, true},
		{"stack", func(r Record) { r.AdjustInventory("apple", 2) }, "apple", 3, 5, true},
		{"decrement", func(r Record) { r.AdjustInventory("apple", 5) }, "apple", -2, 3, true},
		{"delete at zero", func(r Record) { r.AdjustInventory("apple", 2) }, "apple", -2, 0, false},
		{"delete below zero", func(r Record) { r.AdjustInventory("apple", 1) }, "apple", -5, 0, false},
		{"negative on absent is noop", func(Record) {}, "apple", -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := Record{}
			tt.setup(rec)
			if got := rec.AdjustInventory(tt.item, tt.delta); got != tt.wantCount {
				t.Fatalf("AdjustInventory() = %d, want %d", got, tt.wantCount)
			}
			if got := rec.HasItem(tt.item); got != tt.wantHas {
				t.Fatalf("HasItem() = %v, want %v", got, tt.wantHas)
			}
		})
	}
}

func TestPersonality(t *testing.T) {
	t.Parallel()

	rec := Record{
		"personality": map[string]any{
			"curiosity":       12.0,
			"profession":      "shopkeeper",
			"shop_place_id":   "market",
			"gossip_tendency": true,
			"suspiciousness":  true,
			"keywords":        []any{"gold", "dragon"},
			"relationships":   map[string]any{"actor.hero": 8.0},
		},
	}
	p := rec.Personality()
	if got := p.Curiosity(); got != 12 {
		t.Fatalf("Curiosity() = %v, want 12", got)
	}
	if got := p.Profession(); got != "shopkeeper" {
		t.Fatalf("Profession() = %q", got)
	}
	if !p.GossipTendency() || !p.Suspiciousness() {
		t.Fatal("boolean traits lost")
	}
	if got := len(p.Keywords()); got != 2 {
		t.Fatalf("Keywords() len = %d, want 2", got)
	}
	if got := p.Fondness("actor.hero"); got != 8 {
		t.Fatalf("Fondness() = %v, want 8", got)
	}
	if got := p.Fondness("npc.stranger"); got != 0 {
		t.Fatalf("Fondness(unknown) = %v, want 0", got)
	}

	// Zero-safe on a record without a personality block.
	empty := Record{}.Personality()
	if empty.Curiosity() != 0 || empty.Profession() != "" || empty.GossipTendency() {
		t.Fatal("missing personality block should read as zero values")
	}
}

func TestRecordClone(t *testing.T) {
	t.Parallel()

	rec := Record{"id": "grenda"}
	rec.SetHealth(10, 20)
	rec.AdjustInventory("apple", 1)

	clone := rec.Clone()
	clone.SetHealth(1, 20)
	clone.AdjustInventory("apple", 4)

	if cur, _, _ := rec.Health(); cur != 10 {
		t.Fatalf("original health mutated through clone: %v", cur)
	}
	if got := rec.InventoryCount("apple"); got != 1 {
		t.Fatalf("original inventory mutated through clone: %d", got)
	}
}

func TestHealthMissing(t *testing.T) {
	t.Parallel()

	if _, _, ok := (Record{}).Health(); ok {
		t.Fatal("Health() ok = true on empty record")
	}
}
