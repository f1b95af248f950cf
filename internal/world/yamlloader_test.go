package world

import (
	"strings"
	"testing"
)

const sampleWorld = `
world:
  name: "Thornford"
places:
  - id: market
    region_id: thornford
    name: "Market Square"
    tile_grid:
      width: 24
      height: 24
      default_entry: {x: 12, y: 23}
    connections:
      - target_place_id: tavern
        direction: north
        travel_time_seconds: 4
    contents:
      features:
        - id: stall
          name: "Fruit Stall"
          tile: {x: 8, y: 8}
          obstacle: true
  - id: tavern
    region_id: thornford
    name: "The Drowned Rat"
    tile_grid:
      width: 12
      height: 12
      default_entry: {x: 6, y: 11}
    connections:
      - target_place_id: market
        direction: south
        travel_time_seconds: 4
npcs:
  - id: grenda
    name: "Grenda"
    place_id: market
    tile: {x: 5, y: 6}
    vision: guard
    stats: {dex: 55}
    health: {current: 24, max: 24}
    tags: [shopkeeper]
    personality:
      curiosity: 10icals
actors:
  - id: hero
    name: "Hero"
    place_id: market
    tile: {x: 5, y: 5}
`

func TestLoadWorldFromReader(t *testing.T) {
	t.Parallel()

	good := strings.Replace(sampleWorld, "10icals", "10", 1)
	wf, err := LoadWorldFromReader(strings.NewReader(good))
	if err != nil {
		t.Fatalf("LoadWorldFromReader() error = %v", err)
	}
	if wf.World.Name != "Thornford" {
		t.Fatalf("world name = %q", wf.World.Name)
	}
	if len(wf.Places) != 2 || len(wf.NPCs) != 1 || len(wf.Actors) != 1 {
		t.Fatalf("counts = %d places, %d npcs, %d actors", len(wf.Places), len(wf.NPCs), len(wf.Actors))
	}
	if wf.Places[0].Connections[0].Direction != North {
		t.Fatalf("connection direction = %q", wf.Places[0].Connections[0].Direction)
	}
}

func TestLoadWorldValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{
			"duplicate place id",
			`places:
  - id: market
    tile_grid: {width: 4, height: 4, default_entry: {x: 0, y: 0}}
  - id: market
    tile_grid: {width: 4, height: 4, default_entry: {x: 0, y: 0}}`,
		},
		{
			"npc in unknown place",
			`places:
  - id: market
    tile_grid: {width: 4, height: 4, default_entry: {x: 0, y: 0}}
npcs:
  - id: grenda
    place_id: nowhere
    tile: {x: 0, y: 0}`,
		},
		{
			"npc out of bounds",
			`places:
  - id: market
    tile_grid: {width: 4, height: 4, default_entry: {x: 0, y: 0}}
npcs:
  - id: grenda
    place_id: market
    tile: {x: 9, y: 9}`,
		},
		{
			"empty grid",
			`places:
  - id: market
    tile_grid: {width: 0, height: 0, default_entry: {x: 0, y: 0}}`,
		},
		{
			"unknown top-level key",
			`bogus: true`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadWorldFromReader(strings.NewReader(tt.yaml)); err == nil {
				t.Fatal("LoadWorldFromReader() error = nil, want error")
			}
		})
	}
}

func TestSeedRecord(t *testing.T) {
	t.Parallel()

	seed := EntitySeed{
		ID:      "grenda",
		Name:    "Grenda",
		PlaceID: "market",
		Tile:    Tile{X: 5, Y: 6},
		Vision:  "guard",
		Stats:   map[string]float64{"dex": 55},
		Health:  &HealthSeed{Current: 20, Max: 24},
		Tags:    []string{"shopkeeper"},
		Inventory: []InventorySeed{
			{Name: "apple", Count: 3},
		},
	}
	rec := seed.Record()

	if rec.ID() != "grenda" || rec.Name() != "Grenda" {
		t.Fatalf("identity = %q/%q", rec.ID(), rec.Name())
	}
	loc, ok := rec.Location()
	if !ok || loc.PlaceID != "market" || loc.X != 5 || loc.Y != 6 {
		t.Fatalf("location = %+v ok=%v", loc, ok)
	}
	if rec.Vision() != ConeGuard {
		t.Fatalf("vision = %+v, want guard preset", rec.Vision())
	}
	if cur, max, _ := rec.Health(); cur != 20 || max != 24 {
		t.Fatalf("health = %v/%v", cur, max)
	}
	if rec.InventoryCount("apple") != 3 {
		t.Fatalf("inventory = %d", rec.InventoryCount("apple"))
	}
}

func TestPlaceRecordRoundTrip(t *testing.T) {
	t.Parallel()

	p := Place{
		ID:       "market",
		RegionID: "thornford",
		Name:     "Market Square",
		Grid:     TileGrid{Width: 24, Height: 24, DefaultEntry: Tile{12, 23}},
		Connections: []Connection{
			{TargetPlaceID: "tavern", Direction: North, TravelTimeSeconds: 4, RequiresKey: "iron-key"},
		},
		Contents: Contents{
			Features: []Feature{{ID: "stall", Name: "Fruit Stall", Tile: Tile{8, 8}, Obstacle: true}},
		},
	}
	rec := PlaceRecord(p, []EntitySeed{{ID: "grenda", PlaceID: "market"}}, []EntitySeed{{ID: "hero", PlaceID: "market"}})

	back, err := PlaceFromRecord(rec)
	if err != nil {
		t.Fatalf("PlaceFromRecord() error = %v", err)
	}
	if back.ID != "market" || back.Grid.Width != 24 || back.Grid.DefaultEntry != (Tile{12, 23}) {
		t.Fatalf("grid round trip = %+v", back.Grid)
	}
	if len(back.Connections) != 1 || back.Connections[0].RequiresKey != "iron-key" {
		t.Fatalf("connections round trip = %+v", back.Connections)
	}
	if !back.Contents.HasEntity("npc.grenda") || !back.Contents.HasEntity("actor.hero") {
		t.Fatalf("contents round trip = %+v", back.Contents)
	}
	if len(back.Contents.Features) != 1 || !back.Contents.Features[0].Obstacle {
		t.Fatalf("features round trip = %+v", back.Contents.Features)
	}
	if !back.ObstacleAt(Tile{8, 8}) {
		t.Fatal("ObstacleAt(8,8) = false, want true")
	}
}

func TestContentsAddRemove(t *testing.T) {
	t.Parallel()

	var c Contents
	ref := MakeRef(KindNPC, "grenda")
	if err := c.AddEntity(ref); err != nil {
		t.Fatalf("AddEntity() error = %v", err)
	}
	if err := c.AddEntity(ref); err != nil {
		t.Fatalf("AddEntity() second error = %v", err)
	}
	if len(c.NPCs) != 1 {
		t.Fatalf("AddEntity twice produced %d entries, want 1", len(c.NPCs))
	}
	if err := c.AddEntity(MakeRef(KindItem, "key")); err == nil {
		t.Fatal("AddEntity(item) error = nil, want error")
	}
	c.RemoveEntity(ref)
	if c.HasEntity(ref.String()) {
		t.Fatal("RemoveEntity left the entity in contents")
	}
}

func TestDirectionOpposite(t *testing.T) {
	t.Parallel()

	pairs := map[Direction]Direction{North: South, South: North, East: West, West: East}
	for d, want := range pairs {
		if got := d.Opposite(); got != want {
			t.Errorf("%q.Opposite() = %q, want %q", d, got, want)
		}
	}
}

func TestEdgeTile(t *testing.T) {
	t.Parallel()

	g := TileGrid{Width: 10, Height: 8, DefaultEntry: Tile{1, 1}}
	tests := []struct {
		d    Direction
		want Tile
	}{
		{North, Tile{5, 0}},
		{South, Tile{5, 7}},
		{East, Tile{9, 4}},
		{West, Tile{0, 4}},
		{Direction("up"), Tile{1, 1}},
	}
	for _, tt := range tests {
		if got := g.EdgeTile(tt.d); got != tt.want {
			t.Errorf("EdgeTile(%q) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
