package resolve

import (
	"context"
	"testing"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// fixture builds a two-place world: a square holding the hero, two NPCs and
// a fountain, connected north to a tavern.
func fixture(t *testing.T) (*Resolver, store.Store, world.Location) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemStore()
	ix := store.NewPlaceIndex(s, 1)
	r := NewResolver(s, ix, action.NewRegistry(), 1)

	square := world.Place{
		ID: "square", Name: "Market Square",
		Grid: world.TileGrid{Width: 12, Height: 12, DefaultEntry: world.Tile{X: 6, Y: 6}},
		Connections: []world.Connection{
			{TargetPlaceID: "tavern", Direction: world.North, TravelTimeSeconds: 5},
		},
		Contents: world.Contents{Features: []world.Feature{
			{ID: "fountain", Name: "Stone Fountain", Tile: world.Tile{X: 6, Y: 6}},
		}},
	}
	tavern := world.Place{
		ID: "tavern", Name: "Rusty Flagon",
		Grid: world.TileGrid{Width: 10, Height: 10, DefaultEntry: world.Tile{X: 1, Y: 1}},
		Connections: []world.Connection{
			{TargetPlaceID: "square", Direction: world.South, TravelTimeSeconds: 5},
		},
	}
	for _, p := range []world.Place{square, tavern} {
		if err := s.Save(ctx, 1, store.KindPlace, p.ID, world.PlaceRecord(p, nil, nil)); err != nil {
			t.Fatalf("Save(place %s) error = %v", p.ID, err)
		}
	}

	heroLoc := world.Location{PlaceID: "square", X: 2, Y: 2}
	seed(t, s, ix, world.MustRef("actor.hero"), "Hero", heroLoc, nil)
	seed(t, s, ix, world.MustRef("npc.grenda"), "Grenda", world.Location{PlaceID: "square", X: 3, Y: 2},
		map[string]any{"profession": "guard"})
	seed(t, s, ix, world.MustRef("npc.borin"), "Borin", world.Location{PlaceID: "square", X: 9, Y: 2}, nil)
	return r, s, heroLoc
}

func seed(t *testing.T, s store.Store, ix *store.PlaceIndex, ref world.Ref, name string, loc world.Location, personality map[string]any) {
	t.Helper()
	ctx := context.Background()
	rec := world.Record{"id": ref.ID, "name": name}
	rec.SetLocation(loc)
	if personality != nil {
		rec["personality"] = personality
	}
	if err := store.SaveEntity(ctx, s, 1, ref, rec); err != nil {
		t.Fatalf("SaveEntity(%s) error = %v", ref, err)
	}
	if err := ix.Add(ctx, loc.PlaceID, ref); err != nil {
		t.Fatalf("index Add(%s) error = %v", ref, err)
	}
}

func intentFor(verb action.Verb, target string, loc world.Location) *action.Intent {
	params := map[string]any{}
	if target != "" {
		params["target"] = target
	}
	return action.NewIntent(world.MustRef("actor.hero"), verb, params, action.SourcePlayer, loc)
}

func TestResolveExplicitRef(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	res, err := r.Resolve(context.Background(), intentFor(action.VerbAttack, "npc.grenda", loc))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.TargetRef != world.MustRef("npc.grenda") || res.TargetType != world.KindNPC {
		t.Errorf("resolution = %+v, want npc.grenda", res)
	}
	if res.TargetLocation.X != 3 || res.TargetLocation.Y != 2 {
		t.Errorf("target location = %+v, want (3,2)", res.TargetLocation)
	}
}

func TestResolveExplicitMissing(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	_, err := r.Resolve(context.Background(), intentFor(action.VerbAttack, "npc.ghost", loc))
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("Resolve() error = %v, want not_found", err)
	}
}

func TestResolveHiddenTarget(t *testing.T) {
	t.Parallel()

	r, s, loc := fixture(t)
	ctx := context.Background()
	rec, _ := s.Load(ctx, 1, store.KindNPC, "borin")
	rec.AddTag(TagHidden)
	if err := s.Save(ctx, 1, store.KindNPC, "borin", rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := r.Resolve(ctx, intentFor(action.VerbExamine, "npc.borin", loc)); !fault.Is(err, fault.NotVisible) {
		t.Fatalf("explicit ref to hidden error = %v, want not_visible", err)
	}
	// Hidden entities are not in mention scope either.
	if _, err := r.Resolve(ctx, intentFor(action.VerbExamine, "Borin", loc)); !fault.Is(err, fault.NotFound) {
		t.Fatalf("mention of hidden error = %v, want not_found", err)
	}
}

func TestResolveNameMention(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		wording string
		want    world.Ref
	}{
		{"exact", "Grenda", world.MustRef("npc.grenda")},
		{"case insensitive", "gRENDA", world.MustRef("npc.grenda")},
		{"phonetic", "Grendah", world.MustRef("npc.grenda")},
		{"feature by name", "Stone Fountain", world.MustRef("feature.fountain")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := r.Resolve(ctx, intentFor(action.VerbExamine, tc.wording, loc))
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tc.wording, err)
			}
			if res.TargetRef != tc.want {
				t.Errorf("Resolve(%q) = %s, want %s", tc.wording, res.TargetRef, tc.want)
			}
		})
	}
}

func TestResolveAmbiguousName(t *testing.T) {
	t.Parallel()

	r, s, loc := fixture(t)
	ctx := context.Background()
	// A second Grenda in the same place.
	ix := store.NewPlaceIndex(s, 1)
	seed(t, s, ix, world.MustRef("npc.grenda2"), "Grenda", world.Location{PlaceID: "square", X: 5, Y: 5}, nil)

	_, err := r.Resolve(ctx, intentFor(action.VerbExamine, "Grenda", loc))
	if !fault.Is(err, fault.Ambiguous) {
		t.Fatalf("Resolve() error = %v, want ambiguous", err)
	}
}

func TestResolveImpliedTarget(t *testing.T) {
	t.Parallel()

	r, s, loc := fixture(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, intentFor(action.VerbExamine, "the guard", loc))
	if err != nil {
		t.Fatalf("Resolve(the guard) error = %v", err)
	}
	if res.TargetRef != world.MustRef("npc.grenda") {
		t.Errorf("implied target = %s, want npc.grenda", res.TargetRef)
	}

	// A second guard makes the article ambiguous.
	ix := store.NewPlaceIndex(s, 1)
	seed(t, s, ix, world.MustRef("npc.brand"), "Brand", world.Location{PlaceID: "square", X: 4, Y: 4},
		map[string]any{"profession": "guard"})
	if _, err := r.Resolve(ctx, intentFor(action.VerbExamine, "the guard", loc)); !fault.Is(err, fault.Ambiguous) {
		t.Fatalf("two guards error = %v, want ambiguous", err)
	}
}

func TestResolveSelf(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	res, err := r.Resolve(context.Background(), intentFor(action.VerbExamine, "self", loc))
	if err != nil {
		t.Fatalf("Resolve(self) error = %v", err)
	}
	if res.TargetRef != world.MustRef("actor.hero") || res.TargetLocation != loc {
		t.Errorf("self resolution = %+v", res)
	}
}

func TestResolveOutOfRange(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	// Borin is 7 tiles away; ATTACK reaches 1.
	_, err := r.Resolve(context.Background(), intentFor(action.VerbAttack, "npc.borin", loc))
	if !fault.Is(err, fault.OutOfRange) {
		t.Fatalf("Resolve() error = %v, want out_of_range", err)
	}
}

func TestResolveTargetKindMismatch(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	// ATTACK cannot target a feature.
	_, err := r.Resolve(context.Background(), intentFor(action.VerbAttack, "feature.fountain", loc))
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("Resolve() error = %v, want not_found", err)
	}
}

func TestResolveInventoryItem(t *testing.T) {
	t.Parallel()

	r, s, loc := fixture(t)
	ctx := context.Background()
	rec, _ := s.Load(ctx, 1, store.KindActor, "hero")
	rec.AdjustInventory("potion", 1)
	if err := s.Save(ctx, 1, store.KindActor, "hero", rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	res, err := r.Resolve(ctx, intentFor(action.VerbUse, "item.potion", loc))
	if err != nil {
		t.Fatalf("Resolve(item.potion) error = %v", err)
	}
	if res.TargetRef != world.MustRef("item.potion") || !res.TargetLocation.SamePlace(loc) {
		t.Errorf("item resolution = %+v", res)
	}

	if _, err := r.Resolve(ctx, intentFor(action.VerbUse, "item.sword", loc)); !fault.Is(err, fault.NotFound) {
		t.Fatalf("absent item error = %v, want not_found", err)
	}
}

func TestResolveTravelByPlaceName(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	res, err := r.Resolve(context.Background(), intentFor(action.VerbTravel, "Rusty Flagon", loc))
	if err != nil {
		t.Fatalf("Resolve(travel) error = %v", err)
	}
	if res.TargetRef != world.MustRef("place.tavern") {
		t.Fatalf("travel target = %s, want place.tavern", res.TargetRef)
	}
	// Arrival is the door on the tavern's south edge, facing back to the
	// square.
	if res.TargetLocation.PlaceID != "tavern" || res.TargetLocation.X != 5 || res.TargetLocation.Y != 9 {
		t.Errorf("arrival = %+v, want tavern (5,9)", res.TargetLocation)
	}
}

func TestResolveTravelUnconnected(t *testing.T) {
	t.Parallel()

	r, s, loc := fixture(t)
	ctx := context.Background()
	crypt := world.Place{ID: "crypt", Name: "Crypt", Grid: world.TileGrid{Width: 5, Height: 5}}
	if err := s.Save(ctx, 1, store.KindPlace, "crypt", world.PlaceRecord(crypt, nil, nil)); err != nil {
		t.Fatalf("Save(crypt) error = %v", err)
	}

	_, err := r.Resolve(ctx, intentFor(action.VerbTravel, "place.crypt", loc))
	if !fault.Is(err, fault.OutOfRange) {
		t.Fatalf("Resolve() error = %v, want out_of_range", err)
	}
}

func TestResolveUntargetedVerb(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	res, err := r.Resolve(context.Background(), intentFor(action.VerbWait, "", loc))
	if err != nil {
		t.Fatalf("Resolve(wait) error = %v", err)
	}
	if !res.TargetRef.IsZero() {
		t.Errorf("untargeted resolution = %+v, want zero", res)
	}
}

func TestResolveRequiredTargetMissing(t *testing.T) {
	t.Parallel()

	r, _, loc := fixture(t)
	_, err := r.Resolve(context.Background(), intentFor(action.VerbAttack, "", loc))
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("Resolve() error = %v, want not_found", err)
	}
}
