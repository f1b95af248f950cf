package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/config"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// testConfig returns a memory-backed config bound to an ephemeral port.
func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

// testWorld is a one-place world with an actor and an NPC standing in it.
func testWorld() *world.WorldFile {
	return &world.WorldFile{
		World: world.WorldMeta{Name: "testfield"},
		Places: []world.Place{{
			ID:   "square",
			Name: "Market Square",
			Grid: world.TileGrid{Width: 8, Height: 8, DefaultEntry: world.Tile{X: 1, Y: 1}},
		}},
		NPCs: []world.EntitySeed{{
			ID:      "grenda",
			Name:    "Grenda",
			PlaceID: "square",
			Tile:    world.Tile{X: 3, Y: 3},
		}},
		Actors: []world.EntitySeed{{
			ID:      "hero",
			Name:    "Hero",
			PlaceID: "square",
			Tile:    world.Tile{X: 2, Y: 2},
		}},
	}
}

func TestNewWiresSubsystems(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.SessionID() == "" {
		t.Error("SessionID is empty")
	}
	if a.pipeline == nil || a.driver == nil || a.roller == nil || a.applier == nil {
		t.Error("intent flow services not wired")
	}
	if a.turns == nil || a.npcs == nil || a.mover == nil || a.traveler == nil {
		t.Error("world services not wired")
	}
	if a.gateway == nil {
		t.Error("gateway not wired despite default enabled")
	}
	if a.writer == nil {
		t.Error("journal writer not wired despite default enabled")
	}
	if a.voice == nil {
		t.Error("no dialogue voice; scripted table should be the floor")
	}
}

func TestNewRespectsDisableFlags(t *testing.T) {
	t.Parallel()

	off := false
	cfg := testConfig()
	cfg.Gateway.Enabled = &off
	cfg.Journal.Enabled = &off

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.gateway != nil {
		t.Error("gateway wired despite gateway.enabled=false")
	}
	if a.writer != nil {
		t.Error("journal writer wired despite journal.enabled=false")
	}
}

func TestSeedWorld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig()
	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SeedWorld(ctx, testWorld()); err != nil {
		t.Fatalf("SeedWorld: %v", err)
	}

	rec, err := store.LoadEntity(ctx, a.Store(), cfg.Store.Slot,
		world.Ref{Kind: world.KindNPC, ID: "grenda"})
	if err != nil {
		t.Fatalf("load seeded npc: %v", err)
	}
	loc, ok := rec.Location()
	if !ok || loc.PlaceID != "square" {
		t.Errorf("seeded npc location = %+v, want place square", loc)
	}

	entry, err := a.PlaceIndex().Entry(ctx, "square")
	if err != nil {
		t.Fatalf("index entry: %v", err)
	}
	if len(entry.NPCs) != 1 || len(entry.Actors) != 1 {
		t.Errorf("index holds %d npcs and %d actors, want 1 and 1",
			len(entry.NPCs), len(entry.Actors))
	}
}

func TestSubmitRejectsUnknownActor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := action.NewIntent(
		world.Ref{Kind: world.KindActor, ID: "nobody"},
		action.VerbWait, nil, action.SourcePlayer,
		world.Location{PlaceID: "square", X: 1, Y: 1},
	)
	err = a.Submit(ctx, in)
	if err == nil {
		t.Fatal("Submit accepted an intent from an absent actor")
	}
	if fault.KindOf(err) != fault.NotFound {
		t.Errorf("fault kind = %v, want not_found", fault.KindOf(err))
	}
}

func TestSubmitAcceptsSeededActor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SeedWorld(ctx, testWorld()); err != nil {
		t.Fatalf("SeedWorld: %v", err)
	}

	in := action.NewIntent(
		world.Ref{Kind: world.KindActor, ID: "hero"},
		action.VerbWait, nil, action.SourcePlayer,
		world.Location{PlaceID: "square", X: 2, Y: 2},
	)
	if err := a.Submit(ctx, in); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled or nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
