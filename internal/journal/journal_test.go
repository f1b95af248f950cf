package journal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/turns"
	"github.com/openweald/weald/internal/world"
	embedmock "github.com/openweald/weald/pkg/provider/embeddings/mock"
)

var grenda = world.MustRef("npc.grenda")

func TestMemAppendCapsPerNPC(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMem(3)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		err := m.Append(ctx, Entry{
			ID:      string(rune('a' + i)),
			NPC:     grenda,
			Kind:    KindImpression,
			Summary: "impression " + string(rune('a'+i)),
			At:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := m.Recent(ctx, grenda, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("kept %d entries, want 3", len(got))
	}
	// Newest first; the two oldest fell off.
	for i, want := range []string{"e", "d", "c"} {
		if got[i].ID != want {
			t.Errorf("Recent[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestMemAppendIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMem(0)

	e := Entry{ID: "once", NPC: grenda, Kind: KindEventEnd, Summary: "a fight"}
	for range 3 {
		if err := m.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := m.Recent(ctx, grenda, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
}

func TestMemSearchOrdersByCosine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMem(0)

	entries := []Entry{
		{ID: "north", NPC: grenda, Embedding: []float32{0, 1}},
		{ID: "east", NPC: grenda, Embedding: []float32{1, 0}},
		{ID: "northeast", NPC: grenda, Embedding: []float32{1, 1}},
		{ID: "textonly", NPC: grenda}, // no embedding, never returned
	}
	for _, e := range entries {
		if err := m.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s): %v", e.ID, err)
		}
	}

	got, err := m.Search(ctx, grenda, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "east" || got[1].ID != "northeast" {
		t.Errorf("order = [%s %s], want [east northeast]", got[0].ID, got[1].ID)
	}
	if got[0].Distance >= got[1].Distance {
		t.Errorf("distances not ascending: %f then %f", got[0].Distance, got[1].Distance)
	}
}

// failStore fails every operation, for exercising the guard.
type failStore struct{ err error }

func (f failStore) Append(context.Context, Entry) error { return f.err }
func (f failStore) Recent(context.Context, world.Ref, int) ([]Entry, error) {
	return nil, f.err
}
func (f failStore) Search(context.Context, world.Ref, []float32, int) ([]Result, error) {
	return nil, f.err
}

func TestGuardSwallowsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGuard(failStore{err: errors.New("connection refused")}, slog.Default())

	if err := g.Append(ctx, Entry{ID: "x", NPC: grenda}); err != nil {
		t.Fatalf("Append through guard returned error: %v", err)
	}
	if !g.IsDegraded() {
		t.Error("guard not degraded after failed append")
	}

	entries, err := g.Recent(ctx, grenda, 5)
	if err != nil {
		t.Fatalf("Recent through guard returned error: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("Recent = %v, want empty non-nil slice", entries)
	}

	results, err := g.Search(ctx, grenda, []float32{1}, 5)
	if err != nil {
		t.Fatalf("Search through guard returned error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Search = %v, want empty non-nil slice", results)
	}
}

func TestGuardRecoversOnSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g := NewGuard(failStore{err: errors.New("down")}, slog.Default())
	if err := g.Append(ctx, Entry{ID: "x", NPC: grenda}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !g.IsDegraded() {
		t.Fatal("guard should be degraded")
	}

	healthy := NewGuard(NewMem(0), slog.Default())
	healthy.degraded.Store(true)
	if err := healthy.Append(ctx, Entry{ID: "y", NPC: grenda}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if healthy.IsDegraded() {
		t.Error("guard still degraded after successful append")
	}
}

func TestWriterEventEnded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMem(0)
	embed := &embedmock.Provider{
		EmbedResult:     []float32{0.1, 0.2},
		DimensionsValue: 2,
		ModelIDValue:    "test-embed",
	}
	w := NewWriter(store, embed, slog.Default())

	ev := turns.TimedEvent{
		ID:    "ev-1",
		Type:  turns.EventCombat,
		Round: 3,
		Participants: []*turns.Participant{
			{Ref: grenda},
			{Ref: world.MustRef("actor.hero")},
			{Ref: world.MustRef("npc.mira"), Down: true},
		},
	}
	w.EventEnded(ctx, grenda, ev, turns.EndSideDown)

	got, err := store.Recent(ctx, grenda, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Kind != KindEventEnd {
		t.Errorf("Kind = %q, want %q", e.Kind, KindEventEnd)
	}
	want := "combat ended after 3 rounds (side down); with actor.hero, npc.mira"
	if e.Summary != want {
		t.Errorf("Summary = %q, want %q", e.Summary, want)
	}
	if len(e.Embedding) != 2 {
		t.Errorf("Embedding length = %d, want 2", len(e.Embedding))
	}

	// Re-firing the hook for the same event and NPC must not duplicate.
	w.EventEnded(ctx, grenda, ev, turns.EndSideDown)
	got, err = store.Recent(ctx, grenda, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("after re-fire got %d entries, want 1", len(got))
	}
}

func TestWriterEventEndedMarksOwnDefeat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMem(0)
	w := NewWriter(store, nil, slog.Default())

	ev := turns.TimedEvent{
		ID:    "ev-2",
		Type:  turns.EventCombat,
		Round: 1,
		Participants: []*turns.Participant{
			{Ref: grenda, Down: true},
			{Ref: world.MustRef("actor.hero")},
		},
	}
	w.EventEnded(ctx, grenda, ev, turns.EndSideDown)

	got, err := store.Recent(ctx, grenda, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := "combat ended after 1 round (side down); with actor.hero; was brought down"
	if got[0].Summary != want {
		t.Errorf("Summary = %q, want %q", got[0].Summary, want)
	}
}

func TestWriterObserveFilters(t *testing.T) {
	t.Parallel()

	base := perception.Event{
		ID:       "imp-1",
		Observer: grenda,
		Actor:    world.MustRef("actor.hero"),
		Type:     perception.TypeActionCompleted,
		Clarity:  perception.ClarityClear,
		Threat:   80,
		Summary:  "actor.hero cut down the guard captain",
		At:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	cases := []struct {
		name    string
		mutate  func(*perception.Event)
		written bool
	}{
		{"notable threat is written", func(*perception.Event) {}, true},
		{"low threat skipped", func(ev *perception.Event) { ev.Threat = 40 }, false},
		{"non-npc observer skipped", func(ev *perception.Event) {
			ev.Observer = world.MustRef("actor.hero")
		}, false},
		{"unperceived skipped", func(ev *perception.Event) {
			ev.Clarity = perception.ClarityNone
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := NewMem(0)
			w := NewWriter(store, nil, slog.Default())

			ev := base
			tc.mutate(&ev)
			if err := w.Observe(ctx, ev); err != nil {
				t.Fatalf("Observe: %v", err)
			}

			got, err := store.Recent(ctx, ev.Observer, 0)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if written := len(got) == 1; written != tc.written {
				t.Fatalf("written = %v, want %v", written, tc.written)
			}
			if tc.written {
				e := got[0]
				if e.Kind != KindImpression {
					t.Errorf("Kind = %q, want %q", e.Kind, KindImpression)
				}
				if e.ID != "imp-1" {
					t.Errorf("ID = %q, want the impression's own ID", e.ID)
				}
				if !e.At.Equal(ev.At) {
					t.Errorf("At = %v, want the impression time %v", e.At, ev.At)
				}
				if e.Threat != 80 {
					t.Errorf("Threat = %f, want 80", e.Threat)
				}
			}
		})
	}
}

func TestWriterEmbedFailureStillWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMem(0)
	embed := &embedmock.Provider{EmbedErr: errors.New("model offline")}
	w := NewWriter(store, embed, slog.Default())

	ev := turns.TimedEvent{
		ID:           "ev-3",
		Type:         turns.EventConversation,
		Round:        2,
		Participants: []*turns.Participant{{Ref: grenda}},
	}
	w.EventEnded(ctx, grenda, ev, turns.EndAllFarewelled)

	got, err := store.Recent(ctx, grenda, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if len(got[0].Embedding) != 0 {
		t.Errorf("entry has embedding %v, want text-only", got[0].Embedding)
	}
}

func TestWriterRecall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMem(0)
	seed := []Entry{
		{ID: "old", NPC: grenda, Summary: "a quiet morning", Embedding: []float32{0, 1},
			At: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "fight", NPC: grenda, Summary: "a brawl by the well", Embedding: []float32{1, 0},
			At: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, e := range seed {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// With a provider, recall ranks by similarity rather than recency.
	embed := &embedmock.Provider{EmbedResult: []float32{1, 0.1}, DimensionsValue: 2}
	w := NewWriter(store, embed, slog.Default())
	got, err := w.Recall(ctx, grenda, "that fight at the well", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fight" {
		t.Fatalf("Recall = %v, want the brawl entry", got)
	}

	// Without a provider it degrades to newest-first.
	plain := NewWriter(store, nil, slog.Default())
	got, err = plain.Recall(ctx, grenda, "anything", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fight" {
		t.Fatalf("recency Recall = %v, want the newest entry", got)
	}

	// A failing provider falls back to recency instead of erroring.
	broken := NewWriter(store, &embedmock.Provider{EmbedErr: errors.New("offline")}, slog.Default())
	got, err = broken.Recall(ctx, grenda, "anything", 1)
	if err != nil {
		t.Fatalf("Recall with broken embedder: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("fallback Recall returned %d entries, want 1", len(got))
	}
}
