package journal

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/openweald/weald/internal/world"
)

// Compile-time interface check.
var _ Store = (*Guard)(nil)

// Guard wraps a [Store] and makes every operation non-fatal. A journal that
// cannot be reached must never stall the action pipeline, so failures are
// logged, the guard flips to degraded, and callers get empty defaults. The
// flag clears on the next successful operation.
type Guard struct {
	store    Store
	log      *slog.Logger
	degraded atomic.Bool
}

// NewGuard wraps store so its failures are swallowed.
func NewGuard(store Store, log *slog.Logger) *Guard {
	return &Guard{store: store, log: log}
}

// Append implements [Store]. On failure the entry is dropped with a warning.
func (g *Guard) Append(ctx context.Context, e Entry) error {
	if err := g.store.Append(ctx, e); err != nil {
		g.degraded.Store(true)
		g.log.Warn("journal guard: append failed, dropping entry",
			"npc", e.NPC, "kind", e.Kind, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Recent implements [Store]. On failure an empty slice is returned.
func (g *Guard) Recent(ctx context.Context, npc world.Ref, limit int) ([]Entry, error) {
	entries, err := g.store.Recent(ctx, npc, limit)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("journal guard: recent failed, returning empty",
			"npc", npc, "error", err)
		return []Entry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// Search implements [Store]. On failure an empty slice is returned.
func (g *Guard) Search(ctx context.Context, npc world.Ref, embedding []float32, topK int) ([]Result, error) {
	results, err := g.store.Search(ctx, npc, embedding, topK)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("journal guard: search failed, returning empty",
			"npc", npc, "error", err)
		return []Result{}, nil
	}
	g.degraded.Store(false)
	return results, nil
}

// IsDegraded reports whether the most recent operation on the wrapped store
// failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
