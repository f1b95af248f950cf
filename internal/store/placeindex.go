package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/world"
)

// IndexEntry is one place's population as recorded by the [PlaceIndex].
type IndexEntry struct {
	NPCs        []string
	Actors      []string
	LastUpdated time.Time
}

// Has reports whether the entry lists ref (string form).
func (e IndexEntry) Has(ref string) bool {
	for _, r := range e.NPCs {
		if r == ref {
			return true
		}
	}
	for _, r := range e.Actors {
		if r == ref {
			return true
		}
	}
	return false
}

// PlaceIndex maintains the per-slot place → population table on top of a
// [Store]. The table is pure derived state: it must stay reconstructible
// from entity records, which is what [PlaceIndex.Rebuild] does after a purge
// or a suspected drift.
//
// Entries persist under [KindPlaceIndex] so a restart resumes with a warm
// index. A single mutex serialises mutations; the store itself has no
// cross-record transactions.
type PlaceIndex struct {
	mu    sync.Mutex
	store Store
	slot  int
}

// NewPlaceIndex returns an index over one slot of the store.
func NewPlaceIndex(s Store, slot int) *PlaceIndex {
	return &PlaceIndex{store: s, slot: slot}
}

// Entry returns the population of a place. Unknown places read as empty, not
// as an error, because an empty place has no entry.
func (ix *PlaceIndex) Entry(ctx context.Context, placeID string) (IndexEntry, error) {
	rec, err := ix.store.Load(ctx, ix.slot, KindPlaceIndex, placeID)
	if err != nil {
		if fault.Is(err, fault.NotFound) {
			return IndexEntry{}, nil
		}
		return IndexEntry{}, err
	}
	return decodeIndexEntry(rec), nil
}

// Add lists ref under placeID, first removing it from any other place entry
// so an entity never appears twice.
func (ix *PlaceIndex) Add(ctx context.Context, placeID string, ref world.Ref) error {
	if ref.Kind != world.KindNPC && ref.Kind != world.KindActor {
		return fault.Newf(fault.Internal, "store: index add", "cannot index %q", ref.Kind)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.removeEverywhere(ctx, ref, placeID); err != nil {
		return err
	}
	entry, err := ix.Entry(ctx, placeID)
	if err != nil {
		return err
	}
	s := ref.String()
	if entry.Has(s) {
		return nil
	}
	if ref.Kind == world.KindNPC {
		entry.NPCs = append(entry.NPCs, s)
	} else {
		entry.Actors = append(entry.Actors, s)
	}
	return ix.save(ctx, placeID, entry)
}

// Remove delists ref from placeID. Removing an absent entity is a no-op.
func (ix *PlaceIndex) Remove(ctx context.Context, placeID string, ref world.Ref) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, err := ix.Entry(ctx, placeID)
	if err != nil {
		return err
	}
	s := ref.String()
	if !entry.Has(s) {
		return nil
	}
	entry.NPCs = dropString(entry.NPCs, s)
	entry.Actors = dropString(entry.Actors, s)
	return ix.save(ctx, placeID, entry)
}

// Purge deletes every index entry in the slot. Run Rebuild afterwards; until
// then the index reads empty everywhere.
func (ix *PlaceIndex) Purge(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids, err := ix.store.List(ctx, ix.slot, KindPlaceIndex, Filter{})
	if err != nil {
		return fmt.Errorf("store: index purge: %w", err)
	}
	for _, id := range ids {
		if err := ix.store.Delete(ctx, ix.slot, KindPlaceIndex, id); err != nil {
			return fmt.Errorf("store: index purge %q: %w", id, err)
		}
	}
	return nil
}

// Rebuild reconstructs every entry from the entity records' locations,
// replacing whatever the index held before. Entities without a location are
// skipped.
func (ix *PlaceIndex) Rebuild(ctx context.Context) error {
	if err := ix.Purge(ctx); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := map[string]*IndexEntry{}
	for _, kind := range []string{KindNPC, KindActor} {
		ids, err := ix.store.List(ctx, ix.slot, kind, Filter{})
		if err != nil {
			return fmt.Errorf("store: index rebuild: %w", err)
		}
		for _, id := range ids {
			rec, err := ix.store.Load(ctx, ix.slot, kind, id)
			if err != nil {
				return fmt.Errorf("store: index rebuild %s/%s: %w", kind, id, err)
			}
			loc, ok := rec.Location()
			if !ok || loc.PlaceID == "" {
				continue
			}
			entry := entries[loc.PlaceID]
			if entry == nil {
				entry = &IndexEntry{}
				entries[loc.PlaceID] = entry
			}
			ref := world.Ref{Kind: world.RefKind(kind), ID: id}.String()
			if kind == KindNPC {
				entry.NPCs = append(entry.NPCs, ref)
			} else {
				entry.Actors = append(entry.Actors, ref)
			}
		}
	}
	for placeID, entry := range entries {
		if err := ix.save(ctx, placeID, *entry); err != nil {
			return err
		}
	}
	return nil
}

// removeEverywhere scans the index for ref and drops it, skipping exceptID.
// Caller holds the mutex.
func (ix *PlaceIndex) removeEverywhere(ctx context.Context, ref world.Ref, exceptID string) error {
	ids, err := ix.store.List(ctx, ix.slot, KindPlaceIndex, Filter{})
	if err != nil {
		return err
	}
	s := ref.String()
	for _, placeID := range ids {
		if placeID == exceptID {
			continue
		}
		rec, err := ix.store.Load(ctx, ix.slot, KindPlaceIndex, placeID)
		if err != nil {
			if fault.Is(err, fault.NotFound) {
				continue
			}
			return err
		}
		entry := decodeIndexEntry(rec)
		if !entry.Has(s) {
			continue
		}
		entry.NPCs = dropString(entry.NPCs, s)
		entry.Actors = dropString(entry.Actors, s)
		if err := ix.save(ctx, placeID, entry); err != nil {
			return err
		}
	}
	return nil
}

func (ix *PlaceIndex) save(ctx context.Context, placeID string, entry IndexEntry) error {
	rec := world.Record{
		"id":           placeID,
		"npcs":         toAnySlice(entry.NPCs),
		"actors":       toAnySlice(entry.Actors),
		"last_updated": time.Now().UnixMilli(),
	}
	return ix.store.Save(ctx, ix.slot, KindPlaceIndex, placeID, rec)
}

func decodeIndexEntry(rec world.Record) IndexEntry {
	entry := IndexEntry{
		NPCs:   stringSlice(rec["npcs"]),
		Actors: stringSlice(rec["actors"]),
	}
	if ms, ok := rec["last_updated"].(int64); ok {
		entry.LastUpdated = time.UnixMilli(ms)
	} else if ms, ok := rec["last_updated"].(float64); ok {
		entry.LastUpdated = time.UnixMilli(int64(ms))
	}
	return entry
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func dropString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
