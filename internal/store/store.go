// Package store is the key-value persistence boundary of weald. Records are
// opaque string-keyed maps ([world.Record]); the engine reads and writes them
// through the [Store] interface and never learns the backend's on-disk
// format.
//
// Two backends ship: [MemStore] for in-memory runs and tests, and [PG]
// backed by a PostgreSQL JSONB table. Both key records by
// (slot, kind, id) — a slot is one savegame world.
package store

import (
	"context"
	"strings"

	"github.com/openweald/weald/internal/world"
)

// Record kinds. The four entity kinds mirror [world.RefKind] string values;
// the reserved kinds hold engine-maintained tables that must stay
// reconstructible from entity records.
const (
	KindActor  = "actor"
	KindNPC    = "npc"
	KindPlace  = "place"
	KindRegion = "region"

	// KindPlaceIndex holds per-place population entries maintained by
	// [PlaceIndex].
	KindPlaceIndex = "place_index"

	// KindPresence holds the conversation-presence table maintained by
	// [Presence].
	KindPresence = "presence"
)

// Filter narrows a [Store.List] to records carrying a tag and/or an exact
// name (case-insensitive). The zero Filter matches everything.
type Filter struct {
	Tag  string
	Name string
}

// Matches reports whether rec satisfies every set predicate.
func (f Filter) Matches(rec world.Record) bool {
	if f.Tag != "" && !rec.HasTag(f.Tag) {
		return false
	}
	if f.Name != "" && !strings.EqualFold(rec.Name(), f.Name) {
		return false
	}
	return true
}

// Store is the persistence contract required of the host. All methods are
// safe for concurrent use.
type Store interface {
	// Load returns the record at (slot, kind, id), or a not_found fault.
	Load(ctx context.Context, slot int, kind, id string) (world.Record, error)

	// Save writes the record at (slot, kind, id), replacing any previous
	// value.
	Save(ctx context.Context, slot int, kind, id string, rec world.Record) error

	// Delete removes the record at (slot, kind, id). Deleting an absent
	// record is not an error.
	Delete(ctx context.Context, slot int, kind, id string) error

	// List returns the ids of every record of kind in slot matching filter,
	// in lexical order.
	List(ctx context.Context, slot int, kind string, filter Filter) ([]string, error)
}

// LoadEntity resolves a reference to its record, trying the kind named by
// the reference.
func LoadEntity(ctx context.Context, s Store, slot int, ref world.Ref) (world.Record, error) {
	return s.Load(ctx, slot, string(ref.Kind), ref.ID)
}

// SaveEntity persists a record under its reference.
func SaveEntity(ctx context.Context, s Store, slot int, ref world.Ref, rec world.Record) error {
	return s.Save(ctx, slot, string(ref.Kind), ref.ID, rec)
}
