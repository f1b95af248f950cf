package movement

import "github.com/openweald/weald/internal/world"

// Reservations tracks which mover has claimed which tile, per place, so two
// entities never commit to the same next tile. Not safe for concurrent use;
// the engine serialises access under its own lock.
type Reservations struct {
	byPlace map[string]map[world.Tile]world.Ref
}

// NewReservations returns an empty reservation table.
func NewReservations() *Reservations {
	return &Reservations{byPlace: make(map[string]map[world.Tile]world.Ref)}
}

// Acquire claims t in placeID for ref. It fails only when another entity
// holds the tile; re-acquiring one's own claim succeeds.
func (r *Reservations) Acquire(placeID string, t world.Tile, ref world.Ref) bool {
	tiles := r.byPlace[placeID]
	if tiles == nil {
		tiles = make(map[world.Tile]world.Ref)
		r.byPlace[placeID] = tiles
	}
	if owner, ok := tiles[t]; ok && owner != ref {
		return false
	}
	tiles[t] = ref
	return true
}

// Release drops ref's claim on t; claims held by others are untouched.
func (r *Reservations) Release(placeID string, t world.Tile, ref world.Ref) {
	if tiles := r.byPlace[placeID]; tiles != nil && tiles[t] == ref {
		delete(tiles, t)
	}
}

// ReleaseAll drops every claim ref holds in placeID, for cancellation and
// crash cleanup.
func (r *Reservations) ReleaseAll(placeID string, ref world.Ref) {
	for t, owner := range r.byPlace[placeID] {
		if owner == ref {
			delete(r.byPlace[placeID], t)
		}
	}
}

// Snapshot copies the claims for one place, for pathfinding walls.
func (r *Reservations) Snapshot(placeID string) map[world.Tile]world.Ref {
	out := make(map[world.Tile]world.Ref, len(r.byPlace[placeID]))
	for t, ref := range r.byPlace[placeID] {
		out[t] = ref
	}
	return out
}
