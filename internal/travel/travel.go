// Package travel moves entities between connected places: connection and
// key checks, door placement from the reciprocal connection's edge, and the
// atomic contents handover that keeps an entity in exactly one place.
package travel

import (
	"context"
	"log/slog"
	"time"

	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// Traveler performs inter-place moves for one slot.
type Traveler struct {
	store store.Store
	index *store.PlaceIndex
	slot  int
	log   *slog.Logger
}

// NewTraveler wires a traveler over the given store and place index.
func NewTraveler(s store.Store, ix *store.PlaceIndex, slot int, log *slog.Logger) *Traveler {
	return &Traveler{store: s, index: ix, slot: slot, log: log}
}

// Move relocates ref from its current place through a connection to
// destPlaceID. It returns the arrival location and how long the crossing
// takes in world time. Faults: OutOfRange when no connection exists,
// RequiresKey when the connection is gated and the entity lacks the key.
func (t *Traveler) Move(ctx context.Context, ref world.Ref, destPlaceID string) (world.Location, time.Duration, error) {
	const op = "travel: move"

	rec, err := store.LoadEntity(ctx, t.store, t.slot, ref)
	if err != nil {
		return world.Location{}, 0, err
	}
	loc, ok := rec.Location()
	if !ok {
		return world.Location{}, 0, fault.Newf(fault.Internal, op, "%s has no location", ref)
	}
	if loc.PlaceID == destPlaceID {
		return loc, 0, nil
	}

	src, err := t.loadPlace(ctx, loc.PlaceID)
	if err != nil {
		return world.Location{}, 0, err
	}
	conn, ok := src.ConnectionTo(destPlaceID)
	if !ok {
		return world.Location{}, 0, fault.Newf(fault.OutOfRange, op,
			"%s is not connected to %s", src.ID, destPlaceID)
	}
	if conn.RequiresKey != "" && !rec.HasItem(conn.RequiresKey) {
		return world.Location{}, 0, fault.Newf(fault.RequiresKey, op,
			"the way to %s needs %q", destPlaceID, conn.RequiresKey)
	}

	dest, err := t.loadPlace(ctx, destPlaceID)
	if err != nil {
		if fault.Is(err, fault.NotFound) {
			return world.Location{}, 0, fault.Newf(fault.NotFound, op, "no place %q", destPlaceID)
		}
		return world.Location{}, 0, err
	}

	arrival, facing := doorPlacement(src.ID, dest)

	// Contents move: remove from the source place record, add to the
	// destination, then the index. The index's Add is the invariant
	// keeper: it delists the entity everywhere else.
	src.Contents.RemoveEntity(ref)
	if err := t.savePlace(ctx, src); err != nil {
		return world.Location{}, 0, err
	}
	if err := dest.Contents.AddEntity(ref); err != nil {
		return world.Location{}, 0, fault.Newf(fault.Internal, op, "%v", err)
	}
	if err := t.savePlace(ctx, dest); err != nil {
		return world.Location{}, 0, err
	}
	if err := t.index.Add(ctx, dest.ID, ref); err != nil {
		return world.Location{}, 0, err
	}

	newLoc := loc
	newLoc.PlaceID = dest.ID
	newLoc.X, newLoc.Y = arrival.X, arrival.Y
	rec.SetLocation(newLoc)
	rec.SetFacing(facing)
	if err := store.SaveEntity(ctx, t.store, t.slot, ref, rec); err != nil {
		return world.Location{}, 0, err
	}

	t.log.Info("entity travelled",
		"entity", ref.String(),
		"from", src.ID,
		"to", dest.ID,
		"arrival", arrival.String())
	return newLoc, time.Duration(conn.TravelTimeSeconds) * time.Second, nil
}

// doorPlacement finds where an entity entering dest from srcPlaceID appears
// and which way it faces. The arrival tile sits on the edge named by the
// reciprocal connection's direction; without one, the default entry. Facing
// points into the room, away from the door edge.
func doorPlacement(srcPlaceID string, dest world.Place) (world.Tile, float64) {
	back, ok := dest.ConnectionTo(srcPlaceID)
	if !ok || !back.Direction.IsValid() {
		return dest.Grid.DefaultEntry, directionBearing(world.South)
	}
	return dest.Grid.EdgeTile(back.Direction), directionBearing(back.Direction.Opposite())
}

func directionBearing(d world.Direction) float64 {
	switch d {
	case world.North:
		return 0
	case world.East:
		return 90
	case world.South:
		return 180
	case world.West:
		return 270
	}
	return 0
}

func (t *Traveler) loadPlace(ctx context.Context, placeID string) (world.Place, error) {
	rec, err := t.store.Load(ctx, t.slot, store.KindPlace, placeID)
	if err != nil {
		return world.Place{}, err
	}
	return world.PlaceFromRecord(rec)
}

func (t *Traveler) savePlace(ctx context.Context, p world.Place) error {
	return t.store.Save(ctx, t.slot, store.KindPlace, p.ID, world.PlaceToRecord(p))
}
