package world

import (
	"fmt"
	"math"
)

// Tile is a cell coordinate within a place grid.
type Tile struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// String renders "(x,y)".
func (t Tile) String() string { return fmt.Sprintf("(%d,%d)", t.X, t.Y) }

// Location pins an entity to a tile within a place within a region within a
// world. Distances are Euclidean within one place; crossing a place boundary
// is not a distance, it is travel.
type Location struct {
	WorldX    int     `json:"world_x" yaml:"world_x"`
	WorldY    int     `json:"world_y" yaml:"world_y"`
	RegionX   int     `json:"region_x" yaml:"region_x"`
	RegionY   int     `json:"region_y" yaml:"region_y"`
	PlaceID   string  `json:"place_id" yaml:"place_id"`
	X         int     `json:"x" yaml:"x"`
	Y         int     `json:"y" yaml:"y"`
	Elevation float64 `json:"elevation,omitempty" yaml:"elevation,omitempty"`
}

// Tile returns the in-place tile of l.
func (l Location) Tile() Tile { return Tile{X: l.X, Y: l.Y} }

// SamePlace reports whether both locations are within the same place.
func (l Location) SamePlace(other Location) bool {
	return l.PlaceID == other.PlaceID
}

// SameRegion reports whether both locations share a region tile.
func (l Location) SameRegion(other Location) bool {
	return l.WorldX == other.WorldX && l.WorldY == other.WorldY &&
		l.RegionX == other.RegionX && l.RegionY == other.RegionY
}

// DistanceTo returns the Euclidean tile distance between two locations in the
// same place, or +Inf when they are in different places.
func (l Location) DistanceTo(other Location) float64 {
	if !l.SamePlace(other) {
		return math.Inf(1)
	}
	return Distance(l.Tile(), other.Tile())
}

// Distance is the Euclidean distance between two tiles.
func Distance(a, b Tile) float64 {
	return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
}

// ── Facing and bearings ───────────────────────────────────────────────────────
//
// Facing is stored in compass degrees: 0 = north (−y), 90 = east (+x),
// 180 = south (+y), 270 = west (−x). Grid y grows downward.

// BearingTo returns the compass bearing in degrees from tile a toward tile b.
// Returns 0 when the tiles coincide.
func BearingTo(a, b Tile) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	if dx == 0 && dy == 0 {
		return 0
	}
	// atan2 with north at zero and clockwise-positive angles.
	deg := math.Atan2(dx, -dy) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// AngularDiff returns the absolute smallest angle between two bearings,
// in [0, 180].
func AngularDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// FacingFromStep derives a facing from a single-step delta. Diagonals are not
// produced by 4-connected movement but round to the nearest axis anyway.
func FacingFromStep(from, to Tile) float64 {
	return BearingTo(from, to)
}
