package world

import "fmt"

// Direction is a cardinal connection heading between places.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// IsValid reports whether d is a recognised direction.
func (d Direction) IsValid() bool {
	switch d {
	case North, South, East, West:
		return true
	}
	return false
}

// Opposite returns the reciprocal heading, used to locate the door an entity
// arrives through.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	}
	return d
}

// Connection links one place to another.
type Connection struct {
	TargetPlaceID     string    `json:"target_place_id" yaml:"target_place_id"`
	Direction         Direction `json:"direction" yaml:"direction"`
	TravelTimeSeconds int       `json:"travel_time_seconds" yaml:"travel_time_seconds"`
	RequiresKey       string    `json:"requires_key,omitempty" yaml:"requires_key,omitempty"`
}

// TileGrid is the walkable extent of a place.
type TileGrid struct {
	Width        int  `json:"width" yaml:"width"`
	Height       int  `json:"height" yaml:"height"`
	DefaultEntry Tile `json:"default_entry" yaml:"default_entry"`
}

// InBounds reports whether t lies within the grid.
func (g TileGrid) InBounds(t Tile) bool {
	return t.X >= 0 && t.Y >= 0 && t.X < g.Width && t.Y < g.Height
}

// EdgeTile returns the entry tile on the given edge of the grid, centred
// along that edge. Invalid directions fall back to the default entry.
func (g TileGrid) EdgeTile(d Direction) Tile {
	switch d {
	case North:
		return Tile{X: g.Width / 2, Y: 0}
	case South:
		return Tile{X: g.Width / 2, Y: g.Height - 1}
	case East:
		return Tile{X: g.Width - 1, Y: g.Height / 2}
	case West:
		return Tile{X: 0, Y: g.Height / 2}
	}
	return g.DefaultEntry
}

// Feature is a fixture within a place (a counter, a fountain, a crate).
// Obstacle features are walls for pathfinding.
type Feature struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Tile     Tile   `json:"tile" yaml:"tile"`
	Obstacle bool   `json:"obstacle" yaml:"obstacle"`
}

// Contents lists who and what is present in a place. Entries are refs in
// string form; an entity appears in at most one place's contents at a time.
type Contents struct {
	NPCs     []string  `json:"npcs_present" yaml:"npcs_present"`
	Actors   []string  `json:"actors_present" yaml:"actors_present"`
	Features []Feature `json:"features" yaml:"features"`
}

// Place is one navigable level of the world.
type Place struct {
	ID          string       `json:"id" yaml:"id"`
	RegionID    string       `json:"region_id" yaml:"region_id"`
	Name        string       `json:"name" yaml:"name"`
	Grid        TileGrid     `json:"tile_grid" yaml:"tile_grid"`
	Connections []Connection `json:"connections" yaml:"connections"`
	Contents    Contents     `json:"contents" yaml:"contents"`
}

// ConnectionTo returns the connection from p toward the named place.
func (p *Place) ConnectionTo(targetPlaceID string) (Connection, bool) {
	for _, c := range p.Connections {
		if c.TargetPlaceID == targetPlaceID {
			return c, true
		}
	}
	return Connection{}, false
}

// ConnectionToward returns the connection leaving p in the given direction.
func (p *Place) ConnectionToward(d Direction) (Connection, bool) {
	for _, c := range p.Connections {
		if c.Direction == d {
			return c, true
		}
	}
	return Connection{}, false
}

// ObstacleAt reports whether an obstacle feature covers t.
func (p *Place) ObstacleAt(t Tile) bool {
	for _, f := range p.Contents.Features {
		if f.Obstacle && f.Tile == t {
			return true
		}
	}
	return false
}

// HasEntity reports whether ref (string form) is listed in the contents.
func (c Contents) HasEntity(ref string) bool {
	for _, r := range c.NPCs {
		if r == ref {
			return true
		}
	}
	for _, r := range c.Actors {
		if r == ref {
			return true
		}
	}
	return false
}

// AddEntity inserts ref into the kind-appropriate list, once.
func (c *Contents) AddEntity(ref Ref) error {
	s := ref.String()
	if c.HasEntity(s) {
		return nil
	}
	switch ref.Kind {
	case KindNPC:
		c.NPCs = append(c.NPCs, s)
	case KindActor:
		c.Actors = append(c.Actors, s)
	default:
		return fmt.Errorf("world: contents cannot hold %q", ref.Kind)
	}
	return nil
}

// RemoveEntity deletes ref from whichever list holds it.
func (c *Contents) RemoveEntity(ref Ref) {
	s := ref.String()
	c.NPCs = removeString(c.NPCs, s)
	c.Actors = removeString(c.Actors, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
