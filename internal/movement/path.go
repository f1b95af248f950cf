// Package movement animates entities across place grids: a 20Hz step
// scheduler over breadth-first paths, per-place tile reservations, facing
// updates, sense emission while moving, and a read-only interpolation query
// for renderers.
package movement

import (
	"github.com/openweald/weald/internal/world"
)

// PathResult is the outcome of one pathfinding attempt.
type PathResult struct {
	// Path runs from the start tile to the goal, inclusive of both.
	Path []world.Tile

	// Blocked is set when no route exists; BlockedAt then names the first
	// wall on the straight approach, or the goal itself when it is a wall.
	Blocked   bool
	BlockedAt *world.Tile
}

// Walls answers whether a tile is impassable for one pathfinding attempt.
// Out-of-bounds tiles, obstacle features, tiles occupied by other entities
// and tiles reserved by other movers all count.
type Walls struct {
	Grid      world.TileGrid
	Obstacles map[world.Tile]bool
	Occupied  map[world.Tile]world.Ref
	Reserved  map[world.Tile]world.Ref

	// Self passes through its own occupancy and reservations.
	Self world.Ref
}

// Blocked reports whether t is a wall.
func (w Walls) Blocked(t world.Tile) bool {
	if !w.Grid.InBounds(t) {
		return true
	}
	if w.Obstacles[t] {
		return true
	}
	if ref, ok := w.Occupied[t]; ok && ref != w.Self {
		return true
	}
	if ref, ok := w.Reserved[t]; ok && ref != w.Self {
		return true
	}
	return false
}

// WallsFor builds the wall set for a place. Occupancy and reservations are
// supplied by the caller; obstacle features come from the place itself.
func WallsFor(place world.Place, occupied, reserved map[world.Tile]world.Ref, self world.Ref) Walls {
	obstacles := make(map[world.Tile]bool)
	for _, f := range place.Contents.Features {
		if f.Obstacle {
			obstacles[f.Tile] = true
		}
	}
	return Walls{
		Grid:      place.Grid,
		Obstacles: obstacles,
		Occupied:  occupied,
		Reserved:  reserved,
		Self:      self,
	}
}

// steps is the 4-connected neighbourhood, ordered north, east, south, west
// so equal-length paths come out the same way every run.
var steps = [4]world.Tile{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}

// FindPath runs a breadth-first search from start to goal over 4-connected
// tiles. The start tile is never treated as a wall (the mover stands on it).
func FindPath(walls Walls, start, goal world.Tile) PathResult {
	if start == goal {
		return PathResult{Path: []world.Tile{start}}
	}
	if walls.Blocked(goal) {
		g := goal
		return PathResult{Blocked: true, BlockedAt: &g}
	}

	prev := map[world.Tile]world.Tile{start: start}
	queue := []world.Tile{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range steps {
			next := world.Tile{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, seen := prev[next]; seen || walls.Blocked(next) {
				continue
			}
			prev[next] = cur
			if next == goal {
				return PathResult{Path: rebuild(prev, start, goal)}
			}
			queue = append(queue, next)
		}
	}

	blockedAt := firstWallToward(walls, start, goal)
	return PathResult{Blocked: true, BlockedAt: &blockedAt}
}

func rebuild(prev map[world.Tile]world.Tile, start, goal world.Tile) []world.Tile {
	var rev []world.Tile
	for t := goal; t != start; t = prev[t] {
		rev = append(rev, t)
	}
	rev = append(rev, start)
	path := make([]world.Tile, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}

// firstWallToward walks the axis-dominant line from start toward goal and
// returns the first impassable tile, for blocked-path reporting.
func firstWallToward(walls Walls, start, goal world.Tile) world.Tile {
	cur := start
	for cur != goal {
		dx, dy := goal.X-cur.X, goal.Y-cur.Y
		if abs(dx) >= abs(dy) && dx != 0 {
			cur.X += sign(dx)
		} else if dy != 0 {
			cur.Y += sign(dy)
		}
		if walls.Blocked(cur) {
			return cur
		}
	}
	return goal
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}
