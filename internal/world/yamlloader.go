package world

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// WorldFile is the top-level structure of a weald world YAML file, used to
// seed a fresh slot with places and their inhabitants.
//
// Example:
//
//	world:
//	  name: "Thornford"
//	places:
//	  - id: market
//	    region_id: thornford
//	    tile_grid: {width: 24, height: 24, default_entry: {x: 12, y: 23}}
//	npcs:
//	  - id: grenda
//	    name: "Grenda"
//	    place_id: market
//	    tile: {x: 5, y: 6}
type WorldFile struct {
	World  WorldMeta   `yaml:"world"`
	Places []Place     `yaml:"places"`
	NPCs   []EntitySeed `yaml:"npcs"`
	Actors []EntitySeed `yaml:"actors"`
}

// WorldMeta holds top-level metadata for a seeded world.
type WorldMeta struct {
	// Name is the world's display name.
	Name string `yaml:"name"`

	// Description is a free-text summary.
	Description string `yaml:"description"`
}

// EntitySeed is the YAML shape of one actor or NPC to create.
type EntitySeed struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	PlaceID     string             `yaml:"place_id"`
	Tile        Tile               `yaml:"tile"`
	Facing      float64            `yaml:"facing"`
	Vision      string             `yaml:"vision"`
	Stats       map[string]float64 `yaml:"stats"`
	Health      *HealthSeed        `yaml:"health"`
	Tags        []string           `yaml:"tags"`
	Inventory   []InventorySeed    `yaml:"inventory"`
	Personality map[string]any     `yaml:"personality"`
	SpeedTPM    float64            `yaml:"speed_tpm"`
}

// HealthSeed is the YAML shape of a health resource.
type HealthSeed struct {
	Current float64 `yaml:"current"`
	Max     float64 `yaml:"max"`
}

// InventorySeed is one carried item.
type InventorySeed struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

// LoadWorldFile reads and parses a world YAML file from disk.
func LoadWorldFile(path string) (*WorldFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("world: open world file %q: %w", path, err)
	}
	defer f.Close()

	wf, err := LoadWorldFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("world: parse world file %q: %w", path, err)
	}
	return wf, nil
}

// LoadWorldFromReader parses world YAML from an [io.Reader]. Unknown keys are
// rejected to catch typos early.
func LoadWorldFromReader(r io.Reader) (*WorldFile, error) {
	var wf WorldFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("world: decode world yaml: %w", err)
	}
	if err := validateWorldFile(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// validateWorldFile checks referential integrity: ids present and unique,
// entities placed in declared places, tiles in bounds.
func validateWorldFile(wf *WorldFile) error {
	places := make(map[string]*Place, len(wf.Places))
	for i := range wf.Places {
		p := &wf.Places[i]
		if p.ID == "" {
			return fmt.Errorf("world: places[%d].id is required", i)
		}
		if _, dup := places[p.ID]; dup {
			return fmt.Errorf("world: duplicate place id %q", p.ID)
		}
		if p.Grid.Width <= 0 || p.Grid.Height <= 0 {
			return fmt.Errorf("world: place %q has empty tile grid", p.ID)
		}
		places[p.ID] = p
	}

	check := func(kind string, seeds []EntitySeed) error {
		seen := make(map[string]bool, len(seeds))
		for i, s := range seeds {
			if s.ID == "" {
				return fmt.Errorf("world: %s[%d].id is required", kind, i)
			}
			if seen[s.ID] {
				return fmt.Errorf("world: duplicate %s id %q", kind, s.ID)
			}
			seen[s.ID] = true
			p, ok := places[s.PlaceID]
			if !ok {
				return fmt.Errorf("world: %s %q placed in unknown place %q", kind, s.ID, s.PlaceID)
			}
			if !p.Grid.InBounds(s.Tile) {
				return fmt.Errorf("world: %s %q tile %v out of bounds for place %q", kind, s.ID, s.Tile, s.PlaceID)
			}
		}
		return nil
	}
	if err := check("npcs", wf.NPCs); err != nil {
		return err
	}
	return check("actors", wf.Actors)
}

// Record converts a seed into the storage record shape, placing it in the
// named place at its seed tile.
func (s EntitySeed) Record() Record {
	rec := Record{
		"id":   s.ID,
		"name": s.Name,
	}
	rec.SetLocation(Location{PlaceID: s.PlaceID, X: s.Tile.X, Y: s.Tile.Y})
	if s.Facing != 0 {
		rec.SetFacing(s.Facing)
	}
	if s.Vision != "" {
		rec["vision"] = s.Vision
	}
	if len(s.Stats) > 0 {
		stats := make(map[string]any, len(s.Stats))
		for k, v := range s.Stats {
			stats[k] = v
		}
		rec["stats"] = stats
	}
	if s.Health != nil {
		rec.SetHealth(s.Health.Current, s.Health.Max)
	}
	for _, t := range s.Tags {
		rec.AddTag(t)
	}
	for _, item := range s.Inventory {
		rec.AdjustInventory(item.Name, item.Count)
	}
	if len(s.Personality) > 0 {
		rec["personality"] = s.Personality
	}
	if s.SpeedTPM > 0 {
		rec["speed_tpm"] = s.SpeedTPM
	}
	return rec
}

// PlaceRecord converts a Place into its storage record shape, with starting
// contents drawn from the entity seeds that name it.
func PlaceRecord(p Place, npcs, actors []EntitySeed) Record {
	contents := Contents{Features: p.Contents.Features}
	for _, s := range npcs {
		if s.PlaceID == p.ID {
			contents.NPCs = append(contents.NPCs, MakeRef(KindNPC, s.ID).String())
		}
	}
	for _, s := range actors {
		if s.PlaceID == p.ID {
			contents.Actors = append(contents.Actors, MakeRef(KindActor, s.ID).String())
		}
	}
	p.Contents = contents
	return placeToRecord(p)
}

// PlaceToRecord converts a live place, current contents included, into its
// storage record shape.
func PlaceToRecord(p Place) Record { return placeToRecord(p) }

func placeToRecord(p Place) Record {
	features := make([]any, 0, len(p.Contents.Features))
	for _, f := range p.Contents.Features {
		features = append(features, map[string]any{
			"id":       f.ID,
			"name":     f.Name,
			"tile":     map[string]any{"x": f.Tile.X, "y": f.Tile.Y},
			"obstacle": f.Obstacle,
		})
	}
	conns := make([]any, 0, len(p.Connections))
	for _, c := range p.Connections {
		conns = append(conns, map[string]any{
			"target_place_id":     c.TargetPlaceID,
			"direction":           string(c.Direction),
			"travel_time_seconds": c.TravelTimeSeconds,
			"requires_key":        c.RequiresKey,
		})
	}
	return Record{
		"id":        p.ID,
		"region_id": p.RegionID,
		"name":      p.Name,
		"tile_grid": map[string]any{
			"width":  p.Grid.Width,
			"height": p.Grid.Height,
			"default_entry": map[string]any{
				"x": p.Grid.DefaultEntry.X,
				"y": p.Grid.DefaultEntry.Y,
			},
		},
		"connections": conns,
		"contents": map[string]any{
			"npcs_present":   toAnySlice(p.Contents.NPCs),
			"actors_present": toAnySlice(p.Contents.Actors),
			"features":       features,
		},
	}
}

// PlaceFromRecord decodes a place record back into a typed [Place].
func PlaceFromRecord(rec Record) (Place, error) {
	p := Place{
		ID:       rec.ID(),
		Name:     rec.Name(),
		RegionID: rec.str("region_id"),
	}
	if p.ID == "" {
		return Place{}, fmt.Errorf("world: place record missing id")
	}
	if g, ok := rec["tile_grid"].(map[string]any); ok {
		p.Grid.Width = toInt(g["width"])
		p.Grid.Height = toInt(g["height"])
		if de, ok := g["default_entry"].(map[string]any); ok {
			p.Grid.DefaultEntry = Tile{X: toInt(de["x"]), Y: toInt(de["y"])}
		}
	}
	if raw, ok := rec["connections"].([]any); ok {
		for _, v := range raw {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			c := Connection{
				TravelTimeSeconds: toInt(m["travel_time_seconds"]),
			}
			c.TargetPlaceID, _ = m["target_place_id"].(string)
			if d, ok := m["direction"].(string); ok {
				c.Direction = Direction(d)
			}
			c.RequiresKey, _ = m["requires_key"].(string)
			p.Connections = append(p.Connections, c)
		}
	}
	if cm, ok := rec["contents"].(map[string]any); ok {
		p.Contents.NPCs = toStringSlice(cm["npcs_present"])
		p.Contents.Actors = toStringSlice(cm["actors_present"])
		if raw, ok := cm["features"].([]any); ok {
			for _, v := range raw {
				m, ok := v.(map[string]any)
				if !ok {
					continue
				}
				f := Feature{}
				f.ID, _ = m["id"].(string)
				f.Name, _ = m["name"].(string)
				f.Obstacle, _ = m["obstacle"].(bool)
				if tm, ok := m["tile"].(map[string]any); ok {
					f.Tile = Tile{X: toInt(tm["x"]), Y: toInt(tm["y"])}
				}
				p.Contents.Features = append(p.Contents.Features, f)
			}
		}
	}
	return p, nil
}

func (r Record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStringSlice(v any) []string {
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
