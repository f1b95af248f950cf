package world

// Record is the opaque map shape exchanged with the storage collaborator.
// A small well-known subset of keys ("id", "name", "location", "stats",
// "resources", "tags", "inventory", "body_slots", plus weald's "facing",
// "vision" and "personality") carries typed accessors below; everything else
// passes through untouched.
//
// Records hold only JSON-safe values: strings, float64/int numbers, bools,
// []any, and map[string]any. Accessors coerce numerics both ways so records
// survive a JSON round-trip.
type Record map[string]any

// ID returns the record's id field.
func (r Record) ID() string { return r.str("id") }

// Name returns the record's display name.
func (r Record) Name() string { return r.str("name") }

// SetName sets the display name.
func (r Record) SetName(name string) { r["name"] = name }

// Location decodes the record's location. The second return is false when the
// record has no location.
func (r Record) Location() (Location, bool) {
	m, ok := r["location"].(map[string]any)
	if !ok {
		return Location{}, false
	}
	loc := Location{
		WorldX:  toInt(m["world_x"]),
		WorldY:  toInt(m["world_y"]),
		RegionX: toInt(m["region_x"]),
		RegionY: toInt(m["region_y"]),
		X:       toInt(m["x"]),
		Y:       toInt(m["y"]),
	}
	if s, ok := m["place_id"].(string); ok {
		loc.PlaceID = s
	}
	if e, ok := toFloat(m["elevation"]); ok {
		loc.Elevation = e
	}
	return loc, true
}

// SetLocation stores loc on the record as a plain map.
func (r Record) SetLocation(loc Location) {
	m := map[string]any{
		"world_x":  loc.WorldX,
		"world_y":  loc.WorldY,
		"region_x": loc.RegionX,
		"region_y": loc.RegionY,
		"place_id": loc.PlaceID,
		"x":        loc.X,
		"y":        loc.Y,
	}
	if loc.Elevation != 0 {
		m["elevation"] = loc.Elevation
	}
	r["location"] = m
}

// Stat reads a numeric entry from the stats map (e.g. "dex", "str").
func (r Record) Stat(name string) (float64, bool) {
	m, ok := r["stats"].(map[string]any)
	if !ok {
		return 0, false
	}
	return toFloat(m[name])
}

// SetStat writes a numeric stat, creating the stats map if needed.
func (r Record) SetStat(name string, v float64) {
	m, ok := r["stats"].(map[string]any)
	if !ok {
		m = map[string]any{}
		r["stats"] = m
	}
	m[name] = v
}

// Health returns resources.health.{current,max}. Missing structure reads as
// (0, 0, false).
func (r Record) Health() (current, max float64, ok bool) {
	res, ok := r["resources"].(map[string]any)
	if !ok {
		return 0, 0, false
	}
	h, ok := res["health"].(map[string]any)
	if !ok {
		return 0, 0, false
	}
	cur, okC := toFloat(h["current"])
	mx, okM := toFloat(h["max"])
	return cur, mx, okC && okM
}

// SetHealth writes resources.health.current (and max when max > 0), creating
// intermediate maps as needed.
func (r Record) SetHealth(current, max float64) {
	res, ok := r["resources"].(map[string]any)
	if !ok {
		res = map[string]any{}
		r["resources"] = res
	}
	h, ok := res["health"].(map[string]any)
	if !ok {
		h = map[string]any{}
		res["health"] = h
	}
	h["current"] = current
	if max > 0 {
		h["max"] = max
	}
}

// Tags returns the record's tag list.
func (r Record) Tags() []string {
	raw, ok := r["tags"].([]any)
	if !ok {
		if typed, ok := r["tags"].([]string); ok {
			return append([]string(nil), typed...)
		}
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// HasTag reports whether the record carries the tag.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag once.
func (r Record) AddTag(tag string) {
	if r.HasTag(tag) {
		return
	}
	switch cur := r["tags"].(type) {
	case []any:
		r["tags"] = append(cur, tag)
	case []string:
		r["tags"] = append(cur, tag)
	default:
		r["tags"] = []any{tag}
	}
}

// InventoryCount returns the count of the named item, 0 when absent.
func (r Record) InventoryCount(item string) int {
	for _, entry := range r.inventory() {
		if s, _ := entry["name"].(string); s == item {
			return toInt(entry["count"])
		}
	}
	return 0
}

// AdjustInventory adds delta to the named item's count, creating the entry on
// first mention and deleting it when the count drops to zero or below.
// Returns the resulting count (0 when deleted).
func (r Record) AdjustInventory(item string, delta int) int {
	inv := r.inventory()
	for i, entry := range inv {
		if s, _ := entry["name"].(string); s != item {
			continue
		}
		n := toInt(entry["count"]) + delta
		if n <= 0 {
			r["inventory"] = append(inv[:i:i], inv[i+1:]...)
			return 0
		}
		entry["count"] = n
		return n
	}
	if delta <= 0 {
		return 0
	}
	r["inventory"] = append(inv, map[string]any{"name": item, "count": delta})
	return delta
}

// HasItem reports whether the named item is present with a positive count.
func (r Record) HasItem(item string) bool { return r.InventoryCount(item) > 0 }

// InventoryItem is one carried stack.
type InventoryItem struct {
	Name  string
	Count int
}

// Inventory lists the carried stacks in record order.
func (r Record) Inventory() []InventoryItem {
	inv := r.inventory()
	out := make([]InventoryItem, 0, len(inv))
	for _, entry := range inv {
		name, _ := entry["name"].(string)
		out = append(out, InventoryItem{Name: name, Count: toInt(entry["count"])})
	}
	return out
}

func (r Record) inventory() []map[string]any {
	raw, ok := r["inventory"].([]any)
	if ok {
		out := make([]map[string]any, 0, len(raw))
		for _, v := range raw {
			if m, ok := v.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	if typed, ok := r["inventory"].([]map[string]any); ok {
		return typed
	}
	return nil
}

// BodySlot returns the item in the named body slot ("" when empty).
func (r Record) BodySlot(slot string) string {
	m, ok := r["body_slots"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[slot].(string)
	return s
}

// Facing returns the persisted facing in compass degrees (0 when unset).
func (r Record) Facing() float64 {
	f, _ := toFloat(r["facing"])
	return f
}

// SetFacing persists a compass facing.
func (r Record) SetFacing(deg float64) { r["facing"] = deg }

// Persona returns the free-text voice description used for NPC dialogue
// ("" when the record carries none).
func (r Record) Persona() string { return r.str("persona") }

// Vision returns the record's vision cone: the "vision" key names a preset
// ("guard", "scout", …); absent or unknown values fall back to humanoid.
func (r Record) Vision() VisionCone {
	name, _ := r["vision"].(string)
	return ConePreset(name)
}

// Personality exposes the NPC disposition block used by witness scoring.
func (r Record) Personality() Personality {
	m, _ := r["personality"].(map[string]any)
	return Personality{m: m}
}

// Personality wraps the "personality" map of an NPC record. All getters are
// zero-safe on a missing block.
type Personality struct {
	m map[string]any
}

// Curiosity is the NPC's base curiosity (0–20 typical).
func (p Personality) Curiosity() float64 { f, _ := toFloat(p.m["curiosity"]); return f }

// Profession returns the declared profession ("shopkeeper", "guard", …).
func (p Personality) Profession() string { s, _ := p.m["profession"].(string); return s }

// ShopPlaceID returns the place a shopkeeper considers their shop.
func (p Personality) ShopPlaceID() string { s, _ := p.m["shop_place_id"].(string); return s }

// GossipTendency reports whether the NPC pursues gossip.
func (p Personality) GossipTendency() bool { b, _ := p.m["gossip_tendency"].(bool); return b }

// Suspiciousness reports whether the NPC distrusts whispering.
func (p Personality) Suspiciousness() bool { b, _ := p.m["suspiciousness"].(bool); return b }

// Keywords lists content words this NPC pays attention to.
func (p Personality) Keywords() []string {
	raw, ok := p.m["keywords"].([]any)
	if !ok {
		if typed, ok := p.m["keywords"].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Fondness returns the relationship score toward the named entity ref
// (negative = dislike).
func (p Personality) Fondness(ref string) float64 {
	rel, ok := p.m["relationships"].(map[string]any)
	if !ok {
		return 0
	}
	f, _ := toFloat(rel[ref])
	return f
}

// Clone deep-copies the record so callers can mutate freely.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneMap(map[string]any(r)))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}
		return out
	default:
		return v
	}
}

// ── Numeric coercion ─────────────────────────────────────────────────────────

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) int {
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}
