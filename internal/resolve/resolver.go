// Package resolve turns the target wording of an intent into a concrete
// entity reference. It handles four addressing forms: explicit references
// ("npc.grenda"), name mentions matched case-insensitively and then
// phonetically, implied targets ("the guard" when exactly one guard is in
// scope), and self-reference. Resolution also enforces the verb's target-kind
// and range rules, so a resolved target is always a legal one.
package resolve

import (
	"context"
	"strings"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// TagHidden marks an entity as concealed; hidden entities resolve only by
// explicit reference and then fail the visibility check.
const TagHidden = "hidden"

// Resolution is a successfully resolved target.
type Resolution struct {
	TargetRef      world.Ref
	TargetType     world.RefKind
	TargetLocation world.Location
}

// Resolver resolves intent targets against one slot of the store.
type Resolver struct {
	store    store.Store
	index    *store.PlaceIndex
	registry *action.Registry
	matcher  *Matcher
	slot     int
}

// NewResolver builds a resolver over the given slot.
func NewResolver(s store.Store, ix *store.PlaceIndex, reg *action.Registry, slot int) *Resolver {
	return &Resolver{
		store:    s,
		index:    ix,
		registry: reg,
		matcher:  NewMatcher(),
		slot:     slot,
	}
}

// candidate is one entity the mention matcher may pick.
type candidate struct {
	ref  world.Ref
	name string
	loc  world.Location
	rec  world.Record // nil for features, items and places
}

// Resolve finds the target of in, or fails with an ambiguous, not_found,
// out_of_range or not_visible fault. Verbs without a target resolve to the
// zero Resolution.
func (r *Resolver) Resolve(ctx context.Context, in *action.Intent) (Resolution, error) {
	const op = "resolve: target"

	def, ok := r.registry.Lookup(in.Verb)
	if !ok {
		return Resolution{}, fault.Newf(fault.NotFound, op, "unknown verb %q", in.Verb)
	}

	wording := r.wording(in)
	if wording == "" && in.TargetRef.IsZero() {
		if def.RequiresTarget {
			return Resolution{}, fault.Newf(fault.NotFound, op, "%s requires a target", in.Verb)
		}
		return Resolution{}, nil
	}

	res, err := r.locate(ctx, in, def, wording)
	if err != nil {
		return Resolution{}, err
	}
	return r.validate(ctx, in, def, res)
}

// wording extracts the textual target from the intent parameters.
func (r *Resolver) wording(in *action.Intent) string {
	for _, key := range []string{"target", "mention"} {
		if s := strings.TrimSpace(in.StringParam(key)); s != "" {
			return s
		}
	}
	return ""
}

// locate picks the target entity without validating it.
func (r *Resolver) locate(ctx context.Context, in *action.Intent, def action.Definition, wording string) (Resolution, error) {
	// Pre-resolved reference on the intent wins outright.
	if !in.TargetRef.IsZero() {
		return r.explicit(ctx, in, def, in.TargetRef)
	}

	if isSelfMention(wording) {
		return Resolution{
			TargetRef:      in.ActorRef,
			TargetType:     in.ActorRef.Kind,
			TargetLocation: in.ActorLocation,
		}, nil
	}

	if ref, err := world.ParseRef(wording); err == nil {
		return r.explicit(ctx, in, def, ref)
	}
	return r.mention(ctx, in, def, wording)
}

// explicit resolves a "<kind>.<id>" reference.
func (r *Resolver) explicit(ctx context.Context, in *action.Intent, def action.Definition, ref world.Ref) (Resolution, error) {
	const op = "resolve: explicit ref"

	if ref == in.ActorRef {
		return Resolution{TargetRef: ref, TargetType: ref.Kind, TargetLocation: in.ActorLocation}, nil
	}

	switch ref.Kind {
	case world.KindNPC, world.KindActor:
		rec, err := store.LoadEntity(ctx, r.store, r.slot, ref)
		if err != nil {
			if fault.Is(err, fault.NotFound) {
				return Resolution{}, fault.Newf(fault.NotFound, op, "no entity %s", ref)
			}
			return Resolution{}, err
		}
		loc, _ := rec.Location()
		if rec.HasTag(TagHidden) {
			return Resolution{}, fault.Newf(fault.NotVisible, op, "%s is hidden", ref)
		}
		return Resolution{TargetRef: ref, TargetType: ref.Kind, TargetLocation: loc}, nil

	case world.KindItem:
		// Items live in the acting entity's inventory; there is no global
		// item table.
		actor, err := store.LoadEntity(ctx, r.store, r.slot, in.ActorRef)
		if err != nil {
			return Resolution{}, err
		}
		if !actor.HasItem(ref.ID) {
			return Resolution{}, fault.Newf(fault.NotFound, op, "no item %q held by %s", ref.ID, in.ActorRef)
		}
		return Resolution{TargetRef: ref, TargetType: ref.Kind, TargetLocation: in.ActorLocation}, nil

	case world.KindFeature:
		place, err := r.loadPlace(ctx, in.ActorLocation.PlaceID)
		if err != nil {
			return Resolution{}, err
		}
		for _, f := range place.Contents.Features {
			if f.ID == ref.ID {
				return Resolution{
					TargetRef:      ref,
					TargetType:     ref.Kind,
					TargetLocation: r.tileLocation(in.ActorLocation, f.Tile),
				}, nil
			}
		}
		return Resolution{}, fault.Newf(fault.NotFound, op, "no feature %q in %s", ref.ID, in.ActorLocation.PlaceID)

	case world.KindPlace:
		place, err := r.loadPlace(ctx, ref.ID)
		if err != nil {
			if fault.Is(err, fault.NotFound) {
				return Resolution{}, fault.Newf(fault.NotFound, op, "no place %q", ref.ID)
			}
			return Resolution{}, err
		}
		return Resolution{
			TargetRef:      ref,
			TargetType:     ref.Kind,
			TargetLocation: r.placeEntry(in.ActorLocation, place),
		}, nil
	}
	return Resolution{}, fault.Newf(fault.NotFound, op, "cannot resolve %q references", ref.Kind)
}

// mention resolves free-text wording against everything in scope: the place
// population, its features, the actor's inventory, and (for cross-place
// verbs) connected places. Exact name matches win; a unique implied match on
// profession or tag comes next; the phonetic matcher is the last resort.
func (r *Resolver) mention(ctx context.Context, in *action.Intent, def action.Definition, wording string) (Resolution, error) {
	const op = "resolve: name mention"

	cands, err := r.scope(ctx, in, def)
	if err != nil {
		return Resolution{}, err
	}
	stripped := stripArticle(wording)

	var exact []candidate
	for _, c := range cands {
		if strings.EqualFold(c.name, wording) || strings.EqualFold(c.name, stripped) {
			exact = append(exact, c)
		}
	}
	switch len(exact) {
	case 1:
		return asResolution(exact[0]), nil
	default:
		if len(exact) > 1 {
			return Resolution{}, fault.Newf(fault.Ambiguous, op, "%d entities named %q", len(exact), wording)
		}
	}

	// Implied target: "the guard" matches profession or tag, but only when
	// exactly one candidate qualifies.
	var implied []candidate
	for _, c := range cands {
		if c.rec == nil {
			continue
		}
		if strings.EqualFold(c.rec.Personality().Profession(), stripped) || c.rec.HasTag(strings.ToLower(stripped)) {
			implied = append(implied, c)
		}
	}
	switch len(implied) {
	case 1:
		return asResolution(implied[0]), nil
	default:
		if len(implied) > 1 {
			return Resolution{}, fault.Newf(fault.Ambiguous, op, "%d entities match %q", len(implied), wording)
		}
	}

	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.name
	}
	best, _, matched := r.matcher.Match(stripped, names)
	if !matched {
		return Resolution{}, fault.Newf(fault.NotFound, op, "nothing matches %q", wording)
	}
	for _, c := range cands {
		if c.name == best {
			return asResolution(c), nil
		}
	}
	return Resolution{}, fault.Newf(fault.NotFound, op, "nothing matches %q", wording)
}

// scope gathers the candidates a mention may refer to. Hidden entities are
// excluded so they cannot be discovered by guessing names.
func (r *Resolver) scope(ctx context.Context, in *action.Intent, def action.Definition) ([]candidate, error) {
	var cands []candidate

	placeID := in.ActorLocation.PlaceID
	entry, err := r.index.Entry(ctx, placeID)
	if err != nil {
		return nil, err
	}
	for _, s := range append(append([]string(nil), entry.NPCs...), entry.Actors...) {
		ref, err := world.ParseRef(s)
		if err != nil || ref == in.ActorRef {
			continue
		}
		rec, err := store.LoadEntity(ctx, r.store, r.slot, ref)
		if err != nil {
			// Index entries may outlive their records briefly; skip drift.
			if fault.Is(err, fault.NotFound) {
				continue
			}
			return nil, err
		}
		if rec.HasTag(TagHidden) {
			continue
		}
		loc, _ := rec.Location()
		cands = append(cands, candidate{ref: ref, name: rec.Name(), loc: loc, rec: rec})
	}

	place, err := r.loadPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	for _, f := range place.Contents.Features {
		cands = append(cands, candidate{
			ref:  world.MakeRef(world.KindFeature, f.ID),
			name: f.Name,
			loc:  r.tileLocation(in.ActorLocation, f.Tile),
		})
	}

	actor, err := store.LoadEntity(ctx, r.store, r.slot, in.ActorRef)
	if err == nil {
		for _, item := range inventoryNames(actor) {
			cands = append(cands, candidate{
				ref:  world.MakeRef(world.KindItem, item),
				name: item,
				loc:  in.ActorLocation,
			})
		}
	}

	if def.CrossPlace {
		for _, conn := range place.Connections {
			dest, err := r.loadPlace(ctx, conn.TargetPlaceID)
			if err != nil {
				if fault.Is(err, fault.NotFound) {
					continue
				}
				return nil, err
			}
			cands = append(cands, candidate{
				ref:  world.MakeRef(world.KindPlace, dest.ID),
				name: dest.Name,
				loc:  r.placeEntry(in.ActorLocation, dest),
			})
		}
	}
	return cands, nil
}

// validate enforces the verb's target-kind and range rules on a located
// target.
func (r *Resolver) validate(ctx context.Context, in *action.Intent, def action.Definition, res Resolution) (Resolution, error) {
	const op = "resolve: validate"

	if !def.AcceptsTarget(res.TargetType) {
		return Resolution{}, fault.Newf(fault.NotFound, op, "%s cannot target %q", in.Verb, res.TargetType)
	}

	if def.CrossPlace {
		if res.TargetLocation.SamePlace(in.ActorLocation) {
			return res, nil
		}
		place, err := r.loadPlace(ctx, in.ActorLocation.PlaceID)
		if err != nil {
			return Resolution{}, err
		}
		if _, ok := place.ConnectionTo(res.TargetLocation.PlaceID); !ok {
			return Resolution{}, fault.Newf(fault.OutOfRange, op, "%s is not connected to %s",
				in.ActorLocation.PlaceID, res.TargetLocation.PlaceID)
		}
		return res, nil
	}

	if res.TargetRef == in.ActorRef || def.MaxRangeTiles <= 0 {
		return res, nil
	}
	d := in.ActorLocation.DistanceTo(res.TargetLocation)
	if d > def.MaxRangeTiles {
		return Resolution{}, fault.Newf(fault.OutOfRange, op, "%s is %.1f tiles away, max %.1f for %s",
			res.TargetRef, d, def.MaxRangeTiles, in.Verb)
	}
	return res, nil
}

func (r *Resolver) loadPlace(ctx context.Context, placeID string) (world.Place, error) {
	rec, err := r.store.Load(ctx, r.slot, store.KindPlace, placeID)
	if err != nil {
		return world.Place{}, err
	}
	return world.PlaceFromRecord(rec)
}

// tileLocation places a tile within the actor's current place coordinates.
func (r *Resolver) tileLocation(base world.Location, t world.Tile) world.Location {
	base.X, base.Y = t.X, t.Y
	base.Elevation = 0
	return base
}

// placeEntry is the arrival location for a place target: the reciprocal-edge
// door when connected, the default entry otherwise.
func (r *Resolver) placeEntry(from world.Location, dest world.Place) world.Location {
	entry := dest.Grid.DefaultEntry
	if conn, ok := dest.ConnectionTo(from.PlaceID); ok {
		entry = dest.Grid.EdgeTile(conn.Direction)
	}
	return world.Location{
		WorldX:  from.WorldX,
		WorldY:  from.WorldY,
		RegionX: from.RegionX,
		RegionY: from.RegionY,
		PlaceID: dest.ID,
		X:       entry.X,
		Y:       entry.Y,
	}
}

func asResolution(c candidate) Resolution {
	return Resolution{TargetRef: c.ref, TargetType: c.ref.Kind, TargetLocation: c.loc}
}

func isSelfMention(s string) bool {
	switch strings.ToLower(s) {
	case "self", "me", "myself":
		return true
	}
	return false
}

func stripArticle(s string) string {
	lower := strings.ToLower(s)
	for _, art := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, art) {
			return strings.TrimSpace(s[len(art):])
		}
	}
	return s
}

func inventoryNames(rec world.Record) []string {
	raw, ok := rec["inventory"].([]any)
	if !ok {
		if typed, ok := rec["inventory"].([]map[string]any); ok {
			out := make([]string, 0, len(typed))
			for _, m := range typed {
				if s, _ := m["name"].(string); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := m["name"].(string); s != "" {
			out = append(out, s)
		}
	}
	return out
}
