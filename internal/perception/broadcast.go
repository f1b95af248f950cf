package perception

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// Emission is one observable moment of an action, broadcast at its start and
// again at its completion.
type Emission struct {
	Actor         world.Ref
	ActorLocation world.Location
	Verb          action.Verb
	Subtype       string
	Target        world.Ref
	Type          string // one of the Type* constants
	// TargetType, when set, replaces Type on the event delivered to the
	// emission's own target. Damage broadcasts use it to type the target's
	// impression damage_received while bystanders record damage_dealt.
	TargetType string
	Summary    string
}

// Broadcaster fans emissions out to every entity that could have noticed
// them and records the resulting events in observer memory.
type Broadcaster struct {
	store    store.Store
	index    *store.PlaceIndex
	registry *action.Registry
	memory   *Memory
	slot     int
	log      *slog.Logger
	now      func() time.Time
}

// NewBroadcaster wires a broadcaster over one slot.
func NewBroadcaster(s store.Store, ix *store.PlaceIndex, reg *action.Registry, mem *Memory, slot int, log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		store:    s,
		index:    ix,
		registry: reg,
		memory:   mem,
		slot:     slot,
		log:      log,
		now:      time.Now,
	}
}

// Memory exposes the observer memory the broadcaster writes into.
func (b *Broadcaster) Memory() *Memory { return b.memory }

// Broadcast delivers em to every observer that perceives it and returns the
// generated events. Unobservable verbs deliver nothing. An observer whose
// record cannot be read is skipped, not fatal: perception is best-effort by
// design of the witness layer above it.
func (b *Broadcaster) Broadcast(ctx context.Context, em Emission) ([]Event, error) {
	def, ok := b.registry.Lookup(em.Verb)
	if !ok || !b.registry.IsObservable(em.Verb) {
		return nil, nil
	}
	profiles := def.ProfilesFor(em.Subtype)
	radius := def.MaxRadius(em.Subtype)
	if radius <= 0 || len(profiles) == 0 {
		return nil, nil
	}

	entry, err := b.index.Entry(ctx, em.ActorLocation.PlaceID)
	if err != nil {
		return nil, fmt.Errorf("perception: broadcast: %w", err)
	}
	source := em.ActorLocation.Tile()

	var delivered []Event
	for _, refStr := range append(append([]string(nil), entry.NPCs...), entry.Actors...) {
		ref, err := world.ParseRef(refStr)
		if err != nil || ref == em.Actor {
			continue
		}
		obs, dist, ok := b.observerFor(ctx, ref, em.ActorLocation)
		if !ok || dist > radius {
			continue
		}
		imp, perceived := Perceive(profiles, obs, source)
		if !perceived {
			continue
		}

		ratio := 0.0
		if radius > 0 {
			ratio = imp.Distance / radius
		}
		threat, interest, urgency := Score(def.BaseThreat, def.BaseInterest, def.BaseUrgency,
			imp.Distance, ratio, imp.Clarity)

		typ := em.Type
		if em.TargetType != "" && ref == em.Target {
			typ = em.TargetType
		}
		ev := Event{
			ID:       uuid.NewString(),
			Observer: ref,
			Actor:    em.Actor,
			Target:   em.Target,
			Verb:     em.Verb,
			Subtype:  em.Subtype,
			Type:     typ,
			Sense:    imp.Sense,
			Clarity:  imp.Clarity,
			Distance: imp.Distance,
			Threat:   threat,
			Interest: interest,
			Urgency:  urgency,
			Summary:  summarize(em, imp.Clarity),
			At:       b.now(),
		}
		b.memory.Add(ref, ev)
		delivered = append(delivered, ev)
	}

	b.log.Debug("perception broadcast",
		"verb", string(em.Verb),
		"type", em.Type,
		"place", em.ActorLocation.PlaceID,
		"observers", len(delivered))
	return delivered, nil
}

// observerFor loads an observer's sensory stance. Missing records read as
// absent observers (index drift), other storage failures too, logged.
func (b *Broadcaster) observerFor(ctx context.Context, ref world.Ref, actorLoc world.Location) (Observer, float64, bool) {
	rec, err := store.LoadEntity(ctx, b.store, b.slot, ref)
	if err != nil {
		if !fault.Is(err, fault.NotFound) {
			b.log.Warn("perception: observer unreadable", "ref", ref.String(), "error", err)
		}
		return Observer{}, 0, false
	}
	loc, ok := rec.Location()
	if !ok || !loc.SamePlace(actorLoc) {
		return Observer{}, 0, false
	}
	obs := Observer{
		Ref:    ref,
		Tile:   loc.Tile(),
		Facing: rec.Facing(),
		Cone:   rec.Vision(),
	}
	return obs, actorLoc.DistanceTo(loc), true
}

// summarize renders the line an observer will later recall. Obscured
// impressions don't give the actor away.
func summarize(em Emission, clarity Clarity) string {
	if em.Summary != "" && clarity == ClarityClear {
		return em.Summary
	}
	verb := strings.ToLower(string(em.Verb))
	switch clarity {
	case ClarityClear:
		if !em.Target.IsZero() {
			return fmt.Sprintf("%s %ss at %s", em.Actor, verb, em.Target)
		}
		return fmt.Sprintf("%s %ss", em.Actor, verb)
	case ClarityVague:
		return fmt.Sprintf("%s does something", em.Actor)
	case ClaritySensed:
		return fmt.Sprintf("something %s-like happens nearby", verb)
	default:
		return "something happens nearby"
	}
}
