package perception

import (
	"math"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/world"
)

// Observer is the sensory stance of one entity: where it is, which way it
// faces, and what its eyes and ears reach.
type Observer struct {
	Ref    world.Ref
	Tile   world.Tile
	Facing float64
	Cone   world.VisionCone
}

// Impression is the outcome of running the sense gates for one observer.
type Impression struct {
	Sense    world.Sense
	Clarity  Clarity
	Distance float64
}

// effectiveRange bounds a profile's emission range by the observer's own
// organs: sight by the vision range, hearing by 0.6 of it. Smell and thaumic
// resonance are taken as emitted.
func effectiveRange(p action.SenseProfile, obs Observer) float64 {
	switch p.Sense {
	case world.SenseLight:
		return math.Min(p.RangeTiles, obs.Cone.RangeTiles)
	case world.SensePressure:
		return math.Min(p.RangeTiles, obs.Cone.HearingRange())
	}
	return p.RangeTiles
}

// passes runs one profile's gate: range always, plus the directional cone
// check for light. Pressure, aroma and thaumic are omnidirectional; thaumic
// additionally ignores walls, which within one place means no extra gate.
func passes(p action.SenseProfile, obs Observer, source world.Tile, dist float64) bool {
	if dist > effectiveRange(p, obs) {
		return false
	}
	if p.Sense == world.SenseLight {
		return obs.Cone.InCone(obs.Tile, obs.Facing, source)
	}
	return true
}

// Perceive runs the full gate sequence for one observer against an action's
// sense profiles emitted at source. The best channel is the passing profile
// with the highest intensity; equal intensities break by the canonical sense
// order. The second return is false when nothing registered.
func Perceive(profiles []action.SenseProfile, obs Observer, source world.Tile) (Impression, bool) {
	dist := world.Distance(obs.Tile, source)

	var best *action.SenseProfile
	var hasVisual, hasOther bool
	for i := range profiles {
		p := &profiles[i]
		if !passes(*p, obs, source, dist) {
			continue
		}
		if p.Sense == world.SenseLight {
			hasVisual = true
		} else {
			hasOther = true
		}
		if best == nil || p.Intensity > best.Intensity ||
			(p.Intensity == best.Intensity && senseRank(p.Sense) < senseRank(best.Sense)) {
			best = p
		}
	}
	if best == nil {
		return Impression{}, false
	}

	ratio := 0.0
	if r := effectiveRange(*best, obs); r > 0 {
		ratio = dist / r
	}
	clarity := ClarityFor(ratio, hasVisual && !hasOther)
	if !hasVisual {
		// Heard but never seen: one step murkier.
		clarity = clarity.Downgrade()
	}
	if !clarity.Perceived() {
		return Impression{}, false
	}
	return Impression{Sense: best.Sense, Clarity: clarity, Distance: dist}, true
}

// senseRank is the index of s in the canonical tie-break order.
func senseRank(s world.Sense) int {
	for i, v := range world.SenseOrder {
		if v == s {
			return i
		}
	}
	return len(world.SenseOrder)
}
