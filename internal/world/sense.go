package world

// Sense is one of the four canonical perception channels.
type Sense string

const (
	// SenseLight is vision: directional, gated by the observer's cone.
	SenseLight Sense = "light"

	// SensePressure is sound and touch: omnidirectional, capped at 0.6 of
	// the observer's vision range.
	SensePressure Sense = "pressure"

	// SenseAroma is smell: short range, omnidirectional.
	SenseAroma Sense = "aroma"

	// SenseThaumic is magical emanation: omnidirectional, penetrates walls.
	SenseThaumic Sense = "thaumic"
)

// IsValid reports whether s is a recognised sense.
func (s Sense) IsValid() bool {
	switch s {
	case SenseLight, SensePressure, SenseAroma, SenseThaumic:
		return true
	}
	return false
}

// SenseOrder is the stable tie-break order used when two senses perceive an
// event at equal intensity and range.
var SenseOrder = []Sense{SenseLight, SensePressure, SenseAroma, SenseThaumic}

// SenseBroadcast is one channel of an action's emission: how strongly and how
// far the action registers on a given sense.
type SenseBroadcast struct {
	Sense      Sense   `json:"sense" yaml:"sense"`
	Intensity  float64 `json:"intensity" yaml:"intensity"`
	RangeTiles float64 `json:"range_tiles" yaml:"range_tiles"`
}

// VisionCone describes an entity's field of view.
type VisionCone struct {
	// AngleDegrees is the full cone width; the gate passes targets within
	// ±AngleDegrees/2 of the facing bearing.
	AngleDegrees float64 `json:"angle_degrees" yaml:"angle_degrees"`

	// RangeTiles is the sight distance. Hearing derives from it
	// (0.6 × RangeTiles).
	RangeTiles float64 `json:"range_tiles" yaml:"range_tiles"`
}

// Vision cone presets by archetype.
var (
	ConeHumanoid = VisionCone{AngleDegrees: 120, RangeTiles: 12}
	ConeGuard    = VisionCone{AngleDegrees: 140, RangeTiles: 15}
	ConeAnimal   = VisionCone{AngleDegrees: 180, RangeTiles: 10}
	ConeScout    = VisionCone{AngleDegrees: 90, RangeTiles: 20}
	ConeBlind    = VisionCone{AngleDegrees: 0, RangeTiles: 0}
)

// conePresets maps preset names (as stored on entity records) to cones.
var conePresets = map[string]VisionCone{
	"humanoid": ConeHumanoid,
	"guard":    ConeGuard,
	"animal":   ConeAnimal,
	"scout":    ConeScout,
	"blind":    ConeBlind,
}

// ConePreset looks up a preset by name. Unknown names get the humanoid cone.
func ConePreset(name string) VisionCone {
	if c, ok := conePresets[name]; ok {
		return c
	}
	return ConeHumanoid
}

// HearingRange returns the effective auditory radius for an entity with the
// given vision cone.
func (c VisionCone) HearingRange() float64 {
	return 0.6 * c.RangeTiles
}

// InCone reports whether a target tile passes the cone gate for an observer
// at the given tile with the given facing. The gate requires both the angular
// check and the range check; the observer's own tile always passes.
func (c VisionCone) InCone(observer Tile, facing float64, target Tile) bool {
	d := Distance(observer, target)
	if d == 0 {
		return true
	}
	if d > c.RangeTiles {
		return false
	}
	return AngularDiff(BearingTo(observer, target), facing) <= c.AngleDegrees/2
}
