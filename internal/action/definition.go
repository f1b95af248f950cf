package action

import "github.com/openweald/weald/internal/world"

// Perceptibility describes how far and through which broad channels a verb
// is noticeable at all. The fine-grained footprint comes from the verb's
// sense profiles; Radius is the outer bound used to enumerate candidate
// observers.
type Perceptibility struct {
	// Radius is the candidate-observer enumeration radius in tiles.
	// Zero means the verb is unobservable.
	Radius float64

	// Visual marks the verb as carrying a visual signature.
	Visual bool

	// Auditory marks the verb as carrying an audible signature.
	Auditory bool
}

// SenseProfile is one sensory emission of a verb: which sense it excites,
// how strongly, and to what range. Subtype narrows the profile to a variant
// of the verb (movement gait, speech volume); the empty subtype is the
// verb's base emission.
type SenseProfile struct {
	Subtype    string
	Sense      world.Sense
	Intensity  float64
	RangeTiles float64
}

// Broadcast converts the profile to the world-level broadcast value.
func (p SenseProfile) Broadcast() world.SenseBroadcast {
	return world.SenseBroadcast{Sense: p.Sense, Intensity: p.Intensity, RangeTiles: p.RangeTiles}
}

// Definition is one immutable row of the verb catalog.
type Definition struct {
	Verb     Verb
	Category Category

	// DefaultCost is the action-point cost charged during timed events.
	DefaultCost int

	// MaxRangeTiles bounds target distance within a place. Zero means the
	// verb takes no ranged target (self-directed or untargeted).
	MaxRangeTiles float64

	// RequiresTarget forces target resolution before adjudication.
	RequiresTarget bool

	// CrossPlace permits targets reachable through a place connection
	// rather than co-located (TRAVEL).
	CrossPlace bool

	Perceptibility Perceptibility
	SenseProfiles  []SenseProfile

	// Proficiencies are the skill tags the adjudicator may test.
	Proficiencies []string

	// ValidTargets are the reference kinds the verb accepts.
	ValidTargets []world.RefKind

	// Base reaction scores before proximity and clarity adjustment,
	// each on the 0–100 scale.
	BaseThreat   float64
	BaseInterest float64
	BaseUrgency  float64
}

// ProfilesFor returns the sense profiles matching subtype. When the subtype
// has no dedicated profiles the base (empty-subtype) profiles apply, so a
// novel variant still emits something.
func (d Definition) ProfilesFor(subtype string) []SenseProfile {
	var matched, base []SenseProfile
	for _, p := range d.SenseProfiles {
		switch p.Subtype {
		case subtype:
			matched = append(matched, p)
		case "":
			base = append(base, p)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return base
}

// MaxRadius is the observer-enumeration radius for one emission of the
// verb: the widest sense range of the chosen profiles, floored by the
// catalog perceptibility radius.
func (d Definition) MaxRadius(subtype string) float64 {
	r := d.Perceptibility.Radius
	for _, p := range d.ProfilesFor(subtype) {
		if p.RangeTiles > r {
			r = p.RangeTiles
		}
	}
	return r
}

// AcceptsTarget reports whether kind is a legal target kind for the verb.
func (d Definition) AcceptsTarget(kind world.RefKind) bool {
	for _, k := range d.ValidTargets {
		if k == kind {
			return true
		}
	}
	return false
}

// catalog is the builtin verb table. Ranges and radii are in tiles,
// intensities and reaction scores on the 0–100 scale.
var catalog = []Definition{
	{
		Verb: VerbAttack, Category: CategoryCombat, DefaultCost: 3,
		MaxRangeTiles: 1, RequiresTarget: true,
		Perceptibility: Perceptibility{Radius: 8, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 80, RangeTiles: 8},
			{Sense: world.SensePressure, Intensity: 70, RangeTiles: 6},
		},
		Proficiencies: []string{"melee"},
		ValidTargets:  []world.RefKind{world.KindNPC, world.KindActor},
		BaseThreat:    80, BaseInterest: 60, BaseUrgency: 70,
	},
	{
		Verb: VerbDefend, Category: CategoryCombat, DefaultCost: 2,
		MaxRangeTiles: 2,
		Perceptibility: Perceptibility{Radius: 6, Visual: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 60, RangeTiles: 6},
		},
		Proficiencies: []string{"melee"},
		ValidTargets:  []world.RefKind{world.KindNPC, world.KindActor},
		BaseThreat:    30, BaseInterest: 30, BaseUrgency: 30,
	},
	{
		Verb: VerbMove, Category: CategoryMovement, DefaultCost: 1,
		Perceptibility: Perceptibility{Radius: 10, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Subtype: SubtypeWalk, Sense: world.SenseLight, Intensity: 60, RangeTiles: 10},
			{Subtype: SubtypeWalk, Sense: world.SensePressure, Intensity: 40, RangeTiles: 6},
			{Subtype: SubtypeSneak, Sense: world.SenseLight, Intensity: 30, RangeTiles: 6},
			{Subtype: SubtypeSneak, Sense: world.SensePressure, Intensity: 10, RangeTiles: 2},
			{Subtype: SubtypeSprint, Sense: world.SenseLight, Intensity: 80, RangeTiles: 14},
			{Subtype: SubtypeSprint, Sense: world.SensePressure, Intensity: 70, RangeTiles: 10},
		},
		ValidTargets: []world.RefKind{world.KindFeature, world.KindPlace},
		BaseThreat:   10, BaseInterest: 20, BaseUrgency: 10,
	},
	{
		Verb: VerbTravel, Category: CategoryMovement, DefaultCost: 2,
		RequiresTarget: true, CrossPlace: true,
		Perceptibility: Perceptibility{Radius: 8, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 60, RangeTiles: 8},
			{Sense: world.SensePressure, Intensity: 50, RangeTiles: 6},
		},
		ValidTargets: []world.RefKind{world.KindPlace},
		BaseThreat:   5, BaseInterest: 25, BaseUrgency: 10,
	},
	{
		Verb: VerbCommunicate, Category: CategorySocial, DefaultCost: 1,
		MaxRangeTiles: 20,
		Perceptibility: Perceptibility{Radius: 10, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Subtype: SubtypeWhisper, Sense: world.SensePressure, Intensity: 30, RangeTiles: 3},
			{Subtype: SubtypeTalk, Sense: world.SensePressure, Intensity: 60, RangeTiles: 10},
			{Subtype: SubtypeTalk, Sense: world.SenseLight, Intensity: 40, RangeTiles: 8},
			{Subtype: SubtypeShout, Sense: world.SensePressure, Intensity: 90, RangeTiles: 20},
			{Subtype: SubtypeShout, Sense: world.SenseLight, Intensity: 40, RangeTiles: 8},
		},
		ValidTargets: []world.RefKind{world.KindNPC, world.KindActor},
		BaseThreat:   5, BaseInterest: 50, BaseUrgency: 20,
	},
	{
		Verb: VerbUse, Category: CategoryInteraction, DefaultCost: 2,
		MaxRangeTiles: 1, RequiresTarget: true,
		Perceptibility: Perceptibility{Radius: 5, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 50, RangeTiles: 5},
			{Sense: world.SensePressure, Intensity: 30, RangeTiles: 4},
		},
		ValidTargets: []world.RefKind{world.KindItem, world.KindFeature},
		BaseThreat:   10, BaseInterest: 30, BaseUrgency: 10,
	},
	{
		Verb: VerbExamine, Category: CategoryInteraction, DefaultCost: 1,
		MaxRangeTiles: 8, RequiresTarget: true,
		Perceptibility: Perceptibility{Radius: 3, Visual: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 30, RangeTiles: 3},
		},
		Proficiencies: []string{"perception"},
		ValidTargets:  []world.RefKind{world.KindNPC, world.KindActor, world.KindItem, world.KindFeature},
		BaseThreat:    0, BaseInterest: 10, BaseUrgency: 0,
	},
	{
		Verb: VerbTake, Category: CategoryInteraction, DefaultCost: 1,
		MaxRangeTiles: 1, RequiresTarget: true,
		Perceptibility: Perceptibility{Radius: 4, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 50, RangeTiles: 4},
			{Sense: world.SensePressure, Intensity: 20, RangeTiles: 2},
		},
		ValidTargets: []world.RefKind{world.KindItem, world.KindFeature},
		BaseThreat:   15, BaseInterest: 35, BaseUrgency: 10,
	},
	{
		Verb: VerbDrop, Category: CategoryInteraction, DefaultCost: 1,
		Perceptibility: Perceptibility{Radius: 4, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 40, RangeTiles: 4},
			{Sense: world.SensePressure, Intensity: 25, RangeTiles: 3},
		},
		ValidTargets: []world.RefKind{world.KindItem},
		BaseThreat:   0, BaseInterest: 15, BaseUrgency: 0,
	},
	{
		Verb: VerbGive, Category: CategorySocial, DefaultCost: 1,
		MaxRangeTiles: 1, RequiresTarget: true,
		Perceptibility: Perceptibility{Radius: 4, Visual: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 45, RangeTiles: 4},
		},
		ValidTargets: []world.RefKind{world.KindNPC, world.KindActor},
		BaseThreat:   0, BaseInterest: 30, BaseUrgency: 5,
	},
	{
		Verb: VerbEquip, Category: CategoryInteraction, DefaultCost: 1,
		Perceptibility: Perceptibility{Radius: 3, Visual: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 40, RangeTiles: 3},
		},
		ValidTargets: []world.RefKind{world.KindItem},
		BaseThreat:   20, BaseInterest: 25, BaseUrgency: 10,
	},
	{
		Verb: VerbCast, Category: CategoryCombat, DefaultCost: 4,
		MaxRangeTiles: 10, RequiresTarget: true,
		Perceptibility: Perceptibility{Radius: 12, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseThaumic, Intensity: 90, RangeTiles: 12},
			{Sense: world.SenseLight, Intensity: 70, RangeTiles: 10},
			{Sense: world.SensePressure, Intensity: 50, RangeTiles: 8},
		},
		Proficiencies: []string{"arcana"},
		ValidTargets:  []world.RefKind{world.KindNPC, world.KindActor, world.KindItem, world.KindFeature},
		BaseThreat:    70, BaseInterest: 70, BaseUrgency: 60,
	},
	{
		Verb: VerbHide, Category: CategoryStealth, DefaultCost: 2,
		Perceptibility: Perceptibility{Radius: 2, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SensePressure, Intensity: 10, RangeTiles: 2},
		},
		Proficiencies: []string{"stealth"},
		BaseThreat:    20, BaseInterest: 40, BaseUrgency: 10,
	},
	{
		Verb: VerbSearch, Category: CategoryInteraction, DefaultCost: 2,
		Perceptibility: Perceptibility{Radius: 4, Visual: true, Auditory: true},
		SenseProfiles: []SenseProfile{
			{Sense: world.SenseLight, Intensity: 40, RangeTiles: 4},
			{Sense: world.SensePressure, Intensity: 30, RangeTiles: 3},
		},
		Proficiencies: []string{"perception"},
		BaseThreat:    10, BaseInterest: 30, BaseUrgency: 5,
	},
	{
		Verb: VerbWait, Category: CategoryPassive, DefaultCost: 0,
		// Unobservable: waiting emits nothing.
	},
}
