package action

import (
	"time"

	"github.com/google/uuid"

	"github.com/openweald/weald/internal/world"
)

// IntentStatus is the lifecycle state of an intent. Unlike envelope statuses
// these never appear on the wire; they drive pipeline control flow only.
type IntentStatus string

const (
	IntentPending      IntentStatus = "pending"
	IntentValidated    IntentStatus = "validated"
	IntentResolving    IntentStatus = "resolving"
	IntentAdjudicating IntentStatus = "adjudicating"
	IntentApplied      IntentStatus = "applied"
	IntentPerceived    IntentStatus = "perceived"
	IntentCompleted    IntentStatus = "completed"
	IntentFailed       IntentStatus = "failed"
)

// Source names the authority that authored an intent.
type Source string

const (
	SourcePlayer   Source = "player"
	SourceNPC      Source = "npc"
	SourceReaction Source = "reaction"
)

// ActorType distinguishes the two acting populations at interface
// boundaries.
type ActorType string

const (
	ActorPlayer ActorType = "player"
	ActorNPC    ActorType = "npc"
)

// ActorTypeOf derives the actor type from a reference kind.
func ActorTypeOf(ref world.Ref) ActorType {
	if ref.Kind == world.KindNPC {
		return ActorNPC
	}
	return ActorPlayer
}

// Intent is one actor's attempt at a verb. Everything except Status, Stage
// and FailReason is fixed at creation; the three mutable fields change only
// through [Intent.SetStage], [Intent.SetStatus] and [Intent.MarkFailed].
type Intent struct {
	ID            string
	ActorRef      world.Ref
	ActorType     ActorType
	Verb          Verb
	Parameters    map[string]any
	TargetRef     world.Ref // zero when unresolved or untargeted
	ActorLocation world.Location
	Status        IntentStatus
	Stage         string
	Source        Source
	FailReason    string
	CreatedAt     time.Time
}

// NewIntent creates a pending intent with a fresh id, copying parameters so
// later caller mutation cannot reach the pipeline.
func NewIntent(actor world.Ref, verb Verb, params map[string]any, source Source, loc world.Location) *Intent {
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return &Intent{
		ID:            uuid.NewString(),
		ActorRef:      actor,
		ActorType:     ActorTypeOf(actor),
		Verb:          verb,
		Parameters:    copied,
		ActorLocation: loc,
		Status:        IntentPending,
		Stage:         "created",
		Source:        source,
		CreatedAt:     time.Now(),
	}
}

// SetStage records the pipeline stage the intent is passing through.
func (in *Intent) SetStage(stage string) { in.Stage = stage }

// SetStatus advances the lifecycle state.
func (in *Intent) SetStatus(s IntentStatus) { in.Status = s }

// MarkFailed terminates the intent with a reason. Later failures do not
// overwrite the first recorded reason.
func (in *Intent) MarkFailed(reason string) {
	if in.Status == IntentFailed {
		return
	}
	in.Status = IntentFailed
	in.FailReason = reason
}

// CanProceed reports whether the intent may enter another stage.
func (in *Intent) CanProceed() bool {
	return in.Status != IntentCompleted && in.Status != IntentFailed
}

// StringParam returns the named parameter as a string, "" when absent or of
// another type.
func (in *Intent) StringParam(key string) string {
	s, _ := in.Parameters[key].(string)
	return s
}

// Subtype returns the verb variant carried in parameters: the speech volume
// for COMMUNICATE, the gait for MOVE, "" otherwise.
func (in *Intent) Subtype() string {
	switch in.Verb {
	case VerbCommunicate:
		if v := in.StringParam("volume"); v != "" {
			return v
		}
		return SubtypeTalk
	case VerbMove:
		return in.StringParam("gait")
	}
	return in.StringParam("subtype")
}
