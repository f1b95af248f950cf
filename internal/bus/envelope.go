// Package bus implements the session-scoped message logs that connect the
// weald services.
//
// A [Bus] owns two append-only ordered logs: the Inbox carries player- and
// world-facing messages (announcements, failures, narration), the Outbox
// carries inter-service traffic (brokered intents, roll requests and results,
// rulings, applied confirmations). Services never call each other directly;
// they poll the Outbox, claim envelopes by status transition, and append
// their results. Every envelope is stamped with the session id of the run
// that produced it, so a restarted process ignores leftovers from the
// previous run.
//
// Two [Log] implementations exist: [MemLog] for in-memory operation and
// tests, and [PGLog] backed by PostgreSQL for durable deployments.
package bus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Status lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Status is the lifecycle state of an envelope on a log.
//
// Beyond the fixed constants, the parameterised family awaiting_roll_<k>
// marks an envelope suspended until the roll result of iteration k arrives;
// construct it with [AwaitingRoll] and detect it with [AwaitingRollIteration].
type Status string

const (
	// StatusSent marks a freshly appended envelope no consumer has claimed.
	StatusSent Status = "sent"
	// StatusProcessing marks an envelope claimed by its consuming service.
	StatusProcessing Status = "processing"
	// StatusPendingStateApply marks a final ruling waiting for the state
	// applier to turn its effect lines into record diffs.
	StatusPendingStateApply Status = "pending_state_apply"
	// StatusSuperseded marks a ruling replaced by a later adjudication
	// iteration. Superseded envelopes must never reach the applier.
	StatusSuperseded Status = "superseded"
	// StatusDone marks a fully consumed envelope.
	StatusDone Status = "done"
)

const awaitingRollPrefix = "awaiting_roll_"

// AwaitingRoll returns the suspended status for roll iteration k.
func AwaitingRoll(k int) Status {
	return Status(awaitingRollPrefix + strconv.Itoa(k))
}

// AwaitingRollIteration reports whether s is an awaiting_roll_<k> status and,
// if so, which iteration it names.
func AwaitingRollIteration(s Status) (int, bool) {
	rest, ok := strings.CutPrefix(string(s), awaitingRollPrefix)
	if !ok {
		return 0, false
	}
	k, err := strconv.Atoi(rest)
	if err != nil || k < 1 {
		return 0, false
	}
	return k, true
}

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusSent, StatusProcessing, StatusPendingStateApply, StatusSuperseded, StatusDone:
		return true
	}
	_, ok := AwaitingRollIteration(s)
	return ok
}

// IsTerminal reports whether s admits no further transition.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusSuperseded
}

// CanTransition reports whether from → to is a legal lifecycle edge:
//
//	sent → processing → (awaiting_roll_k | pending_state_apply | done)
//	awaiting_roll_k → processing
//	pending_state_apply → processing
//
// plus superseding, which is legal from any non-terminal status. Everything
// else is rejected; callers surface the rejection as an invalid_transition
// fault.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}
	if to == StatusSuperseded {
		return !from.IsTerminal()
	}
	if _, ok := AwaitingRollIteration(to); ok {
		return from == StatusProcessing
	}
	switch from {
	case StatusSent:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusDone || to == StatusPendingStateApply
	case StatusPendingStateApply:
		return to == StatusProcessing
	}
	if _, ok := AwaitingRollIteration(from); ok {
		return to == StatusProcessing
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Stage families
// ─────────────────────────────────────────────────────────────────────────────

// Outbox stage families. A stage string is "<family>_<iteration>", e.g.
// "brokered_1" or "ruling_3"; iteration counts adjudication rounds within one
// correlation.
const (
	FamilyBrokered    = "brokered"
	FamilyRollRequest = "roll_request"
	FamilyRollResult  = "roll_result"
	FamilyRuling      = "ruling"
	FamilyApplied     = "applied"
)

// StageFailure is the Inbox stage for user-visible failure sentences. It has
// no iteration suffix.
const StageFailure = "failure"

// MakeStage composes a stage string from a family and an iteration.
func MakeStage(family string, iteration int) string {
	return fmt.Sprintf("%s_%d", family, iteration)
}

// ParseStage splits a stage string into its family and iteration. Stages
// without a numeric suffix ("failure", "announcement") parse as iteration 0
// with the whole string as family.
func ParseStage(stage string) (family string, iteration int) {
	i := strings.LastIndexByte(stage, '_')
	if i < 0 {
		return stage, 0
	}
	k, err := strconv.Atoi(stage[i+1:])
	if err != nil {
		return stage, 0
	}
	return stage[:i], k
}

// ─────────────────────────────────────────────────────────────────────────────
// Envelope
// ─────────────────────────────────────────────────────────────────────────────

// Envelope is the wire unit of the bus. The JSON field set is the persistence
// format; nothing outside it survives a round trip.
type Envelope struct {
	// ID uniquely identifies this envelope across both logs.
	ID string `json:"id"`

	// Sender names the service or actor that appended the envelope
	// ("pipeline", "adjudicator", "actor.hero").
	Sender string `json:"sender"`

	// Content is the human-readable payload: the raw intent text, a ruling
	// summary, or an Inbox sentence.
	Content string `json:"content"`

	// Stage is "<family>_<iteration>" on the Outbox (see [ParseStage]);
	// Inbox-only stages like [StageFailure] carry no iteration.
	Stage string `json:"stage"`

	// Status is the lifecycle state, advanced via [Log.UpdateStatus].
	Status Status `json:"status"`

	// ReplyTo optionally names the envelope this one answers.
	ReplyTo string `json:"reply_to,omitempty"`

	// CorrelationID groups every envelope of one intent's lifecycle.
	CorrelationID string `json:"correlation_id,omitempty"`

	// SessionID scopes the envelope to one process run.
	SessionID string `json:"session_id"`

	// Meta carries the verb-specific payload: parsed parameters, effect
	// lines, roll outcomes. Values must stay JSON-encodable.
	Meta map[string]any `json:"meta"`
}

// New creates an envelope with a fresh ID and status [StatusSent]. The
// session id is stamped by [Bus.Publish]/[Bus.Notify] on append.
func New(sender, stage, content string) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Sender:  sender,
		Content: content,
		Stage:   stage,
		Status:  StatusSent,
		Meta:    map[string]any{},
	}
}

// Family returns the stage family of the envelope.
func (e Envelope) Family() string {
	family, _ := ParseStage(e.Stage)
	return family
}

// Iteration returns the stage iteration of the envelope, 0 when the stage
// carries none.
func (e Envelope) Iteration() int {
	_, iteration := ParseStage(e.Stage)
	return iteration
}

// Validate reports whether the envelope is well-formed enough to append.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("bus: envelope has no id")
	case e.Sender == "":
		return fmt.Errorf("bus: envelope %s has no sender", e.ID)
	case e.Stage == "":
		return fmt.Errorf("bus: envelope %s has no stage", e.ID)
	case !e.Status.IsValid():
		return fmt.Errorf("bus: envelope %s has invalid status %q", e.ID, e.Status)
	}
	return nil
}

// clone returns a deep copy of the envelope so log internals never alias
// caller-held maps.
func (e Envelope) clone() Envelope {
	c := e
	c.Meta = cloneMeta(e.Meta)
	return c
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneMetaValue(v)
	}
	return out
}

func cloneMetaValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMeta(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneMetaValue(item)
		}
		return out
	default:
		return v
	}
}
