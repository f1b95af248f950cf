package pipeline

import (
	"fmt"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/world"
)

// Stage names, in execution order. The intent's Stage field tracks the last
// one entered.
const (
	StageValidate      = "validate"
	StageResolveTarget = "resolve_target"
	StagePreBroadcast  = "pre_broadcast"
	StageAdjudicate    = "adjudicate"
	StageApplyEffects  = "apply_effects"
	StagePostBroadcast = "post_broadcast"
	StageReactions     = "reactions"
	StageComplete      = "complete"
)

// Result is the typed outcome of one stage.
type Result struct {
	OK     bool
	Reason string
	Data   map[string]any
}

func ok() Result            { return Result{OK: true} }
func failed(r string) Result { return Result{Reason: r} }

// ── Intent wire form ─────────────────────────────────────────────────────────
//
// Brokered envelopes carry the intent in Meta so the adjudication driver can
// rebuild it without sharing process memory with the pipeline.

func encodeIntent(in *action.Intent) map[string]any {
	params := make(map[string]any, len(in.Parameters))
	for k, v := range in.Parameters {
		params[k] = v
	}
	return map[string]any{
		"id":         in.ID,
		"actor_ref":  in.ActorRef.String(),
		"verb":       string(in.Verb),
		"parameters": params,
		"target_ref": refString(in.TargetRef),
		"source":     string(in.Source),
		"location":   encodeLocation(in.ActorLocation),
	}
}

func decodeIntent(m map[string]any) (*action.Intent, error) {
	raw, _ := m["actor_ref"].(string)
	actor, err := world.ParseRef(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: intent actor ref %q: %w", raw, err)
	}
	verbName, _ := m["verb"].(string)
	verb, okVerb := action.ParseVerb(verbName)
	if !okVerb {
		return nil, fmt.Errorf("pipeline: intent verb %q unknown", verbName)
	}

	in := &action.Intent{
		ActorRef:      actor,
		ActorType:     action.ActorTypeOf(actor),
		Verb:          verb,
		Parameters:    map[string]any{},
		Source:        action.Source(str(m, "source")),
		ActorLocation: decodeLocation(m["location"]),
		Status:        action.IntentAdjudicating,
		Stage:         StageAdjudicate,
	}
	in.ID = str(m, "id")
	if params, okP := m["parameters"].(map[string]any); okP {
		for k, v := range params {
			in.Parameters[k] = v
		}
	}
	if target := str(m, "target_ref"); target != "" {
		ref, refErr := world.ParseRef(target)
		if refErr != nil {
			return nil, fmt.Errorf("pipeline: intent target ref %q: %w", target, refErr)
		}
		in.TargetRef = ref
	}
	return in, nil
}

func encodeLocation(loc world.Location) map[string]any {
	return map[string]any{
		"world_x": loc.WorldX, "world_y": loc.WorldY,
		"region_x": loc.RegionX, "region_y": loc.RegionY,
		"place_id": loc.PlaceID,
		"x":        loc.X, "y": loc.Y,
	}
}

func decodeLocation(v any) world.Location {
	m, isMap := v.(map[string]any)
	if !isMap {
		return world.Location{}
	}
	return world.Location{
		WorldX: num(m, "world_x"), WorldY: num(m, "world_y"),
		RegionX: num(m, "region_x"), RegionY: num(m, "region_y"),
		PlaceID: str(m, "place_id"),
		X:       num(m, "x"), Y: num(m, "y"),
	}
}

func refString(r world.Ref) string {
	if r.IsZero() {
		return ""
	}
	return r.String()
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// num tolerates the two shapes a count takes after a JSON round trip.
func num(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
