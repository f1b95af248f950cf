package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/rules"
	"github.com/openweald/weald/internal/store"
)

// DefaultDriverPoll is the adjudication poll interval.
const DefaultDriverPoll = 750 * time.Millisecond

// Driver iterates adjudication for brokered intents. Each pass claims
// unclaimed brokered envelopes, asks the rules machine, and either suspends
// on a roll request or publishes the ruling; arriving roll results re-enter
// the suspended intent at the next iteration. Only the highest-iteration
// ruling of a correlation is final — anything earlier is superseded and never
// reaches the applier.
type Driver struct {
	bus   *bus.Bus
	adj   rules.Adjudicator
	store store.Store
	slot  int
	poll  time.Duration
	log   *slog.Logger
}

// NewDriver wires the adjudication driver. A zero poll defaults to 750ms.
func NewDriver(b *bus.Bus, adj rules.Adjudicator, s store.Store, slot int, log *slog.Logger, poll time.Duration) *Driver {
	if poll <= 0 {
		poll = DefaultDriverPoll
	}
	return &Driver{bus: b, adj: adj, store: s, slot: slot, poll: poll,
		log: log.With("component", "adjudication")}
}

// Run polls until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.log.Warn("adjudication tick failed", "error", err)
			}
		}
	}
}

// Tick resumes every suspended intent whose roll result has landed, then
// adjudicates every unclaimed brokered envelope once.
func (d *Driver) Tick(ctx context.Context) error {
	results, err := d.bus.Pending(ctx, bus.FamilyRollResult, bus.StatusSent)
	if err != nil {
		return err
	}
	for _, res := range results {
		if err := d.resume(ctx, res); err != nil {
			d.log.Warn("roll resume failed",
				"correlation_id", res.CorrelationID, "error", err)
		}
	}

	brokered, err := d.bus.Pending(ctx, bus.FamilyBrokered, bus.StatusSent)
	if err != nil {
		return err
	}
	for _, env := range brokered {
		if err := d.adjudicate(ctx, env); err != nil {
			d.log.Warn("adjudication failed",
				"correlation_id", env.CorrelationID, "error", err)
		}
	}
	return nil
}

// adjudicate runs one iteration for one brokered envelope.
func (d *Driver) adjudicate(ctx context.Context, env bus.Envelope) error {
	if err := d.bus.CheckSession(env); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, env.ID, bus.StatusProcessing); err != nil {
		return err
	}

	meta, _ := env.Meta["intent"].(map[string]any)
	in, err := decodeIntent(meta)
	if err != nil {
		return d.ruleFailure(ctx, env, "the command could not be understood")
	}

	req, err := d.buildRequest(ctx, in, env)
	if err != nil {
		return d.ruleFailure(ctx, env, fault.Sentence(fault.KindOf(err)))
	}

	out, err := d.adj.Adjudicate(ctx, req)
	if err != nil {
		d.log.Error("rules machine failed", "intent_id", in.ID,
			"iteration", req.Iteration, "error", err)
		return d.ruleFailure(ctx, env, fault.Sentence(fault.KindOf(err)))
	}

	if out.Suspended() {
		if req.Iteration >= rules.MaxIterations {
			return d.ruleFailure(ctx, env, "the attempt collapses under its own complications")
		}
		return d.suspend(ctx, env, out.NeedRoll)
	}
	return d.publishRuling(ctx, env, out)
}

// buildRequest assembles the adjudication input: intent, accumulated rolls,
// actor and target snapshots, distance. A vanished target degrades to nil,
// matching how the world treats stale refs mid-fight.
func (d *Driver) buildRequest(ctx context.Context, in *action.Intent, env bus.Envelope) (rules.Request, error) {
	const op = "pipeline: adjudication request"

	actor, err := store.LoadEntity(ctx, d.store, d.slot, in.ActorRef)
	if err != nil {
		return rules.Request{}, fault.Newf(fault.KindOf(err), op, "actor %s: %v", in.ActorRef, err)
	}

	req := rules.Request{
		Intent:    in,
		Iteration: env.Iteration(),
		Rolls:     decodeRolls(env.Meta["rolls"]),
		Actor:     actor,
	}

	if !in.TargetRef.IsZero() {
		target, terr := store.LoadEntity(ctx, d.store, d.slot, in.TargetRef)
		switch {
		case fault.Is(terr, fault.NotFound):
			// leave nil
		case terr != nil:
			return rules.Request{}, fault.Newf(fault.KindOf(terr), op, "target %s: %v", in.TargetRef, terr)
		default:
			req.Target = target
			if loc, okLoc := target.Location(); okLoc {
				if dist := in.ActorLocation.DistanceTo(loc); !math.IsInf(dist, 1) {
					req.Distance = dist
				}
			}
		}
	}
	return req, nil
}

// suspend parks the brokered envelope awaiting its roll and posts the
// request for the roll service.
func (d *Driver) suspend(ctx context.Context, env bus.Envelope, expression string) error {
	k := env.Iteration()
	req := bus.New("adjudication", bus.MakeStage(bus.FamilyRollRequest, k), expression)
	req.ReplyTo = env.ID
	req.CorrelationID = env.CorrelationID
	req.Meta["expression"] = expression
	if err := d.bus.Publish(ctx, req); err != nil {
		return err
	}
	d.log.Debug("intent suspended on roll",
		"correlation_id", env.CorrelationID, "iteration", k, "expression", expression)
	return d.bus.Advance(ctx, env.ID, bus.AwaitingRoll(k))
}

// resume re-enters adjudication after a roll result: the suspended brokered
// envelope is retired and a successor at iteration k+1 carries the
// accumulated rolls.
func (d *Driver) resume(ctx context.Context, res bus.Envelope) error {
	if err := d.bus.CheckSession(res); err != nil {
		return err
	}
	snap, err := d.bus.Snapshot(ctx)
	if err != nil {
		return err
	}

	k := res.Iteration()
	var suspended bus.Envelope
	var found bool
	for _, env := range bus.ByCorrelation(snap, res.CorrelationID) {
		if env.Family() == bus.FamilyBrokered && env.Status == bus.AwaitingRoll(k) {
			suspended, found = env, true
			break
		}
	}
	if err := d.bus.Advance(ctx, res.ID, bus.StatusProcessing); err != nil {
		return err
	}
	if !found {
		d.log.Warn("roll result matches no suspended intent",
			"correlation_id", res.CorrelationID, "iteration", k)
		return d.bus.Advance(ctx, res.ID, bus.StatusDone)
	}

	next := bus.New("adjudication", bus.MakeStage(bus.FamilyBrokered, k+1), suspended.Content)
	next.CorrelationID = suspended.CorrelationID
	next.Meta["intent"] = suspended.Meta["intent"]
	next.Meta["pre_broadcast"] = suspended.Meta["pre_broadcast"]
	next.Meta["rolls"] = appendRoll(suspended.Meta["rolls"], res)
	if err := d.bus.Publish(ctx, next); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, suspended.ID, bus.StatusProcessing); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, suspended.ID, bus.StatusDone); err != nil {
		return err
	}
	return d.bus.Advance(ctx, res.ID, bus.StatusDone)
}

// publishRuling appends the ruling, supersedes every earlier one of the same
// correlation, and stages the new one for the applier.
func (d *Driver) publishRuling(ctx context.Context, env bus.Envelope, out rules.Outcome) error {
	snap, err := d.bus.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, prior := range bus.ByFamily(bus.ByCorrelation(snap, env.CorrelationID), bus.FamilyRuling) {
		if prior.Status.IsTerminal() {
			continue
		}
		if err := d.bus.Advance(ctx, prior.ID, bus.StatusSuperseded); err != nil {
			return err
		}
		d.log.Info("ruling superseded", "correlation_id", env.CorrelationID,
			"superseded_iteration", prior.Iteration(), "by_iteration", env.Iteration())
	}

	ruling := bus.New("adjudication", bus.MakeStage(bus.FamilyRuling, env.Iteration()), rulingContent(out))
	ruling.ReplyTo = env.ID
	ruling.CorrelationID = env.CorrelationID
	ruling.Meta["final"] = true
	ruling.Meta["success"] = out.Success
	ruling.Meta["event_lines"] = toAny(out.EventLines)
	ruling.Meta["effect_lines"] = toAny(out.EffectLines)
	ruling.Meta["warnings"] = toAny(out.Warnings)
	ruling.Meta["intent"] = env.Meta["intent"]
	ruling.Meta["pre_broadcast"] = env.Meta["pre_broadcast"]
	if err := d.bus.Publish(ctx, ruling); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, ruling.ID, bus.StatusProcessing); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, ruling.ID, bus.StatusPendingStateApply); err != nil {
		return err
	}
	return d.bus.Advance(ctx, env.ID, bus.StatusDone)
}

// ruleFailure closes a brokered envelope with a failure ruling so the
// lifecycle still converges through the applier and the pipeline tail.
func (d *Driver) ruleFailure(ctx context.Context, env bus.Envelope, reason string) error {
	out := rules.Outcome{Success: false}
	snapMeta := env.Meta["intent"]
	ruling := bus.New("adjudication", bus.MakeStage(bus.FamilyRuling, env.Iteration()), reason)
	ruling.ReplyTo = env.ID
	ruling.CorrelationID = env.CorrelationID
	ruling.Meta["final"] = true
	ruling.Meta["success"] = out.Success
	ruling.Meta["reason"] = reason
	ruling.Meta["event_lines"] = []any{}
	ruling.Meta["effect_lines"] = []any{}
	ruling.Meta["intent"] = snapMeta
	ruling.Meta["pre_broadcast"] = env.Meta["pre_broadcast"]
	if err := d.bus.Publish(ctx, ruling); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, ruling.ID, bus.StatusProcessing); err != nil {
		return err
	}
	if err := d.bus.Advance(ctx, ruling.ID, bus.StatusPendingStateApply); err != nil {
		return err
	}
	return d.bus.Advance(ctx, env.ID, bus.StatusDone)
}

// ── Roll meta codecs ─────────────────────────────────────────────────────────

func decodeRolls(v any) []rules.RollOutcome {
	list, isList := v.([]any)
	if !isList {
		return nil
	}
	out := make([]rules.RollOutcome, 0, len(list))
	for _, item := range list {
		m, isMap := item.(map[string]any)
		if !isMap {
			continue
		}
		ro := rules.RollOutcome{
			Expression: str(m, "expression"),
			Total:      num(m, "total"),
		}
		if raw, isRolls := m["rolls"].([]any); isRolls {
			for _, r := range raw {
				if f, isNum := r.(float64); isNum {
					ro.Rolls = append(ro.Rolls, int(f))
				} else if i, isInt := r.(int); isInt {
					ro.Rolls = append(ro.Rolls, i)
				}
			}
		}
		out = append(out, ro)
	}
	return out
}

func appendRoll(prior any, res bus.Envelope) []any {
	list, _ := prior.([]any)
	entry := map[string]any{
		"expression": res.Meta["expression"],
		"total":      res.Meta["total"],
		"rolls":      res.Meta["rolls"],
	}
	return append(append([]any{}, list...), entry)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func rulingContent(out rules.Outcome) string {
	if len(out.EventLines) > 0 {
		return out.EventLines[0]
	}
	if out.Success {
		return "ruling: success"
	}
	return "ruling: failure"
}
