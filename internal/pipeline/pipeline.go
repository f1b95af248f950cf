// Package pipeline runs intents through the eight-stage action flow:
// validate, resolve target, pre-broadcast, adjudicate, apply effects,
// post-broadcast, reactions, complete.
//
// The flow is split across the bus at its suspension points. [Pipeline.Submit]
// runs the first three stages synchronously and parks the intent on the
// Outbox as a brokered envelope; [Driver] iterates adjudication against the
// rules machine, suspending on dice; the state applier consumes the final
// ruling; [Pipeline.Tick] picks up the applied confirmation and finishes with
// the perception, reaction and turn-manager handoffs. Intents fail without
// side effects at any stage before apply; after apply they run to completion
// whatever breaks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/movement"
	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/resolve"
	"github.com/openweald/weald/internal/rules"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/travel"
	"github.com/openweald/weald/internal/turns"
	"github.com/openweald/weald/internal/witness"
	"github.com/openweald/weald/internal/world"
)

// DefaultPoll is the applied-confirmation poll interval.
const DefaultPoll = 500 * time.Millisecond

// track is the pipeline's in-memory record of one in-flight intent.
type track struct {
	intent       *action.Intent
	preBroadcast bool
}

// Pipeline owns the synchronous head and asynchronous tail of the intent
// flow. It is safe for concurrent Submit calls; Tick is driven by one loop.
type Pipeline struct {
	mu       sync.Mutex
	bus      *bus.Bus
	store    store.Store
	registry *action.Registry
	resolver *resolve.Resolver
	caster   *perception.Broadcaster
	policy   *witness.Policy
	turns    *turns.Manager
	mover    *movement.Engine
	traveler *travel.Traveler
	slot     int
	poll     time.Duration
	log      *slog.Logger

	inflight map[string]*track
	sink     func(context.Context, []witness.Command)
	observer func(context.Context, perception.Event) error
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithTurns wires the turn manager's ruling hook.
func WithTurns(m *turns.Manager) Option {
	return func(p *Pipeline) { p.turns = m }
}

// WithMovement wires MOVE execution to the movement engine.
func WithMovement(e *movement.Engine) Option {
	return func(p *Pipeline) { p.mover = e }
}

// WithTravel wires TRAVEL execution to the traveler.
func WithTravel(t *travel.Traveler) Option {
	return func(p *Pipeline) { p.traveler = t }
}

// WithCommandSink receives the witness commands produced by the reactions
// stage, normally the NPC AI service. Without a sink commands are logged and
// dropped.
func WithCommandSink(sink func(context.Context, []witness.Command)) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithPerceptionObserver registers a hook that sees every completed
// perception event before the witness policy does, normally the journal
// writer. Observer errors are logged and never block the flow.
func WithPerceptionObserver(obs func(context.Context, perception.Event) error) Option {
	return func(p *Pipeline) { p.observer = obs }
}

// NewPipeline wires the pipeline service. A zero poll defaults to 500ms.
func NewPipeline(b *bus.Bus, s store.Store, reg *action.Registry, res *resolve.Resolver,
	caster *perception.Broadcaster, policy *witness.Policy, slot int, log *slog.Logger,
	poll time.Duration, opts ...Option) *Pipeline {
	if poll <= 0 {
		poll = DefaultPoll
	}
	p := &Pipeline{
		bus:      b,
		store:    s,
		registry: reg,
		resolver: res,
		caster:   caster,
		policy:   policy,
		slot:     slot,
		poll:     poll,
		log:      log.With("component", "pipeline"),
		inflight: map[string]*track{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Inflight returns the live intent tracked under the correlation id.
func (p *Pipeline) Inflight(id string) (*action.Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.inflight[id]
	if !ok {
		return nil, false
	}
	return t.intent, true
}

// Submit runs an intent through validate, target resolution and the
// action_started broadcast, then parks it on the Outbox for adjudication.
// A stage failure marks the intent failed, posts the user-facing sentence to
// the Inbox, and returns the stage's fault; nothing has touched world state
// at that point.
func (p *Pipeline) Submit(ctx context.Context, in *action.Intent) error {
	tr := &track{intent: in}

	in.SetStage(StageValidate)
	if res := p.validate(ctx, in); !res.OK {
		return p.failIntent(ctx, tr, res.Reason)
	}
	in.SetStatus(action.IntentValidated)

	in.SetStage(StageResolveTarget)
	in.SetStatus(action.IntentResolving)
	if res := p.resolveTarget(ctx, in); !res.OK {
		return p.failIntent(ctx, tr, res.Reason)
	}

	in.SetStage(StagePreBroadcast)
	if p.registry.IsObservable(in.Verb) {
		if _, err := p.broadcast(ctx, in, perception.TypeActionStarted, true); err != nil {
			p.log.Warn("pre-broadcast failed", "intent_id", in.ID, "error", err)
		} else {
			tr.preBroadcast = true
		}
	}

	in.SetStage(StageAdjudicate)
	in.SetStatus(action.IntentAdjudicating)
	env := bus.New("pipeline", bus.MakeStage(bus.FamilyBrokered, 1), intentSentence(in))
	env.CorrelationID = in.ID
	env.Meta["intent"] = encodeIntent(in)
	env.Meta["pre_broadcast"] = tr.preBroadcast
	if err := p.bus.Publish(ctx, env); err != nil {
		return p.failIntent(ctx, tr, fault.Sentence(fault.KindOf(err)))
	}

	p.mu.Lock()
	p.inflight[in.ID] = tr
	p.mu.Unlock()
	return nil
}

// Run polls for applied confirmations until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.log.Warn("pipeline tick failed", "error", err)
			}
		}
	}
}

// Tick finishes every intent whose applied confirmation has landed: the
// post-broadcast, reactions and turn-manager stages, then completion.
func (p *Pipeline) Tick(ctx context.Context) error {
	pending, err := p.bus.Pending(ctx, bus.FamilyApplied, bus.StatusSent)
	if err != nil {
		return err
	}
	for _, confirm := range pending {
		if err := p.finish(ctx, confirm); err != nil {
			p.log.Warn("intent completion failed",
				"correlation_id", confirm.CorrelationID, "error", err)
		}
	}
	return nil
}

// ── Stages ───────────────────────────────────────────────────────────────────

// validate checks the verb, the actor's fitness to act, and the minimal
// parameter shape. No side effects.
func (p *Pipeline) validate(ctx context.Context, in *action.Intent) Result {
	def, known := p.registry.Lookup(in.Verb)
	if !known {
		return failed(fmt.Sprintf("unknown verb %q", in.Verb))
	}

	rec, err := store.LoadEntity(ctx, p.store, p.slot, in.ActorRef)
	if err != nil {
		return failed(fault.Sentence(fault.KindOf(err)))
	}
	if cur, _, okH := rec.Health(); okH && cur <= 0 {
		return failed("the actor is in no state to act")
	}

	if in.Verb == action.VerbCommunicate && strings.TrimSpace(in.StringParam("message")) == "" {
		return failed("nothing to say")
	}
	if def.RequiresTarget && in.TargetRef.IsZero() &&
		strings.TrimSpace(in.StringParam("target")) == "" &&
		strings.TrimSpace(in.StringParam("mention")) == "" {
		return failed(fmt.Sprintf("%s requires a target", strings.ToLower(string(in.Verb))))
	}
	return ok()
}

// resolveTarget pins the intent's target when the verb wants one.
func (p *Pipeline) resolveTarget(ctx context.Context, in *action.Intent) Result {
	res, err := p.resolver.Resolve(ctx, in)
	if err != nil {
		return failed(fault.Sentence(fault.KindOf(err)))
	}
	if !res.TargetRef.IsZero() {
		in.TargetRef = res.TargetRef
	}
	return ok()
}

// broadcast emits one perception event batch for the intent.
// completionType maps a verb to the event type its completion carries.
// Speech completes as communication; MOVE never completes here, its batches
// come out of the movement engine typed movement.
func completionType(v action.Verb) string {
	if v == action.VerbCommunicate {
		return perception.TypeCommunication
	}
	return perception.TypeActionCompleted
}

func (p *Pipeline) broadcast(ctx context.Context, in *action.Intent, eventType string, success bool) ([]perception.Event, error) {
	summary := intentSentence(in)
	// Spoken words travel verbatim; the witness layer reads farewells and
	// keywords off the summary.
	if in.Verb == action.VerbCommunicate {
		if msg := strings.TrimSpace(in.StringParam("message")); msg != "" {
			summary = msg
		}
	}
	if !success {
		summary += " (failed)"
	}
	return p.caster.Broadcast(ctx, perception.Emission{
		Actor:         in.ActorRef,
		ActorLocation: in.ActorLocation,
		Verb:          in.Verb,
		Subtype:       in.Subtype(),
		Target:        in.TargetRef,
		Type:          eventType,
		Summary:       summary,
	})
}

// finish runs the tail stages for one applied confirmation.
func (p *Pipeline) finish(ctx context.Context, confirm bus.Envelope) error {
	if err := p.bus.CheckSession(confirm); err != nil {
		return err
	}
	if err := p.bus.Advance(ctx, confirm.ID, bus.StatusProcessing); err != nil {
		return err
	}

	ruling, err := p.rulingFor(ctx, confirm)
	if err != nil {
		return err
	}
	in, tr, err := p.intentFor(ruling)
	if err != nil {
		return err
	}
	success, _ := ruling.Meta["success"].(bool)
	eventLines := metaStrings(ruling.Meta["event_lines"])

	in.SetStage(StageApplyEffects)
	in.SetStatus(action.IntentApplied)

	// Verb execution engines run only on successful rulings; their failures
	// are post-apply and never un-complete the intent.
	if success {
		p.execute(ctx, in)
	}

	in.SetStage(StagePostBroadcast)
	var events []perception.Event
	// The movement engine owns MOVE completion events; everything else
	// completes here, failures included when the start was already seen.
	observable := p.registry.IsObservable(in.Verb) && in.Verb != action.VerbMove
	if observable && (success || tr.preBroadcast) {
		events, err = p.broadcast(ctx, in, completionType(in.Verb), success)
		if err != nil {
			p.log.Warn("post-broadcast failed", "intent_id", in.ID, "error", err)
		}
		in.SetStatus(action.IntentPerceived)
	}
	if success {
		events = append(events, p.broadcastDamage(ctx, in, ruling)...)
	}

	in.SetStage(StageReactions)
	p.react(ctx, events)
	if p.turns != nil && len(eventLines) > 0 {
		if _, err := p.turns.OnRuling(ctx, in.ActorRef, in.ActorLocation, eventLines); err != nil {
			p.log.Warn("turn manager rejected ruling", "intent_id", in.ID, "error", err)
		}
	}

	in.SetStage(StageComplete)
	if success {
		in.SetStatus(action.IntentCompleted)
		if line := rulingSentence(ruling); line != "" {
			p.notify(ctx, "narration", line, in.ID)
		}
	} else {
		in.MarkFailed(rulingReason(ruling))
		p.notify(ctx, bus.StageFailure, rulingReason(ruling), in.ID)
	}

	p.mu.Lock()
	delete(p.inflight, in.ID)
	p.mu.Unlock()
	return p.bus.Advance(ctx, confirm.ID, bus.StatusDone)
}

// execute dispatches the verbs whose consequences live outside effect lines.
func (p *Pipeline) execute(ctx context.Context, in *action.Intent) {
	switch in.Verb {
	case action.VerbMove:
		if p.mover == nil {
			return
		}
		goal := world.Tile{X: intParam(in, "goal_x"), Y: intParam(in, "goal_y")}
		speed := intParam(in, "speed_tpm")
		if err := p.mover.Start(ctx, in.ActorRef, goal, speed, nil); err != nil {
			p.log.Warn("movement start failed", "intent_id", in.ID, "error", err)
			p.notify(ctx, bus.StageFailure, fault.Sentence(fault.KindOf(err)), in.ID)
		}
	case action.VerbTravel:
		if p.traveler == nil {
			return
		}
		dest := in.StringParam("destination")
		if dest == "" && in.TargetRef.Kind == world.KindPlace {
			dest = in.TargetRef.ID
		}
		if _, _, err := p.traveler.Move(ctx, in.ActorRef, dest); err != nil {
			p.log.Warn("travel failed", "intent_id", in.ID, "error", err)
			p.notify(ctx, bus.StageFailure, fault.Sentence(fault.KindOf(err)), in.ID)
		}
	}
}

// broadcastDamage fans out the perception trail of a ruling's damage
// effects: damage_dealt to bystanders, damage_received to the struck entity,
// and combat_started when the hit left it at zero health. It runs after the
// applier, so the target's record already carries the post-damage value.
func (p *Pipeline) broadcastDamage(ctx context.Context, in *action.Intent, ruling bus.Envelope) []perception.Event {
	var events []perception.Event
	for _, line := range metaStrings(ruling.Meta["effect_lines"]) {
		cmd, err := rules.ParseEffect(line)
		if err != nil || cmd.Op != rules.OpApplyDamage {
			continue
		}
		target, err := world.ParseRef(cmd.ArgText("target"))
		if err != nil {
			continue
		}
		em := perception.Emission{
			Actor:         in.ActorRef,
			ActorLocation: in.ActorLocation,
			Verb:          in.Verb,
			Subtype:       in.Subtype(),
			Target:        target,
			Type:          perception.TypeDamageDealt,
			TargetType:    perception.TypeDamageReceived,
			Summary:       fmt.Sprintf("%s takes %g damage from %s", target, cmd.ArgNum("mag"), in.ActorRef),
		}
		evs, err := p.caster.Broadcast(ctx, em)
		if err != nil {
			p.log.Warn("damage broadcast failed", "intent_id", in.ID, "error", err)
			continue
		}
		events = append(events, evs...)

		rec, err := store.LoadEntity(ctx, p.store, p.slot, target)
		if err != nil {
			continue
		}
		if cur, _, ok := rec.Health(); !ok || cur > 0 {
			continue
		}
		em.Type = perception.TypeCombatStarted
		em.TargetType = ""
		em.Summary = fmt.Sprintf("%s goes down under %s's attack", target, in.ActorRef)
		evs, err = p.caster.Broadcast(ctx, em)
		if err != nil {
			p.log.Warn("combat broadcast failed", "intent_id", in.ID, "error", err)
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// react hands perceived events to the witness policy and forwards the
// resulting commands.
func (p *Pipeline) react(ctx context.Context, events []perception.Event) {
	if p.observer != nil {
		for _, ev := range events {
			if err := p.observer(ctx, ev); err != nil {
				p.log.Warn("perception observer failed",
					"observer", ev.Observer.String(), "error", err)
			}
		}
	}
	if p.policy == nil || len(events) == 0 {
		return
	}
	var commands []witness.Command
	for _, ev := range events {
		cmds, err := p.policy.React(ctx, ev)
		if err != nil {
			p.log.Warn("reaction failed", "observer", ev.Observer.String(), "error", err)
			continue
		}
		commands = append(commands, cmds...)
	}
	if len(commands) == 0 {
		return
	}
	if p.sink != nil {
		p.sink(ctx, commands)
		return
	}
	for _, cmd := range commands {
		p.log.Debug("witness command dropped, no sink",
			"type", string(cmd.Type), "npc", cmd.NPC.String())
	}
}

// ── Failure and lookup helpers ───────────────────────────────────────────────

// failIntent terminates an intent before adjudication: reason recorded,
// Inbox sentence posted, completion event only if the start had been seen.
func (p *Pipeline) failIntent(ctx context.Context, tr *track, reason string) error {
	in := tr.intent
	in.MarkFailed(reason)
	p.notify(ctx, bus.StageFailure, reason, in.ID)
	if tr.preBroadcast {
		if _, err := p.broadcast(ctx, in, completionType(in.Verb), false); err != nil {
			p.log.Warn("failure broadcast failed", "intent_id", in.ID, "error", err)
		}
	}
	return fault.Newf(fault.Internal, "pipeline: "+in.Stage, "%s", reason)
}

func (p *Pipeline) notify(ctx context.Context, stage, text, correlationID string) {
	env := bus.New("pipeline", stage, text)
	env.CorrelationID = correlationID
	if err := p.bus.Notify(ctx, env); err != nil {
		p.log.Warn("inbox notify failed", "stage", stage, "error", err)
	}
}

// rulingFor fetches the ruling envelope an applied confirmation answers.
func (p *Pipeline) rulingFor(ctx context.Context, confirm bus.Envelope) (bus.Envelope, error) {
	snap, err := p.bus.Snapshot(ctx)
	if err != nil {
		return bus.Envelope{}, err
	}
	ruling, found := bus.FindByID(snap, confirm.ReplyTo)
	if !found {
		return bus.Envelope{}, fault.Newf(fault.NotFound, "pipeline: finish",
			"applied %s answers unknown ruling %s", confirm.ID, confirm.ReplyTo)
	}
	return ruling, nil
}

// intentFor recovers the intent behind a ruling, preferring the live
// in-flight record and falling back to the wire copy so a restarted process
// can still complete work it inherited.
func (p *Pipeline) intentFor(ruling bus.Envelope) (*action.Intent, *track, error) {
	p.mu.Lock()
	tr, live := p.inflight[ruling.CorrelationID]
	p.mu.Unlock()
	if live {
		return tr.intent, tr, nil
	}

	meta, _ := ruling.Meta["intent"].(map[string]any)
	in, err := decodeIntent(meta)
	if err != nil {
		return nil, nil, fault.Newf(fault.ParseError, "pipeline: finish",
			"ruling %s carries no recoverable intent: %v", ruling.ID, err)
	}
	pre, _ := ruling.Meta["pre_broadcast"].(bool)
	return in, &track{intent: in, preBroadcast: pre}, nil
}

// ── Sentences ────────────────────────────────────────────────────────────────

func intentSentence(in *action.Intent) string {
	verb := strings.ToLower(string(in.Verb))
	if in.TargetRef.IsZero() {
		return fmt.Sprintf("%s %ss", in.ActorRef, verb)
	}
	return fmt.Sprintf("%s %ss %s", in.ActorRef, verb, in.TargetRef)
}

func rulingSentence(ruling bus.Envelope) string {
	lines := metaStrings(ruling.Meta["event_lines"])
	if len(lines) == 0 {
		return ruling.Content
	}
	return strings.Join(lines, "; ")
}

func rulingReason(ruling bus.Envelope) string {
	if reason, _ := ruling.Meta["reason"].(string); reason != "" {
		return reason
	}
	return "the attempt fails"
}

func metaStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, isStr := item.(string); isStr {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intParam(in *action.Intent, key string) int {
	switch v := in.Parameters[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
