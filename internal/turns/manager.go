package turns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/roll"
	"github.com/openweald/weald/internal/rules"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/witness"
	"github.com/openweald/weald/internal/world"
)

// DefaultPoll is the manager's tick cadence.
const DefaultPoll = time.Second

// JournalHook receives each NPC participant when an event ends, so the
// journal layer can write a memory entry. Hooks must not block.
type JournalHook func(ctx context.Context, npc world.Ref, ev TimedEvent, reason EndReason)

// Manager owns the single active timed event of a slot: it detects
// triggers, rolls initiative, drives the phase machine, fires held actions,
// and tears the event down when an end condition holds.
type Manager struct {
	mu sync.Mutex

	bus     *bus.Bus
	store   store.Store
	slot    int
	roller  *roll.Roller
	journal JournalHook

	turnTimeout time.Duration
	poll        time.Duration
	log         *slog.Logger
	now         func() time.Time

	active *TimedEvent
}

// NewManager wires a turn manager. journal may be nil.
func NewManager(b *bus.Bus, s store.Store, slot int, journal JournalHook, log *slog.Logger, poll time.Duration) *Manager {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Manager{
		bus:         b,
		store:       s,
		slot:        slot,
		roller:      roll.NewRoller(),
		journal:     journal,
		turnTimeout: DefaultTurnTimeout,
		poll:        poll,
		log:         log,
		now:         time.Now,
	}
}

// Compile-time check: the manager gates witness reactions.
var _ witness.EventGate = (*Manager)(nil)

// ActiveUnrelated implements [witness.EventGate]: true while a timed event
// runs that ref is not part of.
func (m *Manager) ActiveUnrelated(ref world.Ref) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && !m.active.Includes(ref)
}

// Snapshot returns a copy of the active event, false when free play is on.
func (m *Manager) Snapshot() (TimedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return TimedEvent{}, false
	}
	return m.copyActiveLocked(), true
}

// OnRuling feeds a completed adjudication's parsed event lines into the
// manager. Outside an event it runs trigger detection and may start one;
// inside an event it resolves the current turn and returns the held actions
// the lines tripped, already validated and consumed.
func (m *Manager) OnRuling(ctx context.Context, actor world.Ref, actorLoc world.Location, eventLines []string) ([]HeldAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		typ, parts, ok := DetectTrigger(eventLines)
		if !ok {
			return nil, nil
		}
		if !hasParticipant(parts, actor) {
			parts = append([]world.Ref{actor}, parts...)
		}
		return nil, m.startEventLocked(ctx, typ, parts, actorLoc)
	}

	ev := m.active
	m.noteFarewellsLocked(actor, eventLines)

	var fired []HeldAction
	for _, s := range stimuliFrom(actor, eventLines) {
		fired = append(fired, m.fireHeldLocked(ctx, s)...)
	}

	if cur := ev.Current(); cur != nil && cur.Ref == actor && ev.Phase == PhaseActionSelection {
		m.transitionLocked(PhaseActionResolution, "ruling received")
	}
	return fired, nil
}

// Hold reserves an action for a participant of the active event.
func (m *Manager) Hold(actor world.Ref, actionName string, trigger Trigger, expiresAtTurn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return fault.New(fault.InvalidTransition, "turns: hold", "no timed event active")
	}
	if !m.active.Includes(actor) {
		return fault.Newf(fault.InvalidTransition, "turns: hold", "%s is not a participant", actor)
	}
	m.active.Held = append(m.active.Held, HeldAction{
		Actor:         actor,
		Action:        actionName,
		Trigger:       trigger,
		HeldSince:     m.now(),
		ExpiresAtTurn: expiresAtTurn,
	})
	return nil
}

// MarkDisengaged flags a conversation participant as having drifted off.
func (m *Manager) MarkDisengaged(ref world.Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	if p := m.active.ParticipantFor(ref); p != nil {
		p.Disengaged = true
	}
}

// MarkObjectiveMet ends an exploration event at the next end check.
func (m *Manager) MarkObjectiveMet() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.ObjectiveMet = true
	}
}

// ForceEnd tears down the active event regardless of its end conditions.
func (m *Manager) ForceEnd(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return fault.New(fault.NotFound, "turns: force end", "no timed event active")
	}
	m.endEventLocked(ctx, EndForced)
	return nil
}

// Run drives the manager until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.log.Error("turn tick failed", "error", err)
			}
		}
	}
}

// Tick advances the phase machine one station: announcing turns, expiring
// the selection timer, refreshing participant health and region presence,
// and running the end check.
func (m *Manager) Tick(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.active
	if ev == nil {
		return nil
	}
	m.refreshParticipantsLocked(ctx)

	switch ev.Phase {
	case PhaseTurnStart:
		cur := ev.Current()
		if cur == nil {
			m.endEventLocked(ctx, EndNobodyLeft)
			return nil
		}
		ev.TurnDeadline = m.now().Add(m.turnTimeout)
		m.announceLocked(ctx, fmt.Sprintf("Round %d: %s to act.", ev.Round, cur.Ref))
		m.transitionLocked(PhaseActionSelection, "turn opened")

	case PhaseActionSelection:
		if !m.now().Before(ev.TurnDeadline) {
			if cur := ev.Current(); cur != nil {
				cur.Skipped++
				m.announceLocked(ctx, fmt.Sprintf("%s hesitates and loses the turn.", cur.Ref))
			}
			m.transitionLocked(PhaseTurnEnd, "selection timeout")
		}

	case PhaseActionResolution:
		m.transitionLocked(PhaseTurnEnd, "action resolved")

	case PhaseTurnEnd:
		m.expireHeldLocked()
		m.transitionLocked(PhaseEventEndCheck, "turn closed")

	case PhaseEventEndCheck:
		if reason, over := ev.endCondition(); over {
			m.endEventLocked(ctx, reason)
			return nil
		}
		if !ev.advanceTurn() {
			m.endEventLocked(ctx, EndNobodyLeft)
			return nil
		}
		m.transitionLocked(PhaseTurnStart, "next turn")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals (caller holds the mutex)
// ─────────────────────────────────────────────────────────────────────────────

func (m *Manager) startEventLocked(ctx context.Context, typ EventType, refs []world.Ref, loc world.Location) error {
	ev := &TimedEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Region:    loc,
		Round:     1,
		Phase:     PhaseTurnStart,
		StartedAt: m.now(),
	}
	for _, ref := range refs {
		p := &Participant{Ref: ref, RawDex: 50}
		if rec, err := store.LoadEntity(ctx, m.store, m.slot, ref); err == nil {
			if dex, ok := rec.Stat("dex"); ok {
				p.RawDex = dex
			}
		}
		ev.Participants = append(ev.Participants, p)
	}
	RollInitiative(ev.ID, ev.Participants, m.roller)
	m.active = ev

	m.log.Info("timed event started",
		"event_id", ev.ID,
		"type", string(typ),
		"participants", len(ev.Participants))
	m.announceLocked(ctx, fmt.Sprintf("A %s begins. Initiative: %s.", typ, InitiativeLine(ev.Participants)))
	return nil
}

func (m *Manager) endEventLocked(ctx context.Context, reason EndReason) {
	ev := m.active
	if ev == nil {
		return
	}
	ev.Held = nil
	snapshot := m.copyActiveLocked()
	m.transitionLocked(PhaseEventEnd, string(reason))
	m.active = nil

	if m.journal != nil {
		for _, p := range snapshot.Participants {
			if p.Ref.Kind == world.KindNPC {
				m.journal(ctx, p.Ref, snapshot, reason)
			}
		}
	}
	m.announceLocked(ctx, fmt.Sprintf("The %s ends (%s).", snapshot.Type, reason))
	m.log.Info("timed event ended",
		"event_id", snapshot.ID,
		"reason", string(reason),
		"rounds", snapshot.Round)
}

// refreshParticipantsLocked reloads each participant's health and region
// presence. A participant whose region tile drifted from the event's is
// marked left and announced once.
func (m *Manager) refreshParticipantsLocked(ctx context.Context) {
	ev := m.active
	for _, p := range ev.Participants {
		rec, err := store.LoadEntity(ctx, m.store, m.slot, p.Ref)
		if err != nil {
			continue
		}
		if cur, _, ok := rec.Health(); ok {
			p.Down = cur <= 0
		}
		loc, ok := rec.Location()
		if !ok {
			continue
		}
		if !loc.SameRegion(ev.Region) && !p.LeftRegion {
			p.LeftRegion = true
			m.announceLocked(ctx, fmt.Sprintf("%s has left the area.", p.Ref))
		}
	}
}

// fireHeldLocked triggers and consumes held actions matching s. Each fired
// action is re-validated at processing time; an invalid one records a
// structured failure and keeps its reserve.
func (m *Manager) fireHeldLocked(ctx context.Context, s Stimulus) []HeldAction {
	ev := m.active
	fired := MatchHeld(ev.Held, s)
	if len(fired) == 0 {
		return nil
	}

	var valid []HeldAction
	consumed := make(map[int]bool, len(fired))
	for _, h := range fired {
		p := ev.ParticipantFor(h.Actor)
		if p == nil || p.Down || p.LeftRegion {
			m.log.Warn("held action invalid at trigger time",
				"event_id", ev.ID,
				"holder", h.Actor.String(),
				"trigger", string(h.Trigger.Type),
				"stimulus", string(s.Kind))
			continue
		}
		for j := range ev.Held {
			if !consumed[j] && ev.Held[j] == h {
				consumed[j] = true
				break
			}
		}
		valid = append(valid, h)
		m.announceLocked(ctx, fmt.Sprintf("%s reacts: %s.", h.Actor, h.Action))
	}

	kept := ev.Held[:0]
	for j := range ev.Held {
		if !consumed[j] {
			kept = append(kept, ev.Held[j])
		}
	}
	ev.Held = kept
	return valid
}

// expireHeldLocked drops held actions whose turn bound has passed.
func (m *Manager) expireHeldLocked() {
	ev := m.active
	kept := ev.Held[:0]
	for _, h := range ev.Held {
		if h.ExpiresAtTurn > 0 && ev.Round > h.ExpiresAtTurn {
			continue
		}
		kept = append(kept, h)
	}
	ev.Held = kept
}

// noteFarewellsLocked marks the speaking participant farewelled when their
// COMMUNICATE line reads as a goodbye.
func (m *Manager) noteFarewellsLocked(actor world.Ref, eventLines []string) {
	ev := m.active
	if ev.Type != EventConversation {
		return
	}
	p := ev.ParticipantFor(actor)
	if p == nil {
		return
	}
	for _, line := range eventLines {
		cmd, err := rules.ParseCommand(line)
		if err != nil || cmd.Op != string(action.VerbCommunicate) {
			continue
		}
		if witness.IsFarewell(cmd.ArgText("message")) {
			p.Farewelled = true
			return
		}
	}
}

func (m *Manager) transitionLocked(to Phase, reason string) {
	ev := m.active
	from := ev.Phase
	if to != PhaseEventEnd && !CanTransition(from, to) {
		m.log.Error("illegal phase transition dropped",
			"event_id", ev.ID, "from", string(from), "to", string(to))
		return
	}
	ev.Phase = to

	var actor string
	if cur := ev.Current(); cur != nil {
		actor = cur.Ref.String()
	}
	rec := TransitionRecord{
		EventID: ev.ID,
		Turn:    ev.TurnIdx,
		Round:   ev.Round,
		Actor:   actor,
		From:    from,
		To:      to,
		Reason:  reason,
	}
	m.log.Info("phase transition",
		"event_id", rec.EventID,
		"turn", rec.Turn,
		"round", rec.Round,
		"actor", rec.Actor,
		"from", string(rec.From),
		"to", string(rec.To),
		"reason", rec.Reason)
}

func (m *Manager) announceLocked(ctx context.Context, text string) {
	env := bus.New("turns", "announcement", text)
	if err := m.bus.Notify(ctx, env); err != nil {
		m.log.Warn("inbox announcement failed", "error", err)
	}
}

func (m *Manager) copyActiveLocked() TimedEvent {
	ev := *m.active
	ev.Participants = make([]*Participant, len(m.active.Participants))
	for i, p := range m.active.Participants {
		cp := *p
		ev.Participants[i] = &cp
	}
	ev.Held = append([]HeldAction(nil), m.active.Held...)
	return ev
}

// stimuliFrom derives held-action stimuli from a ruling's event lines.
func stimuliFrom(actor world.Ref, eventLines []string) []Stimulus {
	var out []Stimulus
	for _, line := range eventLines {
		cmd, err := rules.ParseCommand(line)
		if err != nil {
			continue
		}
		var kind StimulusKind
		switch cmd.Op {
		case string(action.VerbMove), string(action.VerbTravel):
			kind = StimulusMove
		case string(action.VerbAttack):
			kind = StimulusAttack
		case string(action.VerbCast):
			kind = StimulusCast
		default:
			continue
		}
		s := Stimulus{Kind: kind, Actor: actor}
		if ref, err := world.ParseRef(cmd.ArgText("target")); err == nil {
			s.Target = ref
		}
		out = append(out, s)
	}
	return out
}

func hasParticipant(refs []world.Ref, ref world.Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
