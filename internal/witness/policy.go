package witness

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// CommandType is the kind of behaviour the policy asks of an NPC.
type CommandType string

const (
	// CommandConverse starts or continues a conversation with the speaker.
	CommandConverse CommandType = "converse"

	// CommandEavesdrop has the NPC listen in without joining.
	CommandEavesdrop CommandType = "eavesdrop"

	// CommandFace turns the NPC toward a tile.
	CommandFace CommandType = "face"

	// CommandDisengage ends a conversation (farewell, timeout, departure).
	CommandDisengage CommandType = "disengage"
)

// Command is one behavioural instruction for the NPC AI layer.
type Command struct {
	Type    CommandType
	NPC     world.Ref
	Speaker world.Ref
	Toward  world.Tile
	Message string

	// FollowUp marks a continuation of an exchange already in flight; it
	// bypasses the command throttle.
	FollowUp bool

	Reason string
}

// EventGate lets the turn manager veto reactions while a timed event runs.
// A nil gate never vetoes.
type EventGate interface {
	// ActiveUnrelated reports whether a timed event is running that ref is
	// not part of.
	ActiveUnrelated(ref world.Ref) bool
}

// Reaction distances.
const (
	// directAddressTiles: a speaker this close is talking to you whether
	// they named you or not.
	directAddressTiles = 2.0

	// faceTiles: activity inside this radius draws a glance.
	faceTiles = 5.0
)

// farewellRe spots conversation-ending phrases.
var farewellRe = regexp.MustCompile(`(?i)\b(goodbye|bye|farewell|see you|later|until)\b`)

// IsFarewell reports whether the message reads as a goodbye.
func IsFarewell(message string) bool { return farewellRe.MatchString(message) }

// Policy is the non-LLM reaction layer: for each delivered perception it
// decides what, if anything, the observer does about it.
type Policy struct {
	store    store.Store
	registry *action.Registry
	convs    *Conversations
	engs     *Engagements
	throttle *Throttle
	gate     EventGate
	slot     int
	log      *slog.Logger
}

// NewPolicy wires a reaction policy. gate may be nil.
func NewPolicy(s store.Store, reg *action.Registry, convs *Conversations, engs *Engagements, gate EventGate, slot int, log *slog.Logger) *Policy {
	return &Policy{
		store:    s,
		registry: reg,
		convs:    convs,
		engs:     engs,
		throttle: NewThrottle(),
		gate:     gate,
		slot:     slot,
		log:      log,
	}
}

// Conversations exposes the conversation table for the sweep service and
// the force-end command.
func (p *Policy) Conversations() *Conversations { return p.convs }

// Engagements exposes the engagement table for the sweep service.
func (p *Policy) Engagements() *Engagements { return p.engs }

// React applies the policy to one delivered perception and returns the
// commands to issue, already throttled. A nil slice means the observer
// ignores the event.
func (p *Policy) React(ctx context.Context, ev perception.Event) ([]Command, error) {
	if ev.Observer == ev.Actor || ev.Observer.Kind != world.KindNPC {
		return nil, nil
	}
	if ev.Clarity == perception.ClarityObscured {
		return nil, nil
	}
	if p.gate != nil && p.gate.ActiveUnrelated(ev.Observer) {
		return nil, nil
	}

	rec, err := store.LoadEntity(ctx, p.store, p.slot, ev.Observer)
	if err != nil {
		if fault.Is(err, fault.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	actorTile, ok := p.actorTile(ctx, ev)
	if !ok {
		return nil, nil
	}

	var cmds []Command
	switch ev.Verb {
	case action.VerbCommunicate:
		cmds = p.reactToSpeech(ctx, ev, rec, actorTile)
	case action.VerbMove, action.VerbUse:
		if ev.Distance <= faceTiles && !p.convs.Active(ev.Observer) && !p.engaged(ev.Observer) {
			cmds = append(cmds, Command{
				Type: CommandFace, NPC: ev.Observer, Speaker: ev.Actor,
				Toward: actorTile, Reason: "nearby activity",
			})
		}
	default:
		if ev.Distance <= faceTiles {
			cmds = append(cmds, Command{
				Type: CommandFace, NPC: ev.Observer, Speaker: ev.Actor,
				Toward: actorTile, Reason: strings.ToLower(string(ev.Verb)),
			})
		}
	}

	allowed := cmds[:0]
	for _, cmd := range cmds {
		if p.throttle.Allow(cmd.NPC, cmd.Type, cmd.FollowUp) {
			allowed = append(allowed, cmd)
		}
	}
	return allowed, nil
}

// reactToSpeech handles COMMUNICATE: direct address and close speech start
// or extend conversations; everything else runs the social interest score.
func (p *Policy) reactToSpeech(ctx context.Context, ev perception.Event, rec world.Record, actorTile world.Tile) []Command {
	message := ev.Summary
	addressed := ev.Target == ev.Observer
	veryClose := ev.Distance <= directAddressTiles
	inConv := p.convs.Active(ev.Observer)

	if IsFarewell(message) && inConv {
		if conv, ok := p.convs.Get(ev.Observer); ok && hasRef(conv.Participants, ev.Actor) {
			p.convs.End(ctx, ev.Observer, "farewell")
			return []Command{{
				Type: CommandDisengage, NPC: ev.Observer, Speaker: ev.Actor,
				Message: message, FollowUp: true, Reason: "farewell",
			}}
		}
	}

	if addressed || veryClose || inConv {
		p.convs.StartOrExtend(ctx, ev.Observer, ev.Actor, ParticipantSpan)
		p.engs.Engage(ev.Observer, "conversation", ParticipantSpan, faceTiles)
		return []Command{{
			Type: CommandConverse, NPC: ev.Observer, Speaker: ev.Actor,
			Toward: actorTile, Message: message, FollowUp: inConv,
			Reason: "addressed",
		}}
	}

	score := SocialScore(p.scoreInput(ev, rec, message))
	switch {
	case score >= JoinThreshold:
		p.convs.StartOrExtend(ctx, ev.Observer, ev.Actor, ParticipantSpan)
		p.engs.Engage(ev.Observer, "conversation", ParticipantSpan, faceTiles)
		return []Command{{
			Type: CommandConverse, NPC: ev.Observer, Speaker: ev.Actor,
			Toward: actorTile, Message: message, Reason: "joined",
		}}
	case score >= EavesdropThreshold:
		p.engs.Engage(ev.Observer, "eavesdrop", BystanderSpan, faceTiles)
		return []Command{{
			Type: CommandEavesdrop, NPC: ev.Observer, Speaker: ev.Actor,
			Toward: actorTile, Message: message, Reason: "curious",
		}}
	}
	return nil
}

// scoreInput assembles the social-score inputs from the observer's record
// and the utterance.
func (p *Policy) scoreInput(ev perception.Event, rec world.Record, message string) ScoreInput {
	pers := rec.Personality()
	loc, _ := rec.Location()
	return ScoreInput{
		Curiosity:         pers.Curiosity(),
		Profession:        pers.Profession(),
		InOwnShop:         pers.ShopPlaceID() != "" && pers.ShopPlaceID() == loc.PlaceID,
		DirectlyAddressed: ev.Target == ev.Observer,
		Distance:          ev.Distance,
		VolumeRange:       p.volumeRange(ev.Subtype),
		Message:           message,
		Keywords:          pers.Keywords(),
		Fondness:          pers.Fondness(ev.Actor.String()),
		GossipTendency:    pers.GossipTendency(),
		Suspiciousness:    pers.Suspiciousness(),
		Volume:            ev.Subtype,
	}
}

// volumeRange is how far the utterance's volume carries at all.
func (p *Policy) volumeRange(volume string) float64 {
	def, ok := p.registry.Lookup(action.VerbCommunicate)
	if !ok {
		return 0
	}
	var r float64
	for _, prof := range def.ProfilesFor(volume) {
		if prof.RangeTiles > r {
			r = prof.RangeTiles
		}
	}
	return r
}

// actorTile locates the acting entity for face commands. Falls back to the
// observer's own tile being unusable → skip.
func (p *Policy) actorTile(ctx context.Context, ev perception.Event) (world.Tile, bool) {
	rec, err := store.LoadEntity(ctx, p.store, p.slot, ev.Actor)
	if err != nil {
		return world.Tile{}, false
	}
	loc, ok := rec.Location()
	if !ok {
		return world.Tile{}, false
	}
	return loc.Tile(), true
}

func (p *Policy) engaged(ref world.Ref) bool {
	eng, ok := p.engs.Get(ref)
	return ok && eng.State == StateEngaged
}

// Sweep ages engagements and expires lapsed conversations, returning
// disengage commands for the NPC AI to act on. Run at 1Hz or faster.
func (p *Policy) Sweep(ctx context.Context) []Command {
	var cmds []Command
	for _, tr := range p.engs.Sweep() {
		if !tr.Ended {
			continue
		}
		cmds = append(cmds, Command{
			Type: CommandDisengage, NPC: tr.NPC, FollowUp: true, Reason: "attention lapsed",
		})
	}
	for _, conv := range p.convs.ExpireDue(ctx) {
		cmds = append(cmds, Command{
			Type: CommandDisengage, NPC: conv.NPC, Speaker: conv.Target,
			FollowUp: true, Reason: "timeout",
		})
	}
	return cmds
}

// Service runs the sweep on an interval until ctx ends. Commands are handed
// to sink.
func (p *Policy) Service(ctx context.Context, interval time.Duration, sink func([]Command)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cmds := p.Sweep(ctx); len(cmds) > 0 && sink != nil {
				sink(cmds)
			}
		}
	}
}
