// Package npcai gives NPCs their behaviour between rulings: it consumes the
// commands the witness policy emits, speaks through a dialogue backend with
// the scripted template table as cache and last resort, turns heads, runs
// the attention sweep, and keeps idle NPCs wandering. Everything an NPC does
// here re-enters the world as an ordinary intent with npc authority, so NPC
// actions face the same pipeline as player ones.
package npcai

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/witness"
	"github.com/openweald/weald/internal/workmem"
	"github.com/openweald/weald/internal/world"
	"github.com/openweald/weald/pkg/provider/dialogue"
)

// DefaultPoll is the command-drain interval.
const DefaultPoll = 1500 * time.Millisecond

// replyTokenCap bounds dialogue replies; NPCs speak in lines, not essays.
const replyTokenCap = 120

// Submitter feeds intents back into the action pipeline.
type Submitter interface {
	Submit(ctx context.Context, in *action.Intent) error
}

// Service is the NPC behaviour loop.
type Service struct {
	submit    Submitter
	store     store.Store
	convs     *witness.Conversations
	engs      *witness.Engagements
	assembler *workmem.Assembler // may be nil
	voice     dialogue.Provider  // may be nil
	scripted  *Scripted
	slot      int
	poll      time.Duration
	log       *slog.Logger

	mu    sync.Mutex
	queue []witness.Command
	goals map[string]world.Tile // wander goal per NPC, for restoration

	randInt func(n int) int
	now     func() time.Time
}

// NewService wires the NPC behaviour loop. assembler and voice may be nil;
// without a voice the scripted table answers everything.
func NewService(sub Submitter, s store.Store, convs *witness.Conversations, engs *witness.Engagements, asm *workmem.Assembler, voice dialogue.Provider, slot int, log *slog.Logger, poll time.Duration) *Service {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Service{
		submit:    sub,
		store:     s,
		convs:     convs,
		engs:      engs,
		assembler: asm,
		voice:     voice,
		scripted:  NewScripted(),
		slot:      slot,
		poll:      poll,
		log:       log,
		goals:     map[string]world.Tile{},
		randInt:   rand.IntN,
		now:       time.Now,
	}
}

// Sink enqueues witness commands; hand it to the pipeline as the command
// sink. Safe for concurrent use.
func (s *Service) Sink(_ context.Context, cmds []witness.Command) {
	s.mu.Lock()
	s.queue = append(s.queue, cmds...)
	s.mu.Unlock()
}

// Run drains commands and ages attention until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass: expire lapsed conversations (restoring what the NPC
// was doing), sweep the engagement table, then handle every queued command.
// Failures are logged per item; the loop never stops.
func (s *Service) Tick(ctx context.Context) {
	for _, conv := range s.convs.ExpireDue(ctx) {
		s.engs.Release(conv.NPC)
		if err := s.restoreGoal(ctx, conv.NPC, conv.PreviousGoal); err != nil {
			s.log.Warn("npcai: goal restore failed", "npc", conv.NPC, "error", err)
		}
	}
	for _, tr := range s.engs.Sweep() {
		s.log.Debug("npcai: attention shifted",
			"npc", tr.NPC, "from", tr.From, "to", tr.To, "ended", tr.Ended)
	}

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, cmd := range pending {
		if err := s.handle(ctx, cmd); err != nil {
			s.log.Warn("npcai: command failed",
				"type", cmd.Type, "npc", cmd.NPC, "error", err)
		}
	}
}

func (s *Service) handle(ctx context.Context, cmd witness.Command) error {
	switch cmd.Type {
	case witness.CommandConverse:
		return s.converse(ctx, cmd)
	case witness.CommandFace:
		return s.face(ctx, cmd)
	case witness.CommandDisengage:
		return s.disengage(ctx, cmd)
	case witness.CommandEavesdrop:
		// The impression is already in perception memory; listening in
		// produces no outward behaviour.
		s.log.Debug("npcai: eavesdropping", "npc", cmd.NPC, "on", cmd.Speaker)
		return nil
	}
	return fault.Newf(fault.Internal, "npcai.handle", "unknown command type %q", cmd.Type)
}

// converse answers speech: template cache first, then the dialogue backend,
// and the NPC's reply re-enters the pipeline as a COMMUNICATE intent.
func (s *Service) converse(ctx context.Context, cmd witness.Command) error {
	npcRec, err := store.LoadEntity(ctx, s.store, s.slot, cmd.NPC)
	if err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.converse", "load %s: %v", cmd.NPC, err)
	}
	loc, ok := npcRec.Location()
	if !ok {
		return fault.Newf(fault.Internal, "npcai.converse", "%s has no location", cmd.NPC)
	}

	speakerName := cmd.Speaker.ID
	if rec, err := store.LoadEntity(ctx, s.store, s.slot, cmd.Speaker); err == nil && rec.Name() != "" {
		speakerName = rec.Name()
	}

	// Entering a conversation pauses whatever the NPC was walking toward.
	if goal, ok := s.goalFor(cmd.NPC); ok {
		s.convs.SaveGoal(cmd.NPC, goalString(goal), "")
	}

	in := action.NewIntent(cmd.NPC, action.VerbCommunicate, map[string]any{
		"target": cmd.Speaker.String(),
		"volume": action.SubtypeTalk,
	}, action.SourceNPC, loc)

	reply, cached := s.scripted.Lookup(cmd.Message, speakerName)
	if !cached {
		req := dialogue.Request{
			Persona:  persona(npcRec, cmd.NPC),
			Briefing: s.briefing(ctx, in),
			Turns: []dialogue.Turn{
				{Speaker: speakerName, Text: cmd.Message},
			},
			MaxTokens: replyTokenCap,
		}
		reply = s.speak(ctx, req)
	}

	in.Parameters["message"] = reply
	if err := s.submit.Submit(ctx, in); err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.converse", "submit reply: %v", err)
	}
	return nil
}

// speak asks the dialogue backend and falls back to the scripted table on
// any failure, so a converse command always produces words.
func (s *Service) speak(ctx context.Context, req dialogue.Request) string {
	if s.voice != nil {
		reply, err := s.voice.Reply(ctx, req)
		if err == nil {
			return reply
		}
		s.log.Warn("npcai: dialogue backend failed, using scripted reply", "error", err)
	}
	reply, err := s.scripted.Reply(ctx, req)
	if err != nil {
		return "Hm."
	}
	return reply
}

// face turns the NPC toward the commanded tile and persists the facing.
func (s *Service) face(ctx context.Context, cmd witness.Command) error {
	rec, err := store.LoadEntity(ctx, s.store, s.slot, cmd.NPC)
	if err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.face", "load %s: %v", cmd.NPC, err)
	}
	loc, ok := rec.Location()
	if !ok {
		return fault.Newf(fault.Internal, "npcai.face", "%s has no location", cmd.NPC)
	}
	if loc.Tile() == cmd.Toward {
		return nil
	}
	rec.SetFacing(world.BearingTo(loc.Tile(), cmd.Toward))
	if err := store.SaveEntity(ctx, s.store, s.slot, cmd.NPC, rec); err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.face", "save %s: %v", cmd.NPC, err)
	}
	return nil
}

// disengage ends the NPC's side of a conversation and puts it back on its
// way. The policy has already torn the conversation table entry down, so the
// saved goal comes from this service's own book-keeping.
func (s *Service) disengage(ctx context.Context, cmd witness.Command) error {
	s.engs.Release(cmd.NPC)
	return s.restoreGoal(ctx, cmd.NPC, "")
}

// restoreGoal resumes the NPC's movement: the conversation's saved goal if
// one survives, this service's own record otherwise, or a fresh wander goal.
func (s *Service) restoreGoal(ctx context.Context, npc world.Ref, savedGoal string) error {
	goal, ok := parseGoal(savedGoal)
	if !ok {
		goal, ok = s.goalFor(npc)
	}
	if !ok {
		return s.Wander(ctx, npc)
	}
	return s.moveTo(ctx, npc, goal)
}

// Wander sends the NPC toward a random tile of its place. Also the idle
// behaviour the host can trigger for ambient life.
func (s *Service) Wander(ctx context.Context, npc world.Ref) error {
	rec, err := store.LoadEntity(ctx, s.store, s.slot, npc)
	if err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.wander", "load %s: %v", npc, err)
	}
	loc, ok := rec.Location()
	if !ok || loc.PlaceID == "" {
		return nil // nowhere to wander
	}
	placeRec, err := s.store.Load(ctx, s.slot, string(world.KindPlace), loc.PlaceID)
	if err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.wander", "load place %s: %v", loc.PlaceID, err)
	}
	place, err := world.PlaceFromRecord(placeRec)
	if err != nil {
		return fault.Newf(fault.ParseError, "npcai.wander", "place %s: %v", loc.PlaceID, err)
	}
	if place.Grid.Width <= 0 || place.Grid.Height <= 0 {
		return nil
	}
	goal := world.Tile{X: s.randInt(place.Grid.Width), Y: s.randInt(place.Grid.Height)}
	if goal == loc.Tile() {
		goal.X = (goal.X + 1) % place.Grid.Width
	}
	return s.moveTo(ctx, npc, goal)
}

func (s *Service) moveTo(ctx context.Context, npc world.Ref, goal world.Tile) error {
	rec, err := store.LoadEntity(ctx, s.store, s.slot, npc)
	if err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.move", "load %s: %v", npc, err)
	}
	loc, ok := rec.Location()
	if !ok {
		return fault.Newf(fault.Internal, "npcai.move", "%s has no location", npc)
	}
	s.mu.Lock()
	s.goals[npc.String()] = goal
	s.mu.Unlock()

	in := action.NewIntent(npc, action.VerbMove, map[string]any{
		"goal_x": goal.X,
		"goal_y": goal.Y,
		"gait":   action.SubtypeWalk,
	}, action.SourceNPC, loc)
	if err := s.submit.Submit(ctx, in); err != nil {
		return fault.Newf(fault.KindOf(err), "npcai.move", "submit move: %v", err)
	}
	return nil
}

func (s *Service) goalFor(npc world.Ref) (world.Tile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	goal, ok := s.goals[npc.String()]
	return goal, ok
}

// briefing renders working memory for the reply prompt; assembly failures
// degrade to no briefing rather than silencing the NPC.
func (s *Service) briefing(ctx context.Context, in *action.Intent) string {
	if s.assembler == nil {
		return ""
	}
	wm, err := s.assembler.Assemble(ctx, in)
	if err != nil {
		s.log.Warn("npcai: briefing assembly failed", "npc", in.ActorRef, "error", err)
		return ""
	}
	return workmem.FormatBriefing(wm, s.now())
}

// persona is the system instruction for the dialogue backend: the record's
// own voice text when present, a serviceable sketch otherwise.
func persona(rec world.Record, ref world.Ref) string {
	if p := rec.Persona(); p != "" {
		return p
	}
	name := rec.Name()
	if name == "" {
		name = ref.ID
	}
	p := fmt.Sprintf("You are %s, a resident of this place. Reply with one short spoken line, in character, with no narration.", name)
	if prof := rec.Personality().Profession(); prof != "" {
		p = fmt.Sprintf("You are %s, a %s. Reply with one short spoken line, in character, with no narration.", name, prof)
	}
	return p
}

func goalString(t world.Tile) string { return fmt.Sprintf("goto:%d,%d", t.X, t.Y) }

func parseGoal(s string) (world.Tile, bool) {
	var t world.Tile
	if _, err := fmt.Sscanf(s, "goto:%d,%d", &t.X, &t.Y); err != nil {
		return world.Tile{}, false
	}
	return t, true
}
