// Package witness turns perceptions into NPC behaviour without a language
// model in the loop: a rule policy decides whether an observer joins a
// conversation, eavesdrops, turns to look, or ignores what it noticed.
// Conversation and engagement state live here; the NPC AI layer consumes the
// commands this package emits.
package witness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// Attention spans: how long an NPC stays in a conversation without a new
// message before drifting off.
const (
	ParticipantSpan = 30 * time.Second
	BystanderSpan   = 20 * time.Second
)

// Conversation is one NPC's side of an exchange. PreviousGoal and
// PreviousPathState snapshot what the NPC was doing so ending the
// conversation can restore it.
type Conversation struct {
	NPC          world.Ref
	Target       world.Ref
	Participants []world.Ref

	PreviousGoal      string
	PreviousPathState string

	StartedAt    time.Time
	TimeoutAt    time.Time
	LastActivity time.Time
}

// Conversations tracks every live conversation by NPC and mirrors presence
// into the store so other services (movement, NPC AI) can see who is held in
// talk. The in-memory table is authoritative; the persisted mirror is
// best-effort.
type Conversations struct {
	mu       sync.Mutex
	byNPC    map[string]*Conversation
	presence *store.Presence // may be nil
	log      *slog.Logger
	now      func() time.Time
}

// NewConversations returns an empty conversation table. presence may be nil
// when no cross-service mirror is wanted.
func NewConversations(presence *store.Presence, log *slog.Logger) *Conversations {
	return &Conversations{
		byNPC:    map[string]*Conversation{},
		presence: presence,
		log:      log,
		now:      time.Now,
	}
}

// StartOrExtend begins a conversation between npc and speaker, or renews the
// attention window of the existing one. The span is the npc's attention span
// for this exchange.
func (c *Conversations) StartOrExtend(ctx context.Context, npc, speaker world.Ref, span time.Duration) *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	conv, ok := c.byNPC[npc.String()]
	if !ok {
		conv = &Conversation{
			NPC:          npc,
			Target:       speaker,
			Participants: []world.Ref{npc, speaker},
			StartedAt:    now,
		}
		c.byNPC[npc.String()] = conv
	}
	conv.LastActivity = now
	conv.TimeoutAt = now.Add(span)
	if !hasRef(conv.Participants, speaker) {
		conv.Participants = append(conv.Participants, speaker)
	}
	c.mirror(ctx, npc, conv)
	return conv
}

// SaveGoal snapshots what the NPC was doing before the conversation, for
// restoration on end. A no-op when the NPC is not conversing.
func (c *Conversations) SaveGoal(npc world.Ref, goal, pathState string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.byNPC[npc.String()]; ok && conv.PreviousGoal == "" {
		conv.PreviousGoal = goal
		conv.PreviousPathState = pathState
	}
}

// Active reports whether npc is currently held in a live conversation.
func (c *Conversations) Active(npc world.Ref) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byNPC[npc.String()]
	return ok && c.now().Before(conv.TimeoutAt)
}

// Get returns npc's conversation, if any.
func (c *Conversations) Get(npc world.Ref) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byNPC[npc.String()]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// End terminates npc's conversation and returns it so the caller can restore
// the saved goal. Ending an absent conversation reports false.
func (c *Conversations) End(ctx context.Context, npc world.Ref, reason string) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLocked(ctx, npc, reason)
}

// ExpireDue ends every conversation whose attention window has lapsed and
// returns them, oldest first. Run from the engagement sweep.
func (c *Conversations) ExpireDue(ctx context.Context) []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var ended []Conversation
	for key, conv := range c.byNPC {
		if now.Before(conv.TimeoutAt) {
			continue
		}
		ref, err := world.ParseRef(key)
		if err != nil {
			delete(c.byNPC, key)
			continue
		}
		if done, ok := c.endLocked(ctx, ref, "timeout"); ok {
			ended = append(ended, done)
		}
	}
	return ended
}

func (c *Conversations) endLocked(ctx context.Context, npc world.Ref, reason string) (Conversation, bool) {
	key := npc.String()
	conv, ok := c.byNPC[key]
	if !ok {
		return Conversation{}, false
	}
	delete(c.byNPC, key)
	if c.presence != nil {
		if err := c.presence.Clear(ctx, npc); err != nil {
			c.log.Warn("witness: presence clear failed", "npc", key, "error", err)
		}
	}
	c.log.Info("conversation ended", "npc", key, "with", conv.Target.String(), "reason", reason)
	return *conv, true
}

func (c *Conversations) mirror(ctx context.Context, npc world.Ref, conv *Conversation) {
	if c.presence == nil {
		return
	}
	if err := c.presence.Mark(ctx, npc, conv.Target.String(), conv.TimeoutAt); err != nil {
		c.log.Warn("witness: presence mark failed", "npc", npc.String(), "error", err)
	}
}

func hasRef(list []world.Ref, ref world.Ref) bool {
	for _, r := range list {
		if r == ref {
			return true
		}
	}
	return false
}
