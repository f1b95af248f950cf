package store

import (
	"context"
	"sync"
	"time"

	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/world"
)

// presenceRecordID is the single record the whole presence table persists
// under; the table is small (one row per conversing NPC) and read whole.
const presenceRecordID = "conversations"

// PresenceEntry marks one NPC as held in conversation. Cross-service
// consumers (the movement engine, the NPC AI) check it before issuing goals
// that would walk an NPC out of a conversation.
type PresenceEntry struct {
	TargetEntity string
	TimeoutAt    time.Time
}

// Presence is the conversation-presence table: npc_ref → who they are talking
// to and until when. Entries expire passively; readers treat a past
// TimeoutAt as absence.
type Presence struct {
	mu    sync.Mutex
	store Store
	slot  int
}

// NewPresence returns the presence table of one slot.
func NewPresence(s Store, slot int) *Presence {
	return &Presence{store: s, slot: slot}
}

// Mark records that npcRef is conversing with target until timeoutAt,
// replacing any previous entry for the NPC.
func (p *Presence) Mark(ctx context.Context, npcRef world.Ref, target string, timeoutAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	table, err := p.load(ctx)
	if err != nil {
		return err
	}
	table[npcRef.String()] = map[string]any{
		"target_entity": target,
		"timeout_at_ms": timeoutAt.UnixMilli(),
	}
	return p.save(ctx, table)
}

// Clear removes npcRef's entry. Clearing an absent entry is a no-op.
func (p *Presence) Clear(ctx context.Context, npcRef world.Ref) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	table, err := p.load(ctx)
	if err != nil {
		return err
	}
	key := npcRef.String()
	if _, ok := table[key]; !ok {
		return nil
	}
	delete(table, key)
	return p.save(ctx, table)
}

// Lookup returns npcRef's live entry. Expired entries read as absent.
func (p *Presence) Lookup(ctx context.Context, npcRef world.Ref, now time.Time) (PresenceEntry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	table, err := p.load(ctx)
	if err != nil {
		return PresenceEntry{}, false, err
	}
	raw, ok := table[npcRef.String()].(map[string]any)
	if !ok {
		return PresenceEntry{}, false, nil
	}
	entry := decodePresence(raw)
	if !now.Before(entry.TimeoutAt) {
		return PresenceEntry{}, false, nil
	}
	return entry, true, nil
}

func (p *Presence) load(ctx context.Context) (map[string]any, error) {
	rec, err := p.store.Load(ctx, p.slot, KindPresence, presenceRecordID)
	if err != nil {
		if fault.Is(err, fault.NotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return map[string]any(rec), nil
}

func (p *Presence) save(ctx context.Context, table map[string]any) error {
	return p.store.Save(ctx, p.slot, KindPresence, presenceRecordID, world.Record(table))
}

func decodePresence(m map[string]any) PresenceEntry {
	entry := PresenceEntry{}
	if s, ok := m["target_entity"].(string); ok {
		entry.TargetEntity = s
	}
	switch ms := m["timeout_at_ms"].(type) {
	case int64:
		entry.TimeoutAt = time.UnixMilli(ms)
	case float64:
		entry.TimeoutAt = time.UnixMilli(int64(ms))
	}
	return entry
}
