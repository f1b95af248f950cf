// Package workmem assembles the short-lived situational context an intent
// needs while it moves through the pipeline: the actor's own record, the
// target, the place, who else is around, and what the actor recently
// perceived. What gets loaded is decided per verb by a static relevance
// table, never by the caller — an ATTACK briefing and a WAIT briefing differ
// because their table rows differ.
//
// The store-backed pieces are fetched concurrently; in-process state
// (perception memory, conversation tables) is read after the fan-in settles.
// Use [FormatBriefing] to render a [WorkingMemory] as prompt-ready text.
package workmem

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/witness"
	"github.com/openweald/weald/internal/world"
)

// DefaultRecallWindow bounds how far back Assemble looks when recalling the
// actor's perception memory.
const DefaultRecallWindow = 2 * time.Minute

// WorkingMemory is the assembled context for one intent. Fields outside
// Actor are populated only when the verb's relevance row asked for them;
// callers check for zero values before using.
type WorkingMemory struct {
	ActorRef  world.Ref
	ActorVerb action.Verb

	// Actor is always loaded; assembly fails without it.
	Actor world.Record

	// Target is the target entity's record, nil when the intent has no
	// target, the row did not ask for one, or the target is gone.
	Target world.Record

	// Place describes the actor's current place, nil when not requested.
	Place *world.Place

	// Occupants lists everyone the place-entity index has at the actor's
	// location, the actor excluded.
	Occupants []world.Ref

	// Recent holds the actor's recalled perceptions, newest last.
	Recent []perception.Event

	// Conversation is the actor's live conversation, nil when absent.
	Conversation *witness.Conversation

	// Relevance is the table row assembly was driven by.
	Relevance Relevance

	// AssemblyDuration records how long Assemble took.
	AssemblyDuration time.Duration
}

// Assembler loads working memory for intents. Store reads fan out under an
// errgroup; a missing target or place degrades the result instead of failing
// it, since stale refs are routine mid-combat.
type Assembler struct {
	store         store.Store
	index         *store.PlaceIndex
	memory        *perception.Memory
	conversations *witness.Conversations
	slot          int
	recallWindow  time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRecallWindow sets how far back perception recall reaches.
func WithRecallWindow(d time.Duration) Option {
	return func(a *Assembler) { a.recallWindow = d }
}

// NewAssembler wires an Assembler. memory and conversations may be nil when
// the caller has no perception or witness layer to draw from; the matching
// relevance fields then stay empty.
func NewAssembler(s store.Store, ix *store.PlaceIndex, mem *perception.Memory, convs *witness.Conversations, slot int, log *slog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		store:         s,
		index:         ix,
		memory:        mem,
		conversations: convs,
		slot:          slot,
		recallWindow:  DefaultRecallWindow,
		log:           log.With("component", "workmem"),
		now:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble builds the working memory for one intent. The actor record, the
// target record and the place (with its index entry) are fetched
// concurrently; perception recall and conversation state are read from
// in-process tables afterwards. Only a failed actor load aborts assembly —
// a vanished target or an unindexed place leaves its field empty.
func (a *Assembler) Assemble(ctx context.Context, in *action.Intent) (*WorkingMemory, error) {
	const op = "workmem: assemble"
	start := a.now()
	rel := RelevanceFor(in.Verb)

	wm := &WorkingMemory{
		ActorRef:  in.ActorRef,
		ActorVerb: in.Verb,
		Relevance: rel,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		rec, err := store.LoadEntity(egCtx, a.store, a.slot, in.ActorRef)
		if err != nil {
			return fault.Newf(fault.KindOf(err), op, "actor %s: %v", in.ActorRef, err)
		}
		wm.Actor = rec
		return nil
	})

	if rel.Target && !in.TargetRef.IsZero() {
		eg.Go(func() error {
			rec, err := store.LoadEntity(egCtx, a.store, a.slot, in.TargetRef)
			if err != nil {
				if fault.Is(err, fault.NotFound) {
					a.log.Debug("target gone, assembling without it",
						"intent_id", in.ID, "target", in.TargetRef.String())
					return nil
				}
				return fault.Newf(fault.KindOf(err), op, "target %s: %v", in.TargetRef, err)
			}
			wm.Target = rec
			return nil
		})
	}

	if (rel.Place || rel.Occupants) && in.ActorLocation.PlaceID != "" {
		eg.Go(func() error {
			return a.loadSurroundings(egCtx, in, rel, wm)
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if rel.Recent && a.memory != nil {
		q := rel.RecentQuery
		if q.Since.IsZero() {
			q.Since = start.Add(-a.recallWindow)
		}
		wm.Recent = a.memory.Recall(in.ActorRef, q)
	}
	if rel.Conversation && a.conversations != nil {
		if conv, ok := a.conversations.Get(in.ActorRef); ok {
			wm.Conversation = &conv
		}
	}

	wm.AssemblyDuration = a.now().Sub(start)
	return wm, nil
}

// loadSurroundings fills Place and Occupants from the store and the
// place-entity index. An unknown place is tolerated; an index read failure
// is not, because a present place with unreadable population means the slot
// is corrupt.
func (a *Assembler) loadSurroundings(ctx context.Context, in *action.Intent, rel Relevance, wm *WorkingMemory) error {
	const op = "workmem: surroundings"
	placeID := in.ActorLocation.PlaceID

	if rel.Place {
		rec, err := a.store.Load(ctx, a.slot, store.KindPlace, placeID)
		switch {
		case fault.Is(err, fault.NotFound):
			a.log.Debug("place record missing", "intent_id", in.ID, "place_id", placeID)
		case err != nil:
			return fault.Newf(fault.KindOf(err), op, "place %q: %v", placeID, err)
		default:
			p, perr := world.PlaceFromRecord(rec)
			if perr != nil {
				return fault.Newf(fault.ParseError, op, "place %q: %v", placeID, perr)
			}
			wm.Place = &p
		}
	}

	if rel.Occupants && a.index != nil {
		entry, err := a.index.Entry(ctx, placeID)
		if err != nil {
			return fault.Newf(fault.KindOf(err), op, "index %q: %v", placeID, err)
		}
		for _, raw := range append(append([]string{}, entry.NPCs...), entry.Actors...) {
			ref, perr := world.ParseRef(raw)
			if perr != nil || ref == in.ActorRef {
				continue
			}
			wm.Occupants = append(wm.Occupants, ref)
		}
	}
	return nil
}
