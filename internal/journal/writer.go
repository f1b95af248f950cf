package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/turns"
	"github.com/openweald/weald/internal/world"
	"github.com/openweald/weald/pkg/provider/embeddings"
)

// NotableThreat is the bar an impression must clear to earn a journal entry
// of its own.
const NotableThreat = 70

// Writer turns simulation outcomes into journal entries. It embeds each
// summary through the configured provider when one is present; embedding
// failures degrade the entry to text-only rather than losing it.
type Writer struct {
	store Store
	embed embeddings.Provider // nil means text-only entries
	log   *slog.Logger
	now   func() time.Time
}

// NewWriter creates a writer over store. embed may be nil.
func NewWriter(store Store, embed embeddings.Provider, log *slog.Logger) *Writer {
	return &Writer{store: store, embed: embed, log: log, now: time.Now}
}

// EventEnded writes one entry for the given participant of a finished timed
// event. Its signature matches [turns.JournalHook], so pass the method value
// straight to [turns.NewManager]. Failures are logged; an event ending must
// never propagate a journal error back into the turn manager.
func (w *Writer) EventEnded(ctx context.Context, npc world.Ref, ev turns.TimedEvent, reason turns.EndReason) {
	e := w.entry(ctx, npc, KindEventEnd, eventSummary(npc, ev, reason), 0)
	e.ID = ev.ID + ":" + npc.String()
	if err := w.store.Append(ctx, e); err != nil {
		w.log.Warn("journal: event-end entry dropped", "npc", npc, "event", ev.ID, "error", err)
	}
}

// Observe writes an impression entry when the event is notable: an NPC
// observer, a perceived clarity, and threat at or above [NotableThreat].
// Anything below the bar is silently ignored.
func (w *Writer) Observe(ctx context.Context, ev perception.Event) error {
	if ev.Observer.Kind != world.KindNPC {
		return nil
	}
	if ev.Threat < NotableThreat || !ev.Clarity.Perceived() {
		return nil
	}

	e := w.entry(ctx, ev.Observer, KindImpression, ev.Summary, ev.Threat)
	if ev.ID != "" {
		e.ID = ev.ID
	}
	if !ev.At.IsZero() {
		e.At = ev.At
	}
	return w.store.Append(ctx, e)
}

// Recall returns the NPC's topK entries most relevant to query. With an
// embedding provider the journal is searched by meaning; without one, or
// when embedding the query fails, it falls back to the newest entries.
func (w *Writer) Recall(ctx context.Context, npc world.Ref, query string, topK int) ([]Entry, error) {
	if w.embed == nil {
		return w.store.Recent(ctx, npc, topK)
	}
	vec, err := w.embed.Embed(ctx, query)
	if err != nil {
		w.log.Warn("journal: query embedding failed, falling back to recency",
			"npc", npc, "error", err)
		return w.store.Recent(ctx, npc, topK)
	}
	results, err := w.store.Search(ctx, npc, vec, topK)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(results))
	for i, r := range results {
		entries[i] = r.Entry
	}
	return entries, nil
}

// entry assembles a new Entry, embedding the summary when a provider is
// configured.
func (w *Writer) entry(ctx context.Context, npc world.Ref, kind Kind, summary string, threat float64) Entry {
	e := Entry{
		ID:      uuid.NewString(),
		NPC:     npc,
		Kind:    kind,
		Summary: summary,
		Threat:  threat,
		At:      w.now(),
	}
	if w.embed == nil {
		return e
	}
	vec, err := w.embed.Embed(ctx, summary)
	if err != nil {
		w.log.Warn("journal: summary embedding failed, storing text-only",
			"npc", npc, "kind", kind, "error", err)
		return e
	}
	e.Embedding = vec
	return e
}

// eventSummary renders a finished timed event from one participant's point
// of view.
func eventSummary(npc world.Ref, ev turns.TimedEvent, reason turns.EndReason) string {
	var others []string
	var down bool
	for _, p := range ev.Participants {
		if p.Ref == npc {
			down = p.Down
			continue
		}
		others = append(others, p.Ref.String())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s ended after %d round", ev.Type, ev.Round)
	if ev.Round != 1 {
		b.WriteString("s")
	}
	fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(string(reason), "_", " "))
	if len(others) > 0 {
		fmt.Fprintf(&b, "; with %s", strings.Join(others, ", "))
	}
	if down {
		b.WriteString("; was brought down")
	}
	return b.String()
}
