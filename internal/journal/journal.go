// Package journal is the long-term memory of NPCs. While perception keeps a
// short bounded window of raw impressions, the journal holds the durable
// residue: one entry per NPC when a timed event they took part in ends, and
// one for any impression alarming enough to stick. Entries carry an optional
// embedding vector so recall can rank by meaning rather than recency alone.
package journal

import (
	"context"
	"time"

	"github.com/openweald/weald/internal/world"
)

// Kind classifies what produced a journal entry.
type Kind string

const (
	// KindEventEnd records the conclusion of a timed event the NPC was in.
	KindEventEnd Kind = "event_end"

	// KindImpression records a single perceived action that crossed the
	// notable-threat bar.
	KindImpression Kind = "impression"
)

// Entry is one durable memory belonging to one NPC.
type Entry struct {
	ID      string
	NPC     world.Ref
	Kind    Kind
	Summary string

	// Threat is carried over from the originating impression; event-end
	// entries leave it zero.
	Threat float64

	// Embedding is the vector for Summary; empty when no embedding
	// provider was available at write time.
	Embedding []float32

	At time.Time
}

// Result is one entry returned by a similarity search, with its cosine
// distance to the query vector. Smaller is closer.
type Result struct {
	Entry
	Distance float64
}

// Store persists journal entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append writes one entry. Appending an ID that already exists is a
	// no-op, so retried writes stay idempotent.
	Append(ctx context.Context, e Entry) error

	// Recent returns the NPC's newest entries, newest first, at most
	// limit of them. limit <= 0 means no bound.
	Recent(ctx context.Context, npc world.Ref, limit int) ([]Entry, error)

	// Search returns the topK entries whose embeddings are nearest to the
	// query vector by cosine distance, closest first. Entries without an
	// embedding are never returned.
	Search(ctx context.Context, npc world.Ref, embedding []float32, topK int) ([]Result, error)
}
