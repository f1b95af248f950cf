package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// Compile-time interface check.
var _ Store = (*PG)(nil)

// PG is a [Store] backed by PostgreSQL with the pgvector extension. Entries
// are rows in journal_entries; the embedding column carries an HNSW index
// for approximate nearest-neighbour recall.
type PG struct {
	db   store.DB
	slot int
	dims int
}

// NewPG creates a journal store over the given connection or pool, scoped to
// one save slot. dims is the embedding dimensionality the schema is created
// with; it must match the configured embedding provider. Call [PG.Migrate]
// once before issuing queries.
func NewPG(db store.DB, slot, dims int) *PG {
	return &PG{db: db, slot: slot, dims: dims}
}

// Migrate creates the vector extension, the journal_entries table and its
// indexes if they do not already exist.
func (p *PG) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS journal_entries (
    id        TEXT PRIMARY KEY,
    slot      INTEGER NOT NULL,
    npc       TEXT NOT NULL,
    kind      TEXT NOT NULL,
    summary   TEXT NOT NULL,
    threat    DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding vector(%d),
    at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_npc ON journal_entries(slot, npc, at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_embedding ON journal_entries
    USING hnsw (embedding vector_cosine_ops);
`, p.dims)
	if _, err := p.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Append implements [Store]. Conflicting IDs are left untouched, so a
// retried write never duplicates an entry.
func (p *PG) Append(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO journal_entries (id, slot, npc, kind, summary, threat, embedding, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	var vec any
	if len(e.Embedding) > 0 {
		vec = pgvector.NewVector(e.Embedding)
	}
	_, err := p.db.Exec(ctx, q,
		e.ID, p.slot, e.NPC.String(), string(e.Kind), e.Summary, e.Threat, vec, e.At)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (p *PG) Recent(ctx context.Context, npc world.Ref, limit int) ([]Entry, error) {
	q := `
		SELECT id, npc, kind, summary, threat, embedding, at
		FROM   journal_entries
		WHERE  slot = $1 AND npc = $2
		ORDER  BY at DESC`
	args := []any{p.slot, npc.String()}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\n\t\tLIMIT  $%d", len(args))
	}

	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: scan: %w", err)
	}
	return out, nil
}

// Search implements [Store] using pgvector's cosine distance operator over
// the HNSW index.
func (p *PG) Search(ctx context.Context, npc world.Ref, embedding []float32, topK int) ([]Result, error) {
	const q = `
		SELECT id, npc, kind, summary, threat, embedding, at,
		       embedding <=> $1 AS distance
		FROM   journal_entries
		WHERE  slot = $2 AND npc = $3 AND embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $4`

	rows, err := p.db.Query(ctx, q, pgvector.NewVector(embedding), p.slot, npc.String(), topK)
	if err != nil {
		return nil, fmt.Errorf("journal: search: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var (
			r    Result
			refS string
			vec  *pgvector.Vector
		)
		if err := row.Scan(&r.ID, &refS, &r.Kind, &r.Summary, &r.Threat, &vec, &r.At, &r.Distance); err != nil {
			return Result{}, err
		}
		ref, err := world.ParseRef(refS)
		if err != nil {
			return Result{}, err
		}
		r.NPC = ref
		if vec != nil {
			r.Embedding = vec.Slice()
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: search: scan: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e    Entry
		refS string
		vec  *pgvector.Vector
	)
	if err := row.Scan(&e.ID, &refS, &e.Kind, &e.Summary, &e.Threat, &vec, &e.At); err != nil {
		return Entry{}, err
	}
	ref, err := world.ParseRef(refS)
	if err != nil {
		return Entry{}, err
	}
	e.NPC = ref
	if vec != nil {
		e.Embedding = vec.Slice()
	}
	return e, nil
}
