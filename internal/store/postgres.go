package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/world"
)

// Schema is the SQL DDL for the world_records table. Execute it via
// [PG.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS world_records (
    slot       INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    id         TEXT NOT NULL,
    record     JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (slot, kind, id)
);
CREATE INDEX IF NOT EXISTS idx_world_records_kind ON world_records(slot, kind);
CREATE INDEX IF NOT EXISTS idx_world_records_name ON world_records((record->>'name'));
`

// DB is the database interface used by [PG]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ Store = (*PG)(nil)

// PG is a [Store] backed by a PostgreSQL database. Records are stored whole
// as JSONB rows keyed by (slot, kind, id).
type PG struct {
	db DB
}

// NewPG creates a store over the given connection or pool. Call
// [PG.Migrate] once before issuing queries.
func NewPG(db DB) *PG {
	return &PG{db: db}
}

// Migrate executes the [Schema] DDL, creating the world_records table and
// indexes if they do not already exist.
func (s *PG) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Load implements [Store].
func (s *PG) Load(ctx context.Context, slot int, kind, id string) (world.Record, error) {
	const query = `SELECT record FROM world_records WHERE slot = $1 AND kind = $2 AND id = $3`

	var raw []byte
	err := s.db.QueryRow(ctx, query, slot, kind, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "store: load", "no %s record %q in slot %d", kind, id, slot)
		}
		return nil, classifyPG("store: load", err)
	}

	var rec world.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: load %s/%s: unmarshal record: %w", kind, id, err)
	}
	return rec, nil
}

// Save implements [Store].
func (s *PG) Save(ctx context.Context, slot int, kind, id string, rec world.Record) error {
	if id == "" {
		return fault.New(fault.Internal, "store: save", "record id is empty")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: save %s/%s: marshal record: %w", kind, id, err)
	}

	const query = `
		INSERT INTO world_records (slot, kind, id, record)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slot, kind, id) DO UPDATE SET
			record = EXCLUDED.record,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, slot, kind, id, raw); err != nil {
		return classifyPG("store: save", err)
	}
	return nil
}

// Delete implements [Store].
func (s *PG) Delete(ctx context.Context, slot int, kind, id string) error {
	const query = `DELETE FROM world_records WHERE slot = $1 AND kind = $2 AND id = $3`
	if _, err := s.db.Exec(ctx, query, slot, kind, id); err != nil {
		return classifyPG("store: delete", err)
	}
	return nil
}

// List implements [Store]. Filtering happens in SQL where the predicate maps
// onto a JSONB operator, so large slots never round-trip whole.
func (s *PG) List(ctx context.Context, slot int, kind string, filter Filter) ([]string, error) {
	query := `SELECT id FROM world_records WHERE slot = $1 AND kind = $2`
	args := []any{slot, kind}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		query += fmt.Sprintf(` AND record->'tags' ? $%d`, len(args))
	}
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += fmt.Sprintf(` AND lower(record->>'name') = lower($%d)`, len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPG("store: list", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return ids, nil
}

// classifyPG maps PostgreSQL failures onto fault kinds: lock-contention
// SQLSTATEs (55P03 lock_not_available, 40P01 deadlock_detected) become
// lock_timeout so the bus-style retry applies; everything else is internal.
func classifyPG(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01":
			return fault.Wrap(fault.LockTimeout, op, err)
		}
	}
	return fault.Wrap(fault.Internal, op, err)
}
