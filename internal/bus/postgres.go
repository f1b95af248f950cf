package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openweald/weald/internal/fault"
)

// Schema is the SQL DDL for the bus_envelopes table. Both logs of a session
// share the table, discriminated by the log column; seq provides append
// order.
const Schema = `
CREATE TABLE IF NOT EXISTS bus_envelopes (
    seq            BIGSERIAL PRIMARY KEY,
    log            TEXT NOT NULL,
    id             TEXT NOT NULL UNIQUE,
    sender         TEXT NOT NULL,
    content        TEXT NOT NULL DEFAULT '',
    stage          TEXT NOT NULL,
    family         TEXT NOT NULL,
    status         TEXT NOT NULL,
    reply_to       TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    session_id     TEXT NOT NULL,
    meta           JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_bus_envelopes_log_seq ON bus_envelopes(log, seq);
CREATE INDEX IF NOT EXISTS idx_bus_envelopes_correlation ON bus_envelopes(log, correlation_id, family);
`

// DB is the database interface used by [PGLog]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Compile-time interface check.
var _ Log = (*PGLog)(nil)

// PGLog is a [Log] backed by a PostgreSQL table. Append order comes from a
// BIGSERIAL sequence; status updates take a row lock with NOWAIT so
// contention surfaces as lock_timeout instead of queueing, matching the
// [MemLog] contract.
type PGLog struct {
	db  DB
	log string
}

// NewPGLog creates a log view over db discriminated by name ("inbox" or
// "outbox"). The caller is responsible for running [Migrate] first.
func NewPGLog(db DB, name string) *PGLog {
	return &PGLog{db: db, log: name}
}

// Migrate executes the [Schema] DDL, creating the bus_envelopes table and
// indexes if they do not already exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("bus: migrate: %w", err)
	}
	return nil
}

// NewPGBus connects to PostgreSQL at dsn, runs [Migrate], and returns a
// [Bus] whose Inbox and Outbox are both backed by the database. The returned
// close function releases the pool.
func NewPGBus(ctx context.Context, dsn, sessionID string) (*Bus, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bus: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	b := NewBus(sessionID, NewPGLog(pool, "inbox"), NewPGLog(pool, "outbox"))
	return b, pool.Close, nil
}

// Append implements [Log].
func (l *PGLog) Append(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return fault.Wrap(fault.Internal, "bus: append", err)
	}
	metaJSON, err := json.Marshal(cloneMeta(env.Meta))
	if err != nil {
		return fault.Wrap(fault.Internal, "bus: append", fmt.Errorf("marshal meta: %w", err))
	}

	const q = `
		INSERT INTO bus_envelopes
		    (log, id, sender, content, stage, family, status, reply_to, correlation_id, session_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = l.db.Exec(ctx, q,
		l.log, env.ID, env.Sender, env.Content, env.Stage, env.Family(),
		string(env.Status), env.ReplyTo, env.CorrelationID, env.SessionID, metaJSON,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fault.Newf(fault.Internal, "bus: append", "envelope %s already on the log", env.ID)
		}
		return fault.Wrap(fault.Internal, "bus: append", err)
	}
	return nil
}

// ReadAll implements [Log].
func (l *PGLog) ReadAll(ctx context.Context) ([]Envelope, error) {
	const q = `
		SELECT id, sender, content, stage, status, reply_to, correlation_id, session_id, meta
		FROM   bus_envelopes
		WHERE  log = $1
		ORDER  BY seq`

	rows, err := l.db.Query(ctx, q, l.log)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "bus: read all", err)
	}
	envs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Envelope, error) {
		var (
			e        Envelope
			status   string
			metaJSON []byte
		)
		if err := row.Scan(
			&e.ID, &e.Sender, &e.Content, &e.Stage, &status,
			&e.ReplyTo, &e.CorrelationID, &e.SessionID, &metaJSON,
		); err != nil {
			return Envelope{}, err
		}
		e.Status = Status(status)
		if err := json.Unmarshal(metaJSON, &e.Meta); err != nil {
			return Envelope{}, fmt.Errorf("unmarshal meta of %s: %w", e.ID, err)
		}
		return e, nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "bus: read all", err)
	}
	if envs == nil {
		envs = []Envelope{}
	}
	return envs, nil
}

// UpdateStatus implements [Log]. The current status is read under FOR UPDATE
// NOWAIT: a row already claimed by another service reports lock_timeout
// immediately instead of blocking the poll loop.
func (l *PGLog) UpdateStatus(ctx context.Context, id string, to Status) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fault.Wrap(fault.Internal, "bus: update status", err)
	}
	defer tx.Rollback(ctx)

	const sel = `SELECT status FROM bus_envelopes WHERE log = $1 AND id = $2 FOR UPDATE NOWAIT`
	var current string
	if err := tx.QueryRow(ctx, sel, l.log, id).Scan(&current); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return fault.Newf(fault.NotFound, "bus: update status", "no envelope %s", id)
		case isLockNotAvailable(err):
			return fault.Newf(fault.LockTimeout, "bus: update status", "envelope %s row locked", id)
		}
		return fault.Wrap(fault.Internal, "bus: update status", err)
	}

	from := Status(current)
	if !CanTransition(from, to) {
		return fault.Newf(fault.InvalidTransition, "bus: update status",
			"envelope %s: %s → %s", id, from, to)
	}

	const upd = `UPDATE bus_envelopes SET status = $3 WHERE log = $1 AND id = $2`
	if _, err := tx.Exec(ctx, upd, l.log, id, string(to)); err != nil {
		return fault.Wrap(fault.Internal, "bus: update status", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fault.Wrap(fault.Internal, "bus: update status", err)
	}
	return nil
}

// Prune implements [Log]. A window function ranks each correlation's
// envelopes per family by recency; rows beyond the retention floor are
// deleted in one statement.
func (l *PGLog) Prune(ctx context.Context, correlationID string, keepLast int) error {
	if keepLast < 1 {
		return fault.Newf(fault.Internal, "bus: prune", "keepLast must be positive, got %d", keepLast)
	}

	const q = `
		DELETE FROM bus_envelopes
		WHERE  log = $1 AND correlation_id = $2 AND seq IN (
		    SELECT seq FROM (
		        SELECT seq, row_number() OVER (PARTITION BY family ORDER BY seq DESC) AS rn
		        FROM   bus_envelopes
		        WHERE  log = $1 AND correlation_id = $2
		    ) ranked
		    WHERE rn > $3
		)`

	if _, err := l.db.Exec(ctx, q, l.log, correlationID, keepLast); err != nil {
		return fault.Wrap(fault.Internal, "bus: prune", err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isLockNotAvailable checks whether a PostgreSQL error is a NOWAIT lock
// failure (SQLSTATE 55P03).
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "55P03"
	}
	return false
}
