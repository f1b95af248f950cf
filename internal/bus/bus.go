package bus

import (
	"context"
	"time"

	"github.com/openweald/weald/internal/fault"
)

// Log is one append-only ordered message log. Implementations serialise all
// writes against each other: a reader never observes a partial envelope and
// two concurrent status updates cannot clobber one another.
//
// Operations that lose the serialisation race return a lock_timeout fault;
// callers going through [Bus] get bounded retry for free.
type Log interface {
	// Append adds env to the end of the log. The envelope id must be unique
	// within the log.
	Append(ctx context.Context, env Envelope) error

	// ReadAll returns every envelope in append order. The result is a
	// snapshot; mutating it does not affect the log.
	ReadAll(ctx context.Context) ([]Envelope, error)

	// UpdateStatus advances the envelope's lifecycle. Transitions not
	// admitted by [CanTransition] fail with an invalid_transition fault;
	// unknown ids fail with not_found.
	UpdateStatus(ctx context.Context, id string, to Status) error

	// Prune drops old envelopes of the given correlation, retaining the most
	// recent keepLast envelopes of each stage family.
	Prune(ctx context.Context, correlationID string, keepLast int) error
}

// KeepLastPerFamily is the retention floor for [Log.Prune]: pruning keeps at
// least this many envelopes of each stage family per correlation.
const KeepLastPerFamily = 10

// Lock-contention retry policy. An operation that keeps losing the log lock
// is retried with exponential backoff; when the attempts are exhausted the
// failure surfaces as internal rather than lock_timeout, because at that
// point waiting longer will not help.
const (
	maxLockAttempts = 10
	lockBackoffBase = 5 * time.Millisecond
)

// Bus bundles the two logs of one session run.
type Bus struct {
	// SessionID scopes all traffic; envelopes from other sessions are
	// invisible through the Bus helpers.
	SessionID string

	// Inbox is the player/world-facing log.
	Inbox Log

	// Outbox is the inter-service log.
	Outbox Log
}

// NewBus wraps the two logs under one session id.
func NewBus(sessionID string, inbox, outbox Log) *Bus {
	return &Bus{SessionID: sessionID, Inbox: inbox, Outbox: outbox}
}

// Publish stamps the bus session onto env and appends it to the Outbox.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	env.SessionID = b.SessionID
	return withLockRetry(ctx, func() error {
		return b.Outbox.Append(ctx, env)
	})
}

// Notify stamps the bus session onto env and appends it to the Inbox.
func (b *Bus) Notify(ctx context.Context, env Envelope) error {
	env.SessionID = b.SessionID
	return withLockRetry(ctx, func() error {
		return b.Inbox.Append(ctx, env)
	})
}

// Advance moves the outbox envelope to the given status, retrying contention.
func (b *Bus) Advance(ctx context.Context, id string, to Status) error {
	return withLockRetry(ctx, func() error {
		return b.Outbox.UpdateStatus(ctx, id, to)
	})
}

// Snapshot returns all outbox envelopes belonging to the bus session, in
// append order. Envelopes from other sessions are silently dropped: stale
// traffic from a previous run is expected after a restart, not an error.
func (b *Bus) Snapshot(ctx context.Context) ([]Envelope, error) {
	var envs []Envelope
	err := withLockRetry(ctx, func() error {
		var err error
		envs, err = b.Outbox.ReadAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	kept := envs[:0]
	for _, e := range envs {
		if e.SessionID == b.SessionID {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// Pending returns the session's outbox envelopes of one stage family holding
// any of the given statuses, in append order. With no statuses it returns
// the whole family.
func (b *Bus) Pending(ctx context.Context, family string, statuses ...Status) ([]Envelope, error) {
	envs, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return WithStatus(ByFamily(envs, family), statuses...), nil
}

// Compact prunes the correlation on the outbox down to the retention floor.
func (b *Bus) Compact(ctx context.Context, correlationID string) error {
	return withLockRetry(ctx, func() error {
		return b.Outbox.Prune(ctx, correlationID, KeepLastPerFamily)
	})
}

// CheckSession verifies that env belongs to this bus's session. Services
// call it before acting on an envelope addressed to them directly.
func (b *Bus) CheckSession(env Envelope) error {
	if env.SessionID != b.SessionID {
		return fault.Newf(fault.SessionMismatch, "bus: check session",
			"envelope %s carries session %q, running session is %q",
			env.ID, env.SessionID, b.SessionID)
	}
	return nil
}

// withLockRetry runs op, retrying lock_timeout faults with bounded
// exponential backoff. Exhausted retries surface as internal.
func withLockRetry(ctx context.Context, op func() error) error {
	backoff := lockBackoffBase
	var err error
	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		err = op()
		if err == nil || !fault.Is(err, fault.LockTimeout) {
			return err
		}
		if attempt == maxLockAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.Timeout, "bus: lock retry", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return &fault.Error{Kind: fault.Internal, Op: "bus: lock retry",
		Msg: "log still contended after retries", Err: err}
}

// ─────────────────────────────────────────────────────────────────────────────
// Snapshot filters
// ─────────────────────────────────────────────────────────────────────────────

// ByCorrelation returns the envelopes carrying the given correlation id,
// preserving order.
func ByCorrelation(envs []Envelope, correlationID string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// ByFamily returns the envelopes of one stage family, preserving order.
func ByFamily(envs []Envelope, family string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.Family() == family {
			out = append(out, e)
		}
	}
	return out
}

// WithStatus returns the envelopes holding any of the given statuses,
// preserving order. An empty status list matches everything.
func WithStatus(envs []Envelope, statuses ...Status) []Envelope {
	if len(statuses) == 0 {
		return envs
	}
	var out []Envelope
	for _, e := range envs {
		for _, s := range statuses {
			if e.Status == s {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// MaxIteration returns the highest stage iteration among envelopes of the
// given family, 0 when the family is absent.
func MaxIteration(envs []Envelope, family string) int {
	max := 0
	for _, e := range envs {
		if f, k := ParseStage(e.Stage); f == family && k > max {
			max = k
		}
	}
	return max
}

// FindByID returns the envelope with the given id, if present.
func FindByID(envs []Envelope, id string) (Envelope, bool) {
	for _, e := range envs {
		if e.ID == id {
			return e, true
		}
	}
	return Envelope{}, false
}
