package bus

import (
	"context"
	"sync"
	"time"

	"github.com/openweald/weald/internal/fault"
)

// Compile-time interface check.
var _ Log = (*MemLog)(nil)

// MemLog is an in-memory [Log]. It is the default backend when no database
// is configured and the backend of choice in tests.
//
// A single coarse mutex serialises the whole log. Acquisition is bounded: a
// caller that cannot take the lock within a few short spins gets a
// lock_timeout fault instead of queueing forever, which keeps service loops
// responsive and exercises the same retry path the PostgreSQL backend needs.
type MemLog struct {
	mu      sync.Mutex
	entries []Envelope
	byID    map[string]int
}

// NewMemLog returns an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{byID: map[string]int{}}
}

// acquire takes the log lock, giving up after a handful of spins so the
// bus-level retry can apply its own backoff.
func (l *MemLog) acquire(ctx context.Context) error {
	const spins = 5
	wait := time.Millisecond
	for i := 0; i < spins; i++ {
		if l.mu.TryLock() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.Timeout, "bus: memlog acquire", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fault.New(fault.LockTimeout, "bus: memlog acquire", "log lock contended")
}

// Append implements [Log].
func (l *MemLog) Append(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return fault.Wrap(fault.Internal, "bus: append", err)
	}
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()

	if _, exists := l.byID[env.ID]; exists {
		return fault.Newf(fault.Internal, "bus: append", "envelope %s already on the log", env.ID)
	}
	l.byID[env.ID] = len(l.entries)
	l.entries = append(l.entries, env.clone())
	return nil
}

// ReadAll implements [Log].
func (l *MemLog) ReadAll(ctx context.Context) ([]Envelope, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	out := make([]Envelope, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out, nil
}

// UpdateStatus implements [Log].
func (l *MemLog) UpdateStatus(ctx context.Context, id string, to Status) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()

	i, ok := l.byID[id]
	if !ok {
		return fault.Newf(fault.NotFound, "bus: update status", "no envelope %s", id)
	}
	from := l.entries[i].Status
	if !CanTransition(from, to) {
		return fault.Newf(fault.InvalidTransition, "bus: update status",
			"envelope %s: %s → %s", id, from, to)
	}
	l.entries[i].Status = to
	return nil
}

// Prune implements [Log]. Within the correlation it keeps, per stage family,
// the keepLast most recently appended envelopes; everything else of that
// correlation is dropped. Envelopes of other correlations are untouched.
func (l *MemLog) Prune(ctx context.Context, correlationID string, keepLast int) error {
	if keepLast < 1 {
		return fault.Newf(fault.Internal, "bus: prune", "keepLast must be positive, got %d", keepLast)
	}
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()

	// Count per family, then walk again dropping the oldest beyond the
	// retention floor.
	remaining := map[string]int{}
	for _, e := range l.entries {
		if e.CorrelationID == correlationID {
			remaining[e.Family()]++
		}
	}

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.CorrelationID != correlationID {
			kept = append(kept, e)
			continue
		}
		fam := e.Family()
		if remaining[fam] > keepLast {
			remaining[fam]--
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	l.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		l.byID[e.ID] = i
	}
	return nil
}

// Len reports the number of envelopes currently retained. Intended for
// health checks and tests.
func (l *MemLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
