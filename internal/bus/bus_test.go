package bus

import (
	"context"
	"testing"

	"github.com/openweald/weald/internal/fault"
)

// flakyLog fails every call with lock_timeout until failures is exhausted,
// then delegates to the wrapped log.
type flakyLog struct {
	Log
	failures int
}

func (f *flakyLog) Append(ctx context.Context, env Envelope) error {
	if f.failures > 0 {
		f.failures--
		return fault.New(fault.LockTimeout, "bus: test", "contended")
	}
	return f.Log.Append(ctx, env)
}

func TestBusSessionScoping(t *testing.T) {
	t.Parallel()

	shared := NewMemLog()
	current := NewBus("session-now", NewMemLog(), shared)
	stale := NewBus("session-before", NewMemLog(), shared)
	ctx := context.Background()

	if err := stale.Publish(ctx, New("pipeline", "brokered_1", "old work")); err != nil {
		t.Fatalf("stale Publish() error = %v", err)
	}
	env := New("pipeline", "brokered_1", "new work")
	env.CorrelationID = "intent-1"
	if err := current.Publish(ctx, env); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	envs, err := current.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(envs) != 1 || envs[0].Content != "new work" {
		t.Fatalf("Snapshot() = %+v, want only the current-session envelope", envs)
	}
	if envs[0].SessionID != "session-now" {
		t.Errorf("Publish() did not stamp session, got %q", envs[0].SessionID)
	}
}

func TestBusPending(t *testing.T) {
	t.Parallel()

	b := NewBus("session-test", NewMemLog(), NewMemLog())
	ctx := context.Background()

	brokered := New("pipeline", "brokered_1", "attack")
	brokered.CorrelationID = "intent-1"
	ruling := New("adjudicator", "ruling_1", "hit for 5")
	ruling.CorrelationID = "intent-1"
	for _, env := range []Envelope{brokered, ruling} {
		if err := b.Publish(ctx, env); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := b.Advance(ctx, brokered.ID, StatusProcessing); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	sent, err := b.Pending(ctx, FamilyRuling, StatusSent)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(sent) != 1 || sent[0].ID != ruling.ID {
		t.Fatalf("Pending(ruling, sent) = %+v, want the ruling envelope", sent)
	}

	none, err := b.Pending(ctx, FamilyBrokered, StatusSent)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("Pending(brokered, sent) = %d envelopes, want 0 after claim", len(none))
	}
}

func TestBusCheckSession(t *testing.T) {
	t.Parallel()

	b := NewBus("session-now", NewMemLog(), NewMemLog())
	env := New("gateway", "brokered_1", "x")
	env.SessionID = "session-before"

	err := b.CheckSession(env)
	if !fault.Is(err, fault.SessionMismatch) {
		t.Fatalf("CheckSession() kind = %v, want session_mismatch", fault.KindOf(err))
	}
	env.SessionID = "session-now"
	if err := b.CheckSession(env); err != nil {
		t.Fatalf("CheckSession() on matching session = %v", err)
	}
}

func TestPublishRetriesLockTimeout(t *testing.T) {
	t.Parallel()

	under := NewMemLog()
	b := NewBus("session-test", NewMemLog(), &flakyLog{Log: under, failures: 3})

	if err := b.Publish(context.Background(), New("pipeline", "brokered_1", "x")); err != nil {
		t.Fatalf("Publish() with transient contention error = %v", err)
	}
	if under.Len() != 1 {
		t.Fatalf("underlying log has %d envelopes, want 1", under.Len())
	}
}

func TestPublishExhaustsRetries(t *testing.T) {
	t.Parallel()

	b := NewBus("session-test", NewMemLog(), &flakyLog{Log: NewMemLog(), failures: maxLockAttempts + 1})

	err := b.Publish(context.Background(), New("pipeline", "brokered_1", "x"))
	if !fault.Is(err, fault.Internal) {
		t.Fatalf("Publish() after exhausted retries: kind = %v, want internal", fault.KindOf(err))
	}
}

func TestSnapshotFilters(t *testing.T) {
	t.Parallel()

	envs := []Envelope{
		{ID: "a", Stage: "brokered_1", Status: StatusDone, CorrelationID: "c1"},
		{ID: "b", Stage: "brokered_2", Status: StatusSent, CorrelationID: "c1"},
		{ID: "c", Stage: "ruling_2", Status: StatusSent, CorrelationID: "c1"},
		{ID: "d", Stage: "brokered_1", Status: StatusSent, CorrelationID: "c2"},
	}

	if got := ByCorrelation(envs, "c1"); len(got) != 3 {
		t.Errorf("ByCorrelation(c1) = %d, want 3", len(got))
	}
	if got := ByFamily(envs, FamilyBrokered); len(got) != 3 {
		t.Errorf("ByFamily(brokered) = %d, want 3", len(got))
	}
	if got := WithStatus(envs, StatusSent); len(got) != 3 {
		t.Errorf("WithStatus(sent) = %d, want 3", len(got))
	}
	if got := MaxIteration(ByCorrelation(envs, "c1"), FamilyBrokered); got != 2 {
		t.Errorf("MaxIteration(brokered) = %d, want 2", got)
	}
	if _, ok := FindByID(envs, "c"); !ok {
		t.Error("FindByID(c) not found")
	}
	if _, ok := FindByID(envs, "zz"); ok {
		t.Error("FindByID(zz) found a ghost")
	}
}
