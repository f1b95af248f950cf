package bus

import (
	"context"
	"fmt"
	"testing"

	"github.com/openweald/weald/internal/fault"
)

func appendN(t *testing.T, l Log, correlationID, family string, n int) []Envelope {
	t.Helper()
	envs := make([]Envelope, 0, n)
	for i := 1; i <= n; i++ {
		env := New("test", MakeStage(family, i), fmt.Sprintf("%s %d", family, i))
		env.CorrelationID = correlationID
		env.SessionID = "session-test"
		if err := l.Append(context.Background(), env); err != nil {
			t.Fatalf("Append(%s %d) error = %v", family, i, err)
		}
		envs = append(envs, env)
	}
	return envs
}

func TestMemLogAppendReadAll(t *testing.T) {
	t.Parallel()

	l := NewMemLog()
	want := appendN(t, l, "corr-1", FamilyBrokered, 3)

	got, err := l.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadAll() returned %d envelopes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Stage != want[i].Stage {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, got[i].ID, got[i].Stage, want[i].ID, want[i].Stage)
		}
	}

	// Mutating the snapshot must not leak into the log.
	got[0].Meta["injected"] = true
	again, err := l.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if _, leaked := again[0].Meta["injected"]; leaked {
		t.Error("snapshot mutation leaked into the log")
	}
}

func TestMemLogDuplicateID(t *testing.T) {
	t.Parallel()

	l := NewMemLog()
	env := New("test", "brokered_1", "x")
	env.SessionID = "session-test"
	if err := l.Append(context.Background(), env); err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	if err := l.Append(context.Background(), env); err == nil {
		t.Fatal("second Append() with same id = nil, want error")
	}
}

func TestMemLogUpdateStatus(t *testing.T) {
	t.Parallel()

	l := NewMemLog()
	env := appendN(t, l, "corr-1", FamilyBrokered, 1)[0]
	ctx := context.Background()

	chain := []Status{
		StatusProcessing,
		AwaitingRoll(1),
		StatusProcessing,
		StatusPendingStateApply,
		StatusProcessing,
		StatusDone,
	}
	for _, to := range chain {
		if err := l.UpdateStatus(ctx, env.ID, to); err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", to, err)
		}
	}

	// Done is terminal.
	err := l.UpdateStatus(ctx, env.ID, StatusProcessing)
	if !fault.Is(err, fault.InvalidTransition) {
		t.Errorf("UpdateStatus() after done: kind = %v, want invalid_transition", fault.KindOf(err))
	}

	err = l.UpdateStatus(ctx, "no-such-id", StatusProcessing)
	if !fault.Is(err, fault.NotFound) {
		t.Errorf("UpdateStatus(unknown id): kind = %v, want not_found", fault.KindOf(err))
	}
}

func TestMemLogPrune(t *testing.T) {
	t.Parallel()

	l := NewMemLog()
	ctx := context.Background()
	appendN(t, l, "corr-a", FamilyBrokered, 15)
	appendN(t, l, "corr-a", FamilyRuling, 3)
	appendN(t, l, "corr-b", FamilyBrokered, 5)

	if err := l.Prune(ctx, "corr-a", KeepLastPerFamily); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	envs, err := l.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	aBrokered := ByFamily(ByCorrelation(envs, "corr-a"), FamilyBrokered)
	if len(aBrokered) != KeepLastPerFamily {
		t.Errorf("corr-a brokered after prune = %d, want %d", len(aBrokered), KeepLastPerFamily)
	}
	// The survivors are the most recent: iterations 6..15.
	if aBrokered[0].Iteration() != 6 || aBrokered[len(aBrokered)-1].Iteration() != 15 {
		t.Errorf("surviving iterations = %d..%d, want 6..15",
			aBrokered[0].Iteration(), aBrokered[len(aBrokered)-1].Iteration())
	}
	if got := len(ByFamily(ByCorrelation(envs, "corr-a"), FamilyRuling)); got != 3 {
		t.Errorf("corr-a rulings after prune = %d, want 3 (under the floor)", got)
	}
	if got := len(ByCorrelation(envs, "corr-b")); got != 5 {
		t.Errorf("corr-b after prune = %d, want 5 (untouched)", got)
	}

	// Status update still works after the index rebuild.
	survivor := aBrokered[0]
	if err := l.UpdateStatus(ctx, survivor.ID, StatusProcessing); err != nil {
		t.Errorf("UpdateStatus() after prune error = %v", err)
	}
}

func TestMemLogPruneRejectsNonPositive(t *testing.T) {
	t.Parallel()

	l := NewMemLog()
	if err := l.Prune(context.Background(), "corr", 0); err == nil {
		t.Fatal("Prune(keepLast=0) = nil, want error")
	}
}
