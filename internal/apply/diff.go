// Package apply is the state applier: the only writer of entity records in
// the whole engine. It consumes final rulings from the outbox, turns their
// effect lines into record mutations, and emits one applied envelope per
// ruling.
//
// Every mutation is journalled as an [AppliedDiff] keyed by effect id, and
// effect ids are deduplicated: re-applying a diff the ledger has seen is a
// no-op, so redelivered rulings cannot double-charge.
package apply

import (
	"fmt"
	"sync"
)

// AppliedDiff records one effect application against one record field.
type AppliedDiff struct {
	EffectID string  `json:"effect_id"`
	Target   string  `json:"target"`
	Field    string  `json:"field"`
	Delta    float64 `json:"delta"`
	Reason   string  `json:"reason"`
}

// EffectID derives the deterministic id of one effect line within a ruling:
// the same (correlation, iteration, index) always names the same effect, so
// a redelivered ruling dedups against its first application.
func EffectID(correlationID string, iteration, index int) string {
	return fmt.Sprintf("%s:%d:%d", correlationID, iteration, index)
}

// Ledger is the bounded dedup journal of applied diffs.
type Ledger struct {
	mu      sync.Mutex
	seen    map[string][]AppliedDiff
	order   []string
	maxSize int
}

// defaultLedgerSize bounds how many distinct effect ids the ledger retains.
const defaultLedgerSize = 4096

// NewLedger returns an empty ledger. maxSize ≤ 0 selects the default bound.
func NewLedger(maxSize int) *Ledger {
	if maxSize <= 0 {
		maxSize = defaultLedgerSize
	}
	return &Ledger{seen: map[string][]AppliedDiff{}, maxSize: maxSize}
}

// Seen reports whether the effect id has already been applied.
func (l *Ledger) Seen(effectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[effectID]
	return ok
}

// Record journals the diffs of one applied effect. Recording an id twice
// keeps the first entry. The oldest entries fall off past the size bound;
// by then their rulings are long done.
func (l *Ledger) Record(effectID string, diffs []AppliedDiff) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[effectID]; ok {
		return
	}
	l.seen[effectID] = diffs
	l.order = append(l.order, effectID)
	for len(l.order) > l.maxSize {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
}

// Diffs returns the journalled diffs for an effect id, nil when unseen.
func (l *Ledger) Diffs(effectID string) []AppliedDiff {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[effectID]
}
