package journal

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/openweald/weald/internal/world"
)

// DefaultCap bounds how many entries Mem keeps per NPC before the oldest
// fall off.
const DefaultCap = 256

// Compile-time interface check.
var _ Store = (*Mem)(nil)

// Mem is an in-memory [Store], the fallback when no database is configured.
// Entries are kept per NPC in append order and capped.
type Mem struct {
	mu      sync.Mutex
	cap     int
	entries map[string][]Entry
}

// NewMem creates an in-memory store keeping at most cap entries per NPC.
// cap <= 0 selects [DefaultCap].
func NewMem(cap int) *Mem {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Mem{cap: cap, entries: make(map[string][]Entry)}
}

// Append implements [Store].
func (m *Mem) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.NPC.String()
	for _, have := range m.entries[key] {
		if have.ID == e.ID {
			return nil
		}
	}
	list := append(m.entries[key], e)
	if over := len(list) - m.cap; over > 0 {
		list = list[over:]
	}
	m.entries[key] = list
	return nil
}

// Recent implements [Store].
func (m *Mem) Recent(_ context.Context, npc world.Ref, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.entries[npc.String()]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Entry, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Search implements [Store] with a linear scan; the per-NPC cap keeps the
// candidate set small enough that no index is needed.
func (m *Mem) Search(_ context.Context, npc world.Ref, embedding []float32, topK int) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Result
	for _, e := range m.entries[npc.String()] {
		if len(e.Embedding) != len(embedding) || len(e.Embedding) == 0 {
			continue
		}
		out = append(out, Result{Entry: e, Distance: cosineDistance(embedding, e.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// cosineDistance is 1 minus the cosine similarity of a and b. Zero-norm
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
