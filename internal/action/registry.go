package action

import (
	"sort"

	"github.com/openweald/weald/internal/world"
)

// Registry exposes immutable lookup over the verb catalog. The zero value is
// unusable; construct with [NewRegistry].
type Registry struct {
	defs map[Verb]Definition
}

// NewRegistry builds a registry over the builtin catalog.
func NewRegistry() *Registry {
	defs := make(map[Verb]Definition, len(catalog))
	for _, d := range catalog {
		defs[d.Verb] = d
	}
	return &Registry{defs: defs}
}

// Lookup returns the definition for v.
func (r *Registry) Lookup(v Verb) (Definition, bool) {
	d, ok := r.defs[v]
	return d, ok
}

// Verbs returns the catalog's verbs in lexical order.
func (r *Registry) Verbs() []Verb {
	out := make([]Verb, 0, len(r.defs))
	for v := range r.defs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsValidTarget reports whether kind is a legal target for v. Unknown verbs
// accept nothing.
func (r *Registry) IsValidTarget(v Verb, kind world.RefKind) bool {
	d, ok := r.defs[v]
	return ok && d.AcceptsTarget(kind)
}

// DefaultCost returns v's action-point cost, 0 for unknown verbs.
func (r *Registry) DefaultCost(v Verb) int {
	return r.defs[v].DefaultCost
}

// PerceptionRadius returns the candidate-observer radius for v's base
// emission.
func (r *Registry) PerceptionRadius(v Verb) float64 {
	d, ok := r.defs[v]
	if !ok {
		return 0
	}
	return d.MaxRadius("")
}

// IsObservable reports whether v produces any perception footprint at all.
func (r *Registry) IsObservable(v Verb) bool {
	d, ok := r.defs[v]
	return ok && (d.Perceptibility.Radius > 0 || len(d.SenseProfiles) > 0)
}
