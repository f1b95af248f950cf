// Package world holds the shared vocabulary of the simulation: entity
// references, locations and tile math, senses and vision cones, places with
// their connections, and the opaque record maps exchanged with storage.
//
// Every other package builds on these types; world itself imports nothing
// above the standard library.
package world

import (
	"fmt"
	"strings"
)

// RefKind is the namespace of an entity reference.
type RefKind string

const (
	KindActor   RefKind = "actor"
	KindNPC     RefKind = "npc"
	KindItem    RefKind = "item"
	KindPlace   RefKind = "place"
	KindRegion  RefKind = "region"
	KindFeature RefKind = "feature"
)

// IsValid reports whether k is a recognised reference kind.
func (k RefKind) IsValid() bool {
	switch k {
	case KindActor, KindNPC, KindItem, KindPlace, KindRegion, KindFeature:
		return true
	}
	return false
}

// Ref identifies one entity as "<kind>.<id>", e.g. "npc.grenda" or
// "actor.hero". The zero Ref is invalid.
type Ref struct {
	Kind RefKind
	ID   string
}

// String renders the canonical "<kind>.<id>" form.
func (r Ref) String() string {
	return string(r.Kind) + "." + r.ID
}

// IsZero reports whether r is the zero (invalid) reference.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// MakeRef builds a Ref without validation. Use [ParseRef] for untrusted input.
func MakeRef(kind RefKind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

// ParseRef parses "<kind>.<id>". The id may itself contain dots; only the
// first dot separates the kind.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ".")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("world: malformed ref %q", s)
	}
	k := RefKind(kind)
	if !k.IsValid() {
		return Ref{}, fmt.Errorf("world: unknown ref kind %q in %q", kind, s)
	}
	return Ref{Kind: k, ID: id}, nil
}

// MustRef is ParseRef for literals in tests and tables; it panics on error.
func MustRef(s string) Ref {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}
