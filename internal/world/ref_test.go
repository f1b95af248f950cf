package world

import "testing"

func TestParseRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Ref
		wantErr bool
	}{
		{"npc", "npc.grenda", Ref{Kind: KindNPC, ID: "grenda"}, false},
		{"actor", "actor.hero", Ref{Kind: KindActor, ID: "hero"}, false},
		{"item", "item.iron-key", Ref{Kind: KindItem, ID: "iron-key"}, false},
		{"place", "place.market", Ref{Kind: KindPlace, ID: "market"}, false},
		{"dotted id", "npc.old.tom", Ref{Kind: KindNPC, ID: "old.tom"}, false},
		{"no dot", "grenda", Ref{}, true},
		{"empty id", "npc.", Ref{}, true},
		{"unknown kind", "ghost.grenda", Ref{}, true},
		{"empty", "", Ref{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRef(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseRef(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRefString(t *testing.T) {
	t.Parallel()

	r := MakeRef(KindNPC, "grenda")
	if got := r.String(); got != "npc.grenda" {
		t.Fatalf("String() = %q, want %q", got, "npc.grenda")
	}
	back, err := ParseRef(r.String())
	if err != nil {
		t.Fatalf("ParseRef round trip: %v", err)
	}
	if back != r {
		t.Fatalf("round trip = %v, want %v", back, r)
	}
}

func TestRefIsZero(t *testing.T) {
	t.Parallel()

	if !(Ref{}).IsZero() {
		t.Fatal("zero Ref should report IsZero")
	}
	if MakeRef(KindNPC, "x").IsZero() {
		t.Fatal("non-zero Ref should not report IsZero")
	}
}
