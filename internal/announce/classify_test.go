package announce

import (
	"testing"

	"github.com/herald-home/herald/internal/settings"
)

func TestClassifySingleOccupantIndividual(t *testing.T) {
	snap := testSnapshot()
	john, _ := snap.PersonByName("John")
	pairs := []pair{{room: snap.Rooms[0], occupants: []settings.Person{john}}}

	got := classify(pairs, false, snap, "Dinner is ready")

	if len(got) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(got))
	}
	a := got[0]
	if a.Mode != ModeIndividual {
		t.Errorf("expected individual mode, got %q", a.Mode)
	}
	if a.Profile.Name != "John" {
		t.Errorf("expected John's profile, got %q", a.Profile.Name)
	}
	if a.Target != nil {
		t.Error("occupancy-classified individual should not carry a target")
	}
	if a.Message != "John, Dinner is ready" {
		t.Errorf("unexpected message %q", a.Message)
	}
}

func TestClassifyTargetedIndividualCarriesTarget(t *testing.T) {
	snap := testSnapshot()
	john, _ := snap.PersonByName("John")
	pairs := []pair{{room: snap.Rooms[0], occupants: []settings.Person{john}}}

	got := classify(pairs, true, snap, "hi")

	if got[0].Target == nil || got[0].Target.Name != "John" {
		t.Errorf("expected John as target, got %v", got[0].Target)
	}
}

func TestClassifyMultipleOccupantsGroup(t *testing.T) {
	snap := testSnapshot()
	john, _ := snap.PersonByName("John")
	alice, _ := snap.PersonByName("Alice")
	pairs := []pair{{room: snap.Rooms[0], occupants: []settings.Person{john, alice}}}

	got := classify(pairs, false, snap, "Dinner is ready")

	a := got[0]
	if a.Mode != ModeGroup {
		t.Errorf("expected group mode, got %q", a.Mode)
	}
	if a.Profile.Name != "Everyone" {
		t.Errorf("expected group addressee, got %q", a.Profile.Name)
	}
	if a.Message != "Everyone, Dinner is ready" {
		t.Errorf("unexpected message %q", a.Message)
	}
}

func TestClassifyEmptyOccupantsGroup(t *testing.T) {
	snap := testSnapshot()
	pairs := []pair{{room: snap.Rooms[2]}}

	got := classify(pairs, false, snap, "hi")

	if got[0].Mode != ModeGroup {
		t.Errorf("broadcast pair should be group mode, got %q", got[0].Mode)
	}
}

func TestAddressMessagePlaceholder(t *testing.T) {
	tests := []struct {
		message   string
		addressee string
		want      string
	}{
		{"Dinner is ready", "John", "John, Dinner is ready"},
		{"Hey {{ name }}, dinner!", "Alice", "Hey Alice, dinner!"},
		{"Hey {{name}}, dinner!", "Alice", "Hey Alice, dinner!"},
		{"{{ name }} and {{name}}", "Bob", "Bob and Bob"},
	}
	for _, tc := range tests {
		if got := addressMessage(tc.message, tc.addressee); got != tc.want {
			t.Errorf("addressMessage(%q, %q) = %q, want %q", tc.message, tc.addressee, got, tc.want)
		}
	}
}
