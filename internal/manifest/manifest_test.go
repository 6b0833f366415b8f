package manifest

import (
	"errors"
	"testing"
)

func TestActivateSetOrdersDependenciesFirst(t *testing.T) {
	manifests := []Manifest{
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}

	ordered, err := ActivateSet(manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("expected 3 manifests, got %d", len(ordered))
	}

	pos := map[string]int{}
	for i, m := range ordered {
		pos[m.ID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("expected order a,b,c; got %v", ordered)
	}
}

func TestActivateSetRejectsCycle(t *testing.T) {
	manifests := []Manifest{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}

	if _, err := ActivateSet(manifests); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestActivateSetRejectsUnknownDependency(t *testing.T) {
	manifests := []Manifest{
		{ID: "a", Dependencies: []string{"missing"}},
	}

	if _, err := ActivateSet(manifests); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle for an unresolved dependency, got %v", err)
	}
}

func TestFilterMatches(t *testing.T) {
	f := Filter{Ext: []string{"jpg", "png"}, MinBytes: 100, MaxBytes: 1000}

	if !f.Matches("photo.JPG", 500, "") {
		t.Fatal("expected extension match to be case-insensitive")
	}
	if f.Matches("photo.jpg", 50, "") {
		t.Fatal("expected file below MinBytes to be rejected")
	}
	if f.Matches("video.mp4", 500, "") {
		t.Fatal("expected unmatched extension to be rejected")
	}
}
