package jobrunner

import (
	"slices"
	"testing"
)

func TestStableTopologicalSortNoConstraints(t *testing.T) {
	refs := []string{"c", "a", "b"}
	order, err := stableTopologicalSort(refs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(order, refs) {
		t.Errorf("order = %v, want %v (original order preserved with no constraints)", order, refs)
	}
}

func TestStableTopologicalSortHonorsBefore(t *testing.T) {
	refs := []string{"a", "b", "c"}
	before := map[string][]string{"c": {"a"}}
	order, err := stableTopologicalSort(refs, before)
	if err != nil {
		t.Fatal(err)
	}
	posC := slices.Index(order, "c")
	posA := slices.Index(order, "a")
	if posC >= posA {
		t.Errorf("order = %v, want c before a", order)
	}
}

func TestStableTopologicalSortCycle(t *testing.T) {
	refs := []string{"a", "b"}
	before := map[string][]string{"a": {"b"}, "b": {"a"}}
	if _, err := stableTopologicalSort(refs, before); err == nil {
		t.Error("expected cycle error")
	}
}
