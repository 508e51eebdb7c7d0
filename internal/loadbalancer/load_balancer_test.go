package loadbalancer

import (
	"testing"

	"github.com/fleetgate/api-gateway/internal/registry"
)

func threeInstances() []registry.Instance {
	return []registry.Instance{
		{ID: "i0", Host: "h0"},
		{ID: "i1", Host: "h1"},
		{ID: "i2", Host: "h2"},
	}
}

func TestRoundRobinFairness(t *testing.T) {
	lb := New(RoundRobin)
	instances := threeInstances()

	for round := 0; round < 2; round++ {
		for j, want := range instances {
			got, err := lb.SelectInstance("products", instances)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID != want.ID {
				t.Fatalf("round %d pick %d: want %s, got %s", round, j, want.ID, got.ID)
			}
		}
	}
}

func TestRoundRobinClampsWhenListShrinks(t *testing.T) {
	lb := New(RoundRobin)
	instances := threeInstances()

	// Advance the cursor to the end of the 3-element list.
	for i := 0; i < 3; i++ {
		if _, err := lb.SelectInstance("products", instances); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	shrunk := instances[:1]
	got, err := lb.SelectInstance("products", shrunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "i0" {
		t.Fatalf("expected clamp to index 0, got %s", got.ID)
	}
}

func TestRoundRobinCursorsAreIndependentPerServiceType(t *testing.T) {
	lb := New(RoundRobin)
	instances := threeInstances()

	first, _ := lb.SelectInstance("products", instances)
	if first.ID != "i0" {
		t.Fatalf("expected i0 first, got %s", first.ID)
	}
	otherServiceFirst, _ := lb.SelectInstance("orders", instances)
	if otherServiceFirst.ID != "i0" {
		t.Fatalf("expected cursors independent per service type, got %s", otherServiceFirst.ID)
	}
}

func TestRandomSelectsFromList(t *testing.T) {
	lb := New(Random)
	instances := threeInstances()

	valid := map[string]bool{"i0": true, "i1": true, "i2": true}
	for i := 0; i < 20; i++ {
		got, err := lb.SelectInstance("products", instances)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid[got.ID] {
			t.Fatalf("unexpected instance id %s", got.ID)
		}
	}
}

func TestSelectInstanceErrorsOnEmptyList(t *testing.T) {
	lb := New(Random)
	if _, err := lb.SelectInstance("products", nil); err == nil {
		t.Fatal("expected error selecting from empty list")
	}
}
