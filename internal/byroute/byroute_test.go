package byroute

import "testing"

func TestAddAndGet(t *testing.T) {
	m := New[int]()
	m.Add("route-1", 42)

	v, ok := m.Get("route-1")
	if !ok || v != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", v, ok)
	}

	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected no value for an unknown route")
	}
}

func TestLenAndRouteIDs(t *testing.T) {
	m := New[string]()
	m.Add("a", "x")
	m.Add("b", "y")

	if m.Len() != 2 {
		t.Fatalf("expected len 2, got %d", m.Len())
	}
	ids := m.RouteIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 route IDs, got %d", len(ids))
	}
}

func TestRangeStopsEarly(t *testing.T) {
	m := New[int]()
	m.Add("a", 1)
	m.Add("b", 2)
	m.Add("c", 3)

	seen := 0
	m.Range(func(id string, item int) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("expected Range to stop after the first item, saw %d", seen)
	}
}

func TestClearResetsStore(t *testing.T) {
	m := New[int]()
	m.Add("a", 1)
	m.Clear()

	if m.Len() != 0 {
		t.Fatalf("expected empty store after Clear, got len %d", m.Len())
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected no items to survive Clear")
	}

	// Clear sets the backing map to nil; Add must reinitialize it rather
	// than panic on a nil map write.
	m.Add("b", 2)
	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Fatalf("expected Add to work after Clear, got (%d, %v)", v, ok)
	}
}

func TestZeroValueManagerGetIsSafe(t *testing.T) {
	var m Manager[int]
	if _, ok := m.Get("anything"); ok {
		t.Fatal("expected a zero-value Manager to report no items")
	}
	if m.Len() != 0 {
		t.Fatalf("expected zero-value Manager to have len 0, got %d", m.Len())
	}
}
