package scenario

import "testing"

func TestCatalog(t *testing.T) {
	c := NewCatalog()

	ids := c.IDs()
	want := []string{"cafe", "doctor", "hotel", "interview", "market"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("id %d: expected %s, got %s", i, want[i], ids[i])
		}
	}

	s, ok := c.Get(DefaultID)
	if !ok || s.Prompt == "" {
		t.Fatalf("default scenario missing: %+v", s)
	}
	if _, ok := c.Get("spaceship"); ok {
		t.Error("unexpected scenario")
	}
}
