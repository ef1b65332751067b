package goals

import "testing"

func TestBoost_RaisesToFloor(t *testing.T) {
	s := NewSet([]*Goal{
		{ID: "g1", Description: "Complete pending tasks", Priority: 0.2},
		{ID: "g2", Description: "Maintain system health", Priority: 0.9},
	})

	if n := s.Boost("tasks", 0.5); n != 1 {
		t.Errorf("Boost raised %d goals, want 1", n)
	}
	if got := s.All()[0].Priority; got != 0.5 {
		t.Errorf("tasks goal priority = %v, want 0.5", got)
	}

	// A goal already above the floor is never demoted.
	if n := s.Boost("system health", 0.8); n != 0 {
		t.Errorf("Boost raised %d goals, want 0", n)
	}
	if got := s.All()[1].Priority; got != 0.9 {
		t.Errorf("health goal priority = %v, want 0.9", got)
	}
}

func TestBoost_FloorClamped(t *testing.T) {
	s := NewSet([]*Goal{{ID: "g", Description: "tasks", Priority: 0}})
	s.Boost("tasks", 1.5)
	if got := s.All()[0].Priority; got != 1 {
		t.Errorf("priority = %v, want clamp at 1", got)
	}
}

func TestMeanProgress(t *testing.T) {
	s := NewSet([]*Goal{
		{ID: "a", Description: "a", Progress: 0.5},
		{ID: "b", Description: "b", Progress: 1.0},
	})
	if got := s.MeanProgress(); got != 0.75 {
		t.Errorf("MeanProgress = %v, want 0.75", got)
	}
}

func TestSetProgress_Clamps(t *testing.T) {
	s := NewSet([]*Goal{{ID: "a", Description: "a"}})
	s.SetProgress("a", 2.0)
	if got := s.All()[0].Progress; got != 1 {
		t.Errorf("Progress = %v, want 1", got)
	}
	s.SetProgress("a", -0.5)
	if got := s.All()[0].Progress; got != 0 {
		t.Errorf("Progress = %v, want 0", got)
	}
	// Unknown ID is a no-op.
	s.SetProgress("missing", 0.5)
}

func TestNewSet_Defaults(t *testing.T) {
	s := NewSet(nil)
	if len(s.All()) == 0 {
		t.Fatal("expected default goals")
	}
}
