// Package goals holds the agent's process-lifetime goal set. Goals are
// loaded once at service start and mutated in place for the life of the
// process: the orientation builder raises priorities and action
// outcomes advance progress. No goal is ever removed while the service
// runs.
package goals

import (
	"strings"
	"sync"
)

// Goal is one tracked objective. Priority is a weight in [0,1] where
// larger means more urgent; Progress is a fraction in [0,1].
type Goal struct {
	ID          string
	Description string
	Priority    float64
	Progress    float64
}

// Set owns the goal list. Boosts happen inside the single active cycle,
// but Stats may be read from other goroutines, so access is guarded.
type Set struct {
	mu    sync.RWMutex
	goals []*Goal
}

// NewSet creates a goal set from the given goals. A nil or empty slice
// yields the built-in defaults.
func NewSet(gs []*Goal) *Set {
	if len(gs) == 0 {
		gs = Defaults()
	}
	return &Set{goals: gs}
}

// Defaults returns the hard-coded goal set used when configuration
// provides none.
func Defaults() []*Goal {
	return []*Goal{
		{ID: "goal-tasks", Description: "Complete pending tasks in the backlog", Priority: 0.4},
		{ID: "goal-health", Description: "Maintain system health and stay within resource limits", Priority: 0.3},
		{ID: "goal-learn", Description: "Improve decision quality from action outcomes", Priority: 0.2},
	}
}

// All returns the live goal slice. Callers inside the active cycle may
// mutate the goals directly; that is the intended sharing model.
func (s *Set) All() []*Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Goal, len(s.goals))
	copy(out, s.goals)
	return out
}

// Boost raises the priority of every goal whose description contains
// substr (case-insensitive) to at least floor. A goal already more
// urgent than floor is left alone. Returns the number of goals raised.
func (s *Set) Boost(substr string, floor float64) int {
	if floor > 1 {
		floor = 1
	}
	needle := strings.ToLower(substr)

	s.mu.Lock()
	defer s.mu.Unlock()

	raised := 0
	for _, g := range s.goals {
		if !strings.Contains(strings.ToLower(g.Description), needle) {
			continue
		}
		if g.Priority < floor {
			g.Priority = floor
			raised++
		}
	}
	return raised
}

// SetProgress records progress for a goal by ID, clamped to [0,1].
// Unknown IDs are a no-op.
func (s *Set) SetProgress(id string, progress float64) {
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.ID == id {
			g.Progress = progress
			return
		}
	}
}

// MeanProgress returns the average progress across all goals, or 0
// when the set is empty.
func (s *Set) MeanProgress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.goals) == 0 {
		return 0
	}
	var sum float64
	for _, g := range s.goals {
		sum += g.Progress
	}
	return sum / float64(len(s.goals))
}
