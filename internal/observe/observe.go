// Package observe gathers the typed, relevance-scored observations
// that open every loop cycle. Sources are heterogeneous — context
// providers, the task backlog, the resource monitor, goal trackers,
// and errors noted since the previous cycle — and every source is
// independently fault-tolerant: a failing provider or store query is
// logged and skipped, never fatal to collection.
package observe

import (
	"time"
)

// Type classifies an observation.
type Type string

const (
	TypeExternalEvent Type = "external_event"
	TypeTaskStatus    Type = "task_status"
	TypeSystemState   Type = "system_state"
	TypeGoalProgress  Type = "goal_progress"
	TypeError         Type = "error_occurred"
)

// Observation is one timestamped datum gathered during the observe
// phase. Relevance is a heuristic weight in [0,1] computed once at
// creation and never recomputed.
type Observation struct {
	Timestamp time.Time
	Type      Type
	Source    string
	Data      map[string]any
	Relevance float64
}

// clampRelevance bounds a computed relevance to [0,1].
func clampRelevance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
