// Package orient folds a cycle's observations into the mutable
// orientation context: environmental factors derived fresh each cycle,
// bounded success/failure pattern logs carried across cycles, and
// goal-priority adjustments applied to the shared goal set.
package orient

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/praxislabs/praxis-agent/internal/goals"
	"github.com/praxislabs/praxis-agent/internal/observe"
)

// Environmental factor names.
const (
	FactorResourceConstraint = "resource_constraint"
	FactorCapacityLimit      = "capacity_limit"
	FactorErrorSurge         = "error_surge"
)

// relevanceFloor is the minimum relevance an observation needs to
// influence orientation.
const relevanceFloor = 0.5

// errorSurgeThreshold is the ERROR_OCCURRED count above which the
// error_surge factor is derived.
const errorSurgeThreshold = 2

// Factor is one derived environmental condition. Impact is negative:
// it measures how much the condition should suppress activity.
type Factor struct {
	Name   string
	Impact float64
}

// Orientation is the per-cycle derived context. Goals and History are
// references to process-lifetime state; Factors are rebuilt from
// scratch every cycle.
type Orientation struct {
	Goals    []*goals.Goal
	Factors  []Factor
	Relevant []observe.Observation // relevance-filtered, descending
	History  *History
}

// Update summarizes what one Orient pass changed.
type Update struct {
	Relevant     int
	Factors      []Factor
	BoostedGoals int
}

// Builder derives orientation from observations. One builder serves
// the whole process; its History accumulates across cycles.
type Builder struct {
	logger  *slog.Logger
	goalSet *goals.Set
	history *History
}

// NewBuilder creates an orientation builder over the shared goal set.
func NewBuilder(goalSet *goals.Set, history *History, logger *slog.Logger) *Builder {
	if history == nil {
		history = NewHistory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger, goalSet: goalSet, history: history}
}

// History returns the builder's shared history.
func (b *Builder) History() *History {
	return b.history
}

// Orient folds observations into o, mutating it in place, and returns
// a summary of the pass.
func (b *Builder) Orient(obs []observe.Observation, o *Orientation) Update {
	relevant := filterRelevant(obs)
	o.Relevant = relevant
	o.History = b.history
	if b.goalSet != nil {
		o.Goals = b.goalSet.All()
	}

	o.Factors = deriveFactors(obs)
	b.recordPatterns(obs)
	boosted := b.adjustGoals(obs)

	update := Update{
		Relevant:     len(relevant),
		Factors:      o.Factors,
		BoostedGoals: boosted,
	}

	b.logger.Debug("orientation updated",
		"observations", len(obs),
		"relevant", len(relevant),
		"factors", len(o.Factors),
		"boosted_goals", boosted,
	)
	return update
}

// filterRelevant keeps observations above the relevance floor, sorted
// descending by relevance. The sort is stable so equal-relevance
// observations keep collection order.
func filterRelevant(obs []observe.Observation) []observe.Observation {
	var out []observe.Observation
	for _, o := range obs {
		if o.Relevance > relevanceFloor {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

// deriveFactors rebuilds the environmental factor list from this
// cycle's observations. Factors are never accumulated across cycles.
func deriveFactors(obs []observe.Observation) []Factor {
	var factors []Factor
	errorCount := 0

	for _, o := range obs {
		switch o.Type {
		case observe.TypeSystemState:
			if asFloat(o.Data["cpu"]) > 80 {
				factors = append(factors, Factor{Name: FactorResourceConstraint, Impact: -0.5})
			}
			used, total := asInt(o.Data["slots_used"]), asInt(o.Data["slots_total"])
			if total > 0 && used >= total {
				factors = append(factors, Factor{Name: FactorCapacityLimit, Impact: -0.8})
			}
		case observe.TypeError:
			errorCount++
		}
	}

	if errorCount > errorSurgeThreshold {
		factors = append(factors, Factor{Name: FactorErrorSurge, Impact: -0.7})
	}
	return factors
}

// recordPatterns appends success/failure pattern entries to the
// bounded history logs.
func (b *Builder) recordPatterns(obs []observe.Observation) {
	completed := 0
	var errTexts []string
	for _, o := range obs {
		switch o.Type {
		case observe.TypeTaskStatus:
			if s, _ := o.Data["status"].(string); s == "completed" {
				completed++
			}
		case observe.TypeError:
			if e, _ := o.Data["error"].(string); e != "" {
				errTexts = append(errTexts, e)
			} else {
				errTexts = append(errTexts, "unknown error")
			}
		}
	}

	if completed > 0 {
		b.history.AddSuccess(fmt.Sprintf("completed %d task(s)", completed))
	}
	if len(errTexts) > 0 {
		b.history.AddFailure(fmt.Sprintf("errors observed: %s", strings.Join(dedupe(errTexts), "; ")))
	}
}

// adjustGoals applies priority boosts to the shared goal set. These
// are persistent mutations, not cycle-scoped: an urgent task keeps the
// tasks goal urgent until something raises other goals past it.
func (b *Builder) adjustGoals(obs []observe.Observation) int {
	if b.goalSet == nil {
		return 0
	}

	boosted := 0
	for _, o := range obs {
		switch o.Type {
		case observe.TypeTaskStatus:
			if tagsContain(o.Data["tags"], "urgent") {
				boosted += b.goalSet.Boost("tasks", 0.5)
			}
		case observe.TypeSystemState:
			if o.Relevance > 0.7 {
				boosted += b.goalSet.Boost("system health", 0.8)
			}
		}
	}
	return boosted
}

// tagsContain handles both []string and []any tag payloads.
func tagsContain(v any, tag string) bool {
	switch tags := v.(type) {
	case []string:
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok && s == tag {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
