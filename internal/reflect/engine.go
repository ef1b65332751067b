// Package reflect closes each cycle: it extracts learnings from action
// outcomes, recomputes the cycle's metrics, and steps the two adaptive
// control parameters (inter-cycle delay, concurrency cap) for the next
// cycle. It runs unconditionally at cycle end, including after errors.
package reflect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/praxislabs/praxis-agent/internal/act"
	"github.com/praxislabs/praxis-agent/internal/goals"
	"github.com/praxislabs/praxis-agent/internal/orient"
)

const (
	// defaultTargetCycleTime anchors resource efficiency: a cycle at or
	// past the target duration scores 0.
	defaultTargetCycleTime = 10 * time.Second

	// maxLoopDelay caps inactivity backoff.
	maxLoopDelay = 30 * time.Second

	// Concurrency cap bounds. The cap never leaves this range.
	minConcurrent = 1
	maxConcurrent = 5

	// busyDecisions is the decision count above which the loop speeds up.
	busyDecisions = 3

	successConfidence = 0.8
	failureConfidence = 0.9
)

// Metrics are the per-cycle derived measurements. They exist to drive
// the next cycle's parameter updates and are not persisted beyond logs.
type Metrics struct {
	CycleTime          time.Duration
	Decisions          int
	ActionSuccessRate  float64
	ErrorRate          float64
	ResourceEfficiency float64
	GoalProgress       float64
}

// Params are the process-wide adaptive parameters. The scheduler owns
// them; only the single active cycle's reflect pass mutates them.
type Params struct {
	LoopDelay            time.Duration
	MinLoopDelay         time.Duration
	MaxConcurrentActions int
}

// Report is the cycle summary handed to the reflect pass. Outcome may
// be nil when the act phase was skipped.
type Report struct {
	RunID     string
	CycleTime time.Duration
	Decisions int
	Errors    int
	Outcome   *act.Outcome
}

// Engine drives the reflect phase.
type Engine struct {
	logger  *slog.Logger
	history *orient.History
	goalSet *goals.Set
	target  time.Duration
	nowFunc func() time.Time
}

// NewEngine creates a reflection engine appending learnings to the
// shared history.
func NewEngine(history *orient.History, goalSet *goals.Set, logger *slog.Logger) *Engine {
	if history == nil {
		history = orient.NewHistory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:  logger,
		history: history,
		goalSet: goalSet,
		target:  defaultTargetCycleTime,
		nowFunc: time.Now,
	}
}

// SetTargetCycleTime overrides the efficiency anchor. Zero and negative
// durations are ignored.
func (e *Engine) SetTargetCycleTime(d time.Duration) {
	if d > 0 {
		e.target = d
	}
}

// Reflect records learnings, computes the cycle's metrics, and steps
// params in place. Each parameter moves at most one step per cycle.
func (e *Engine) Reflect(report *Report, params *Params) Metrics {
	e.extractLearnings(report)
	metrics := e.computeMetrics(report)
	e.adaptDelay(report, params)
	e.adaptCap(report, params, metrics)

	e.logger.Info("cycle reflected",
		"run_id", report.RunID,
		"cycle_time_ms", report.CycleTime.Milliseconds(),
		"decisions", metrics.Decisions,
		"success_rate", metrics.ActionSuccessRate,
		"error_rate", metrics.ErrorRate,
		"efficiency", metrics.ResourceEfficiency,
		"goal_progress", metrics.GoalProgress,
		"next_delay_ms", params.LoopDelay.Milliseconds(),
		"max_concurrent", params.MaxConcurrentActions,
	)
	return metrics
}

// extractLearnings turns each finished action into one learning record:
// confidence 0.8 for successes, 0.9 for failures with the error text.
func (e *Engine) extractLearnings(report *Report) {
	if report.Outcome == nil {
		return
	}
	now := e.nowFunc()
	for _, r := range report.Outcome.Results {
		switch r.Status {
		case act.StatusSucceeded:
			e.history.AddLearning(orient.Learning{
				Text:       fmt.Sprintf("action %s succeeded in %s", r.Name, r.Duration.Round(time.Millisecond)),
				Confidence: successConfidence,
				CreatedAt:  now,
			})
		case act.StatusFailed:
			e.history.AddLearning(orient.Learning{
				Text:       fmt.Sprintf("action %s failed: %v", r.Name, r.Err),
				Confidence: failureConfidence,
				CreatedAt:  now,
			})
		}
	}
}

func (e *Engine) computeMetrics(report *Report) Metrics {
	m := Metrics{
		CycleTime: report.CycleTime,
		Decisions: report.Decisions,
	}

	m.ErrorRate = float64(report.Errors) / float64(max(1, report.Decisions))
	m.ResourceEfficiency = clamp01(1 - float64(report.CycleTime)/float64(e.target))
	if report.Outcome != nil {
		m.ActionSuccessRate = report.Outcome.SuccessRate()
	}
	if e.goalSet != nil {
		m.GoalProgress = e.goalSet.MeanProgress()
	}
	return m
}

// adaptDelay backs off 1.5x (capped) on an idle cycle and speeds up
// 0.8x (floored at twice the minimum) on a busy one.
func (e *Engine) adaptDelay(report *Report, params *Params) {
	switch {
	case report.Decisions == 0:
		params.LoopDelay = min(maxLoopDelay, time.Duration(float64(params.LoopDelay)*1.5))
	case report.Decisions > busyDecisions:
		floor := 2 * params.MinLoopDelay
		params.LoopDelay = max(floor, time.Duration(float64(params.LoopDelay)*0.8))
	}
}

// adaptCap steps the concurrency cap on action success rate. Cycles
// that dispatched nothing leave the cap alone: an empty outcome says
// nothing about dispatch capacity.
func (e *Engine) adaptCap(report *Report, params *Params, m Metrics) {
	if report.Outcome == nil || report.Outcome.Attempted() == 0 {
		return
	}
	switch {
	case m.ActionSuccessRate < 0.5 && params.MaxConcurrentActions > minConcurrent:
		params.MaxConcurrentActions--
	case m.ActionSuccessRate > 0.9 && m.ResourceEfficiency > 0.7 && params.MaxConcurrentActions < maxConcurrent:
		params.MaxConcurrentActions++
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
