package loop

import (
	"context"
	"fmt"
)

// Evaluator inspects a finished cycle after the act phase. Evaluators
// run on every cycle, including simple-response cycles that skipped
// action dispatch.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, cycle *Cycle) error
}

// OutcomeEvaluator is the built-in evaluator. It flags cycles where
// every dispatched action failed; the resulting error raises the next
// cycle's error rate and feeds failure learnings.
type OutcomeEvaluator struct{}

func (OutcomeEvaluator) Name() string { return "outcome" }

func (OutcomeEvaluator) Evaluate(_ context.Context, cycle *Cycle) error {
	if cycle.Outcome == nil || cycle.Outcome.Attempted() == 0 {
		return nil
	}
	if cycle.Outcome.Succeeded() == 0 {
		return fmt.Errorf("all %d dispatched actions failed", cycle.Outcome.Attempted())
	}
	return nil
}
