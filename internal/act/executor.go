// Package act dispatches a decision's actions against the host's
// action registry and tracks per-action outcomes. Dispatch failures are
// collected, never fatal: a broken action must not abort the remaining
// actions or the cycle.
package act

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praxislabs/praxis-agent/internal/decide"
	"github.com/praxislabs/praxis-agent/internal/memory"
)

// DefaultActionTimeout bounds a single action dispatch.
const DefaultActionTimeout = 60 * time.Second

// Status of one dispatched action.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Response is one action-produced reply, persisted as a conversational
// record.
type Response struct {
	Text string
	Data map[string]any
}

// Request describes one action dispatch. MaxConcurrent tells the host
// registry the current concurrency cap; the executor also enforces it
// locally.
type Request struct {
	RunID         string
	Action        string
	Text          string
	MaxConcurrent int
}

// Dispatcher executes a named action against the host's registry and
// returns the responses it produced.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) ([]Response, error)
}

// RecordPersister is the slice of the memory store the executor needs.
type RecordPersister interface {
	Persist(ctx context.Context, rec memory.Record) error
}

// Result tracks one action's lifecycle through the executor.
type Result struct {
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Outcome aggregates one execute pass for the reflection engine.
type Outcome struct {
	Results   []Result
	Errors    []error
	Persisted int
}

// Attempted counts actions that were actually dispatched.
func (o *Outcome) Attempted() int {
	return len(o.Results)
}

// Succeeded counts actions that finished without error.
func (o *Outcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == StatusSucceeded {
			n++
		}
	}
	return n
}

// SuccessRate is succeeded/attempted, 0 when nothing was attempted.
func (o *Outcome) SuccessRate() float64 {
	if len(o.Results) == 0 {
		return 0
	}
	return float64(o.Succeeded()) / float64(len(o.Results))
}

// Executor drives the act phase.
type Executor struct {
	logger     *slog.Logger
	dispatcher Dispatcher
	store      RecordPersister
	timeout    time.Duration
}

// NewExecutor creates an action executor. timeout <= 0 selects
// DefaultActionTimeout; store may be nil (responses then go unpersisted).
func NewExecutor(dispatcher Dispatcher, store RecordPersister, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:     logger,
		dispatcher: dispatcher,
		store:      store,
		timeout:    timeout,
	}
}

type dispatchResult struct {
	responses []Response
	err       error
}

// Execute dispatches the decision's actions, at most maxConcurrent
// running at once, each under the per-action timeout. The no-op action
// is filtered out before dispatch. Responses are persisted into roomID.
// Execute always returns an outcome; dispatch errors land in
// Outcome.Errors.
func (e *Executor) Execute(ctx context.Context, runID, roomID string, d *decide.Decision, maxConcurrent int) *Outcome {
	outcome := &Outcome{}

	var names []string
	for _, a := range d.Actions {
		if a == decide.ActionIgnore {
			continue
		}
		names = append(names, a)
	}
	if len(names) == 0 {
		return outcome
	}
	if e.dispatcher == nil {
		outcome.Errors = append(outcome.Errors, fmt.Errorf("no action dispatcher configured"))
		e.logger.Warn("actions requested with no dispatcher", "run_id", runID, "actions", names)
		return outcome
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	outcome.Results = make([]Result, len(names))
	for i, name := range names {
		outcome.Results[i] = Result{Name: name, Status: StatusPending}
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, maxConcurrent)
	)
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			outcome.Results[i].Status = StatusRunning
			mu.Unlock()

			start := time.Now()
			responses, err := e.dispatchOne(ctx, Request{
				RunID:         runID,
				Action:        name,
				Text:          d.Text,
				MaxConcurrent: maxConcurrent,
			})

			mu.Lock()
			defer mu.Unlock()
			outcome.Results[i].Duration = time.Since(start)
			if err != nil {
				outcome.Results[i].Status = StatusFailed
				outcome.Results[i].Err = err
				outcome.Errors = append(outcome.Errors, err)
				e.logger.Warn("action failed", "run_id", runID, "action", name, "error", err)
				return
			}
			outcome.Results[i].Status = StatusSucceeded
			for _, resp := range responses {
				if e.persistResponse(ctx, runID, roomID, name, resp) {
					outcome.Persisted++
				}
			}
		}(i, name)
	}
	wg.Wait()

	e.logger.Info("actions executed",
		"run_id", runID,
		"attempted", outcome.Attempted(),
		"succeeded", outcome.Succeeded(),
		"errors", len(outcome.Errors),
	)
	return outcome
}

// dispatchOne runs a single dispatch under the per-action timeout. A
// dispatcher that ignores its context still can't stall the cycle past
// the deadline; its goroutine is abandoned to finish on its own.
func (e *Executor) dispatchOne(ctx context.Context, req Request) ([]Response, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan dispatchResult, 1)
	go func() {
		responses, err := e.dispatcher.Dispatch(actx, req)
		ch <- dispatchResult{responses: responses, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("action %s: %w", req.Action, res.err)
		}
		return res.responses, nil
	case <-actx.Done():
		return nil, fmt.Errorf("action %s timed out after %s: %w", req.Action, e.timeout, actx.Err())
	}
}

func (e *Executor) persistResponse(ctx context.Context, runID, roomID, action string, resp Response) bool {
	if e.store == nil {
		return false
	}
	rec := memory.Record{
		RoomID:  roomID,
		Kind:    memory.KindActionResponse,
		Content: resp.Text,
		Metadata: map[string]any{
			"run_id": runID,
			"action": action,
		},
	}
	if resp.Data != nil {
		rec.Metadata["data"] = resp.Data
	}
	if err := e.store.Persist(ctx, rec); err != nil {
		e.logger.Warn("failed to persist action response", "run_id", runID, "action", action, "error", err)
		return false
	}
	return true
}
