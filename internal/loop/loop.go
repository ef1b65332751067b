// Package loop drives the autonomous cycle: observe, orient, decide,
// act, evaluate, reflect. One cycle runs to completion before the next
// is armed; only the delay timer is concurrent with "no cycle active".
// A cycle-fatal error tears the cycle down and still schedules the
// next one — the loop is never fatal to a single error.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/praxislabs/praxis-agent/internal/act"
	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/decide"
	"github.com/praxislabs/praxis-agent/internal/memory"
	"github.com/praxislabs/praxis-agent/internal/observe"
	"github.com/praxislabs/praxis-agent/internal/orient"
	"github.com/praxislabs/praxis-agent/internal/reflect"
)

// Phase of the cycle state machine.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseObserving  Phase = "OBSERVING"
	PhaseOrienting  Phase = "ORIENTING"
	PhaseDeciding   Phase = "DECIDING"
	PhaseActing     Phase = "ACTING"
	PhaseReflecting Phase = "REFLECTING"
)

// recentRecords bounds the conversational history handed to the
// decision engine.
const recentRecords = 10

const (
	defaultStopPoll = 100 * time.Millisecond
	defaultStopMax  = 30 * time.Second
)

// Cycle is the per-cycle context. It is created fresh each cycle and
// owned exclusively by the single active cycle.
type Cycle struct {
	RunID        string
	RoomID       string
	StartTime    time.Time
	Phase        Phase
	Observations []observe.Observation
	Orientation  orient.Orientation
	Decision     *decide.Decision
	Outcome      *act.Outcome
	Errors       []error
	Metrics      reflect.Metrics
}

// ObservationSource is the collector as the scheduler sees it.
type ObservationSource interface {
	Collect(ctx context.Context) []observe.Observation
	NoteError(source string, err error)
}

// roomBinder is implemented by sources that scope queries to the
// provisioned room.
type roomBinder interface {
	BindRoom(roomID string)
}

// Decider runs the decide phase.
type Decider interface {
	Decide(ctx context.Context, state *decide.State) (*decide.Decision, error)
}

// ActionExecutor runs the act phase.
type ActionExecutor interface {
	Execute(ctx context.Context, runID, roomID string, d *decide.Decision, maxConcurrent int) *act.Outcome
}

// Reflector runs the reflect phase and steps the adaptive parameters.
type Reflector interface {
	Reflect(report *reflect.Report, params *reflect.Params) reflect.Metrics
}

// RoomProvisioner prepares the agent's persistent room scope at
// startup. Satisfied by the memory store.
type RoomProvisioner interface {
	EnsureRoom(ctx context.Context, name string) (string, error)
}

// RecentReader reads recent conversational records for prompt context.
type RecentReader interface {
	Recent(ctx context.Context, roomID string, limit int) ([]memory.Record, error)
}

// ConstraintLister reports active resource constraints. Satisfied by
// the resource monitor.
type ConstraintLister interface {
	ListConstraints() []string
}

// Deps are the scheduler's collaborators. Any of them may be nil; the
// corresponding phase degrades to a no-op.
type Deps struct {
	Collector ObservationSource
	Builder   *orient.Builder
	Decider   Decider
	Executor  ActionExecutor
	Reflector Reflector
	Rooms     RoomProvisioner
	Records   RecentReader
	Monitor   ConstraintLister
}

// Scheduler owns the cycle timer, the single-active-cycle gate, and
// the two adaptive parameters the reflect phase steps.
type Scheduler struct {
	logger     *slog.Logger
	cfg        config.LoopConfig
	deps       Deps
	evaluators []Evaluator

	mu          sync.Mutex
	params      reflect.Params
	running     bool
	timer       *time.Timer
	roomID      string
	cycles      int
	skipped     int
	forcedStops int
	lastMetrics reflect.Metrics

	cycleActive atomic.Bool

	stopPoll time.Duration
	stopMax  time.Duration
	nowFunc  func() time.Time
	newRunID func() string
}

// NewScheduler creates a stopped scheduler. Call Start to arm the
// first cycle.
func NewScheduler(cfg config.LoopConfig, deps Deps, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		cfg:    cfg,
		deps:   deps,
		params: reflect.Params{
			LoopDelay:            time.Duration(cfg.IntervalMS) * time.Millisecond,
			MinLoopDelay:         time.Duration(cfg.MinIntervalMS) * time.Millisecond,
			MaxConcurrentActions: cfg.MaxConcurrentActions,
		},
		stopPoll: defaultStopPoll,
		stopMax:  defaultStopMax,
		nowFunc:  time.Now,
		newRunID: func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.NewString()
			}
			return id.String()
		},
	}
}

// RegisterEvaluator adds an evaluator. Evaluators run in registration
// order after the act phase of every cycle, simple responses included.
// Not safe to call after Start.
func (s *Scheduler) RegisterEvaluator(e Evaluator) {
	s.evaluators = append(s.evaluators, e)
}

// Start provisions the agent's room, loads timing parameters, and arms
// the first cycle with zero delay.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("loop already running")
	}
	s.running = true
	s.mu.Unlock()

	s.provisionRoom(ctx)

	s.mu.Lock()
	room := s.roomID
	delay := s.params.LoopDelay
	s.mu.Unlock()
	s.logger.Info("autonomous loop starting",
		"room_id", room,
		"interval_ms", delay.Milliseconds(),
		"max_concurrent", s.cfg.MaxConcurrentActions,
	)

	s.arm(ctx, 0)
	return nil
}

// Stop flips the running flag and waits for the active cycle to clear,
// polling until the stop deadline. An overrunning cycle is abandoned
// with a warning, never killed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	start := time.Now()
	for s.cycleActive.Load() {
		if time.Since(start) >= s.stopMax {
			s.mu.Lock()
			s.forcedStops++
			s.mu.Unlock()
			s.logger.Warn("stop timed out with a cycle still active, abandoning it",
				"waited", time.Since(start).Round(time.Millisecond))
			return
		}
		time.Sleep(s.stopPoll)
	}
	s.logger.Info("autonomous loop stopped")
}

// Kick schedules an immediate cycle attempt, subject to the same
// single-active-cycle gate as timer-driven cycles.
func (s *Scheduler) Kick(ctx context.Context) {
	go s.tick(ctx)
}

// RoomID returns the provisioned room scope, empty before Start.
func (s *Scheduler) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Stats returns scheduler statistics for introspection.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":        s.running,
		"room_id":        s.roomID,
		"cycles":         s.cycles,
		"skipped":        s.skipped,
		"forced_stops":   s.forcedStops,
		"loop_delay_ms":  s.params.LoopDelay.Milliseconds(),
		"max_concurrent": s.params.MaxConcurrentActions,
	}
}

// provisionRoom ensures the persistent room scope, falling back to a
// temporary scope ID rather than failing startup.
func (s *Scheduler) provisionRoom(ctx context.Context) {
	name := s.cfg.RoomName
	if name == "" {
		name = "autonomous"
	}

	var roomID string
	if s.deps.Rooms != nil {
		id, err := s.deps.Rooms.EnsureRoom(ctx, name)
		if err == nil {
			roomID = id
		} else {
			s.logger.Warn("room provisioning failed, using temporary scope", "room", name, "error", err)
		}
	}
	if roomID == "" {
		roomID = fmt.Sprintf("%s-%s", name, s.newRunID())
	}

	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
	if b, ok := s.deps.Collector.(roomBinder); ok {
		b.BindRoom(roomID)
	}
}

// arm schedules the next cycle attempt, replacing any pending timer.
func (s *Scheduler) arm(ctx context.Context, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() { s.tick(ctx) })
}

// tick is one scheduled invocation: run a cycle if none is active,
// otherwise log the skip, then re-arm with the current adapted delay.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running || ctx.Err() != nil {
		return
	}

	if !s.cycleActive.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.skipped++
		delay := s.params.LoopDelay
		s.mu.Unlock()
		s.logger.Warn("cycle skipped, previous cycle still active")
		s.arm(ctx, delay)
		return
	}

	func() {
		defer s.cycleActive.Store(false)
		s.runCycle(ctx)
	}()

	s.mu.Lock()
	delay := s.params.LoopDelay
	s.mu.Unlock()
	s.arm(ctx, delay)
}

// runCycle executes one full cycle. The evaluate and reflect stages
// always run, even when an earlier phase failed or the response was
// simple.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	room := s.roomID
	s.mu.Unlock()

	cycle := &Cycle{
		RunID:     s.newRunID(),
		RoomID:    room,
		StartTime: s.nowFunc(),
		Phase:     PhaseObserving,
	}
	s.logger.Debug("cycle starting", "run_id", cycle.RunID)

	s.runPhases(ctx, cycle)
	s.evaluate(ctx, cycle)
	s.reflect(cycle)
	s.noteErrors(cycle)

	s.mu.Lock()
	s.cycles++
	s.lastMetrics = cycle.Metrics
	s.mu.Unlock()
	s.logger.Debug("cycle finished",
		"run_id", cycle.RunID,
		"observations", len(cycle.Observations),
		"errors", len(cycle.Errors),
	)
}

// runPhases walks observe, orient, decide, act. A panic in any phase
// records the phase and error, then falls through to cycle teardown.
func (s *Scheduler) runPhases(ctx context.Context, cycle *Cycle) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s phase: %v", cycle.Phase, r)
			cycle.Errors = append(cycle.Errors, err)
			s.logger.Error("cycle aborted", "run_id", cycle.RunID, "phase", cycle.Phase, "error", err)
		}
	}()

	cycle.Phase = PhaseObserving
	if s.deps.Collector != nil {
		cycle.Observations = s.deps.Collector.Collect(ctx)
	}

	cycle.Phase = PhaseOrienting
	if s.deps.Builder != nil {
		s.deps.Builder.Orient(cycle.Observations, &cycle.Orientation)
	}

	cycle.Phase = PhaseDeciding
	if s.deps.Decider == nil {
		return
	}
	state := &decide.State{
		RunID:       cycle.RunID,
		RoomID:      cycle.RoomID,
		Orientation: &cycle.Orientation,
		Recent:      s.recent(ctx, cycle.RoomID),
	}
	if s.deps.Monitor != nil {
		state.Constraints = s.deps.Monitor.ListConstraints()
	}
	decision, err := s.deps.Decider.Decide(ctx, state)
	if err != nil {
		cycle.Errors = append(cycle.Errors, fmt.Errorf("decide: %w", err))
		return
	}
	cycle.Decision = decision

	cycle.Phase = PhaseActing
	if decision.Simple {
		s.logger.Debug("simple response, action dispatch skipped", "run_id", cycle.RunID)
		return
	}
	if s.deps.Executor != nil {
		outcome := s.deps.Executor.Execute(ctx, cycle.RunID, cycle.RoomID, decision, s.maxConcurrent())
		cycle.Outcome = outcome
		cycle.Errors = append(cycle.Errors, outcome.Errors...)
	}
}

// evaluate runs every registered evaluator. Evaluator errors join the
// cycle error list; they never stop the remaining evaluators.
func (s *Scheduler) evaluate(ctx context.Context, cycle *Cycle) {
	for _, ev := range s.evaluators {
		if err := ev.Evaluate(ctx, cycle); err != nil {
			cycle.Errors = append(cycle.Errors, fmt.Errorf("evaluator %s: %w", ev.Name(), err))
			s.logger.Warn("evaluator flagged cycle", "run_id", cycle.RunID, "evaluator", ev.Name(), "error", err)
		}
	}
}

// reflect closes the cycle and steps the adaptive parameters in place.
func (s *Scheduler) reflect(cycle *Cycle) {
	cycle.Phase = PhaseReflecting
	if s.deps.Reflector == nil {
		cycle.Phase = PhaseIdle
		return
	}

	decisions := 0
	if cycle.Decision != nil {
		decisions = cycle.Decision.Requested
	}
	report := &reflect.Report{
		RunID:     cycle.RunID,
		CycleTime: s.nowFunc().Sub(cycle.StartTime),
		Decisions: decisions,
		Errors:    len(cycle.Errors),
		Outcome:   cycle.Outcome,
	}

	s.mu.Lock()
	cycle.Metrics = s.deps.Reflector.Reflect(report, &s.params)
	s.mu.Unlock()
	cycle.Phase = PhaseIdle
}

// noteErrors queues this cycle's errors as observations for the next
// collect, so the orientation builder can see error surges.
func (s *Scheduler) noteErrors(cycle *Cycle) {
	if s.deps.Collector == nil {
		return
	}
	for _, err := range cycle.Errors {
		s.deps.Collector.NoteError("loop", err)
	}
}

func (s *Scheduler) recent(ctx context.Context, roomID string) []memory.Record {
	if s.deps.Records == nil {
		return nil
	}
	recs, err := s.deps.Records.Recent(ctx, roomID, recentRecords)
	if err != nil {
		s.logger.Warn("failed to read recent records", "error", err)
		return nil
	}
	return recs
}

func (s *Scheduler) maxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.MaxConcurrentActions
}
