package loop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/praxislabs/praxis-agent/internal/act"
	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/decide"
	"github.com/praxislabs/praxis-agent/internal/goals"
	"github.com/praxislabs/praxis-agent/internal/observe"
	"github.com/praxislabs/praxis-agent/internal/orient"
	"github.com/praxislabs/praxis-agent/internal/reflect"
)

type fakeCollector struct {
	mu    sync.Mutex
	obs   []observe.Observation
	noted []error
	bound string
}

func (c *fakeCollector) Collect(context.Context) []observe.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obs
}

func (c *fakeCollector) NoteError(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noted = append(c.noted, err)
}

func (c *fakeCollector) BindRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = roomID
}

func (c *fakeCollector) notedErrors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.noted...)
}

type fakeDecider struct {
	mu        sync.Mutex
	calls     int
	lastState *decide.State
	decision  *decide.Decision
	err       error
	panicMsg  string

	block     chan struct{} // when non-nil, Decide parks here
	started   chan struct{}
	startOnce sync.Once
}

func (d *fakeDecider) Decide(_ context.Context, state *decide.State) (*decide.Decision, error) {
	d.mu.Lock()
	d.calls++
	d.lastState = state
	d.mu.Unlock()

	if d.started != nil {
		d.startOnce.Do(func() { close(d.started) })
	}
	if d.block != nil {
		<-d.block
	}
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.decision, d.err
}

func (d *fakeDecider) state() *decide.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastState
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	lastCap int
	outcome *act.Outcome
}

func (e *fakeExecutor) Execute(_ context.Context, _, _ string, _ *decide.Decision, maxConcurrent int) *act.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastCap = maxConcurrent
	if e.outcome != nil {
		return e.outcome
	}
	return &act.Outcome{}
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type countEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (e *countEvaluator) Name() string { return "counter" }

func (e *countEvaluator) Evaluate(context.Context, *Cycle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return nil
}

func (e *countEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeRooms struct {
	id  string
	err error
}

func (r *fakeRooms) EnsureRoom(context.Context, string) (string, error) {
	return r.id, r.err
}

func testLoopConfig() config.LoopConfig {
	return config.LoopConfig{
		// One hour: the first cycle fires at zero delay and the re-armed
		// timer never fires inside a test.
		IntervalMS:           3600000,
		MinIntervalMS:        1000,
		MaxConcurrentActions: 3,
		RoomName:             "autonomous",
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduler_AtMostOneActiveCycle(t *testing.T) {
	collector := &fakeCollector{}
	decider := &fakeDecider{
		decision: &decide.Decision{Actions: []string{decide.ActionIgnore}},
		block:    make(chan struct{}),
		started:  make(chan struct{}),
	}
	s := NewScheduler(testLoopConfig(), Deps{Collector: collector, Decider: decider}, nil)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-decider.started // first cycle is now parked in the decide phase

	s.Kick(context.Background())
	waitFor(t, "skipped cycle", func() bool { return s.Stats()["skipped"].(int) == 1 })
	if got := s.Stats()["cycles"].(int); got != 0 {
		t.Errorf("completed cycles = %d while first still active", got)
	}

	close(decider.block)
	waitFor(t, "cycle completion", func() bool { return s.Stats()["cycles"].(int) == 1 })
	if got := s.Stats()["skipped"].(int); got != 1 {
		t.Errorf("skipped = %d, want exactly 1", got)
	}
}

func TestScheduler_SimpleResponseSkipsDispatchButEvaluates(t *testing.T) {
	decider := &fakeDecider{decision: &decide.Decision{
		Thought:   "just say hi",
		Text:      "hi",
		Actions:   []string{decide.ActionReply},
		Simple:    true,
		Requested: 1,
	}}
	executor := &fakeExecutor{}
	eval := &countEvaluator{}

	s := NewScheduler(testLoopConfig(), Deps{Decider: decider, Executor: executor}, nil)
	s.RegisterEvaluator(eval)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "cycle completion", func() bool { return s.Stats()["cycles"].(int) == 1 })

	if executor.callCount() != 0 {
		t.Errorf("dispatch calls = %d, want 0 for a simple response", executor.callCount())
	}
	if eval.callCount() != 1 {
		t.Errorf("evaluator calls = %d, want 1", eval.callCount())
	}
}

func TestScheduler_StopTimeoutBounded(t *testing.T) {
	s := NewScheduler(testLoopConfig(), Deps{}, nil)
	s.stopPoll = 20 * time.Millisecond
	s.stopMax = 300 * time.Millisecond

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cycleActive.Store(true) // a cycle that never clears its flag

	start := time.Now()
	s.Stop()
	elapsed := time.Since(start)

	if elapsed < s.stopMax || elapsed > s.stopMax+200*time.Millisecond {
		t.Errorf("Stop returned after %v, want about %v", elapsed, s.stopMax)
	}
	if got := s.Stats()["forced_stops"].(int); got != 1 {
		t.Errorf("forced stops = %d, want 1", got)
	}
}

func TestScheduler_StopWaitsForActiveCycle(t *testing.T) {
	decider := &fakeDecider{
		decision: &decide.Decision{Actions: []string{decide.ActionIgnore}},
		block:    make(chan struct{}),
		started:  make(chan struct{}),
	}
	s := NewScheduler(testLoopConfig(), Deps{Decider: decider}, nil)
	s.stopPoll = 10 * time.Millisecond

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-decider.started

	time.AfterFunc(50*time.Millisecond, func() { close(decider.block) })
	s.Stop()

	if s.cycleActive.Load() {
		t.Error("cycle still active after graceful stop")
	}
	if got := s.Stats()["forced_stops"].(int); got != 0 {
		t.Errorf("forced stops = %d, want 0", got)
	}
}

func TestScheduler_RoomProvisioning(t *testing.T) {
	collector := &fakeCollector{}
	s := NewScheduler(testLoopConfig(), Deps{Collector: collector, Rooms: &fakeRooms{id: "room-123"}}, nil)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.RoomID(); got != "room-123" {
		t.Errorf("room = %q, want provisioned ID", got)
	}
	if collector.bound != "room-123" {
		t.Errorf("collector bound to %q, want provisioned room", collector.bound)
	}
}

func TestScheduler_RoomProvisioningFallsBackToTempScope(t *testing.T) {
	s := NewScheduler(testLoopConfig(), Deps{Rooms: &fakeRooms{err: errors.New("db down")}}, nil)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	room := s.RoomID()
	if !strings.HasPrefix(room, "autonomous-") || room == "autonomous-" {
		t.Errorf("room = %q, want generated temporary scope", room)
	}
}

func TestScheduler_CycleErrorsNotedForNextCollect(t *testing.T) {
	collector := &fakeCollector{}
	decider := &fakeDecider{err: errors.New("model offline")}
	s := NewScheduler(testLoopConfig(), Deps{Collector: collector, Decider: decider}, nil)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "cycle completion", func() bool { return s.Stats()["cycles"].(int) == 1 })

	noted := collector.notedErrors()
	if len(noted) != 1 || !strings.Contains(noted[0].Error(), "model offline") {
		t.Errorf("noted errors = %v, want the decide failure", noted)
	}
}

func TestScheduler_PanicRecordsPhaseAndSchedulesNext(t *testing.T) {
	collector := &fakeCollector{}
	decider := &fakeDecider{panicMsg: "prompt template exploded"}
	s := NewScheduler(testLoopConfig(), Deps{Collector: collector, Decider: decider}, nil)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "cycle completion", func() bool { return s.Stats()["cycles"].(int) == 1 })

	noted := collector.notedErrors()
	if len(noted) != 1 {
		t.Fatalf("noted errors = %v, want one panic error", noted)
	}
	if !strings.Contains(noted[0].Error(), string(PhaseDeciding)) {
		t.Errorf("error = %v, want the phase it occurred in", noted[0])
	}

	// The next cycle still fires.
	s.Kick(context.Background())
	waitFor(t, "second cycle", func() bool { return s.Stats()["cycles"].(int) == 2 })
}

func TestScheduler_EndToEndConstrainedCycle(t *testing.T) {
	collector := &fakeCollector{obs: []observe.Observation{{
		Timestamp: time.Now(),
		Type:      observe.TypeSystemState,
		Source:    "resource_monitor",
		Data: map[string]any{
			"cpu":         95.0,
			"memory":      50.0,
			"slots_used":  3,
			"slots_total": 3,
		},
		Relevance: 1.0,
	}}}
	gs := goals.NewSet(nil)
	decider := &fakeDecider{decision: &decide.Decision{Actions: []string{decide.ActionIgnore}}}

	cfg := testLoopConfig()
	cfg.IntervalMS = 5000
	s := NewScheduler(cfg, Deps{
		Collector: collector,
		Builder:   orient.NewBuilder(gs, nil, nil),
		Decider:   decider,
		Reflector: reflect.NewEngine(nil, gs, nil),
	}, nil)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "cycle completion", func() bool { return s.Stats()["cycles"].(int) == 1 })

	state := decider.state()
	if state == nil || state.Orientation == nil {
		t.Fatal("decider never received orientation")
	}
	var haveResource, haveCapacity bool
	for _, f := range state.Orientation.Factors {
		switch f.Name {
		case orient.FactorResourceConstraint:
			haveResource = true
		case orient.FactorCapacityLimit:
			haveCapacity = true
		}
	}
	if !haveResource || !haveCapacity {
		t.Errorf("factors = %v, want resource_constraint and capacity_limit", state.Orientation.Factors)
	}

	// Zero decisions: the idle backoff steps 5000 to 7500.
	if got := s.Stats()["loop_delay_ms"].(int64); got != 7500 {
		t.Errorf("adapted delay = %dms, want 7500", got)
	}
}

func TestOutcomeEvaluator(t *testing.T) {
	var ev OutcomeEvaluator
	ctx := context.Background()

	if err := ev.Evaluate(ctx, &Cycle{}); err != nil {
		t.Errorf("empty cycle: %v", err)
	}

	mixed := &Cycle{Outcome: &act.Outcome{Results: []act.Result{
		{Name: "A", Status: act.StatusSucceeded},
		{Name: "B", Status: act.StatusFailed},
	}}}
	if err := ev.Evaluate(ctx, mixed); err != nil {
		t.Errorf("partial success: %v", err)
	}

	allFailed := &Cycle{Outcome: &act.Outcome{Results: []act.Result{
		{Name: "A", Status: act.StatusFailed},
		{Name: "B", Status: act.StatusFailed},
	}}}
	if err := ev.Evaluate(ctx, allFailed); err == nil {
		t.Error("expected error when every action failed")
	}
}
