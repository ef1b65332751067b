package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/praxislabs/praxis-agent/internal/goals"
	"github.com/praxislabs/praxis-agent/internal/provider"
	"github.com/praxislabs/praxis-agent/internal/resource"
	"github.com/praxislabs/praxis-agent/internal/tasks"
)

// Sampler is the read-only view of the resource monitor the collector
// needs.
type Sampler interface {
	Sample() resource.Snapshot
}

// TaskQuerier is the optional task-store capability. Hosts without a
// backlog leave it nil and collection degrades to skipping
// task-derived observations.
type TaskQuerier interface {
	Query(ctx context.Context, f tasks.Filter) ([]tasks.Task, error)
}

// DefaultProviderRelevance is the static per-provider-name relevance
// table. Providers not listed score the 0.5 default.
var DefaultProviderRelevance = map[string]float64{
	"feed": 0.8,
	"mqtt": 0.6,
}

const defaultProviderScore = 0.5

// Collector gathers one cycle's observations.
type Collector struct {
	logger    *slog.Logger
	providers *provider.Registry
	taskStore TaskQuerier
	monitor   Sampler
	goalSet   *goals.Set
	feedName  string
	relevance map[string]float64
	nowFunc   func() time.Time

	roomMu sync.Mutex
	roomID string

	errMu   sync.Mutex
	pending []Observation // error observations noted since last collect
}

// NewCollector creates a collector. taskStore may be nil. feedName
// names the always-included feed provider; it is collected even when
// marked private. Backlog queries are unscoped until BindRoom is
// called.
func NewCollector(reg *provider.Registry, taskStore TaskQuerier, monitor Sampler, goalSet *goals.Set, feedName string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		logger:    logger,
		providers: reg,
		taskStore: taskStore,
		monitor:   monitor,
		goalSet:   goalSet,
		feedName:  feedName,
		relevance: DefaultProviderRelevance,
		nowFunc:   time.Now,
	}
}

// BindRoom scopes backlog queries to the agent's provisioned room. The
// scheduler calls this once after room provisioning at startup.
func (c *Collector) BindRoom(roomID string) {
	c.roomMu.Lock()
	c.roomID = roomID
	c.roomMu.Unlock()
}

func (c *Collector) room() string {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	return c.roomID
}

// NoteError queues an ERROR_OCCURRED observation for the next collect.
// The loop calls this for action failures and cycle errors so the
// orientation builder can detect error surges.
func (c *Collector) NoteError(source string, err error) {
	if err == nil {
		return
	}
	obs := Observation{
		Timestamp: c.nowFunc(),
		Type:      TypeError,
		Source:    source,
		Data:      map[string]any{"error": err.Error()},
		Relevance: 0.8,
	}

	c.errMu.Lock()
	c.pending = append(c.pending, obs)
	c.errMu.Unlock()
}

// Collect gathers observations from every source. It always returns
// whatever succeeded; per-source failures are logged at warning level
// and skipped.
func (c *Collector) Collect(ctx context.Context) []Observation {
	var out []Observation

	out = append(out, c.collectProviders(ctx)...)
	out = append(out, c.collectTasks(ctx)...)
	out = append(out, c.collectSystemState()...)
	out = append(out, c.collectGoals()...)
	out = append(out, c.drainErrors()...)

	return out
}

// collectProviders queries every non-private provider, plus the feed
// provider regardless of its private flag.
func (c *Collector) collectProviders(ctx context.Context) []Observation {
	if c.providers == nil {
		return nil
	}

	var out []Observation
	for _, p := range c.providers.All() {
		if p.Private() && p.Name() != c.feedName {
			continue
		}

		res, err := p.Get(ctx)
		if err != nil {
			c.logger.Warn("provider query failed, skipping", "provider", p.Name(), "error", err)
			continue
		}
		if res.Text == "" && len(res.Data) == 0 {
			continue
		}

		data := map[string]any{}
		if res.Text != "" {
			data["text"] = res.Text
		}
		if len(res.Data) > 0 {
			data["data"] = res.Data
		}

		out = append(out, Observation{
			Timestamp: c.nowFunc(),
			Type:      TypeExternalEvent,
			Source:    p.Name(),
			Data:      data,
			Relevance: c.providerRelevance(p.Name()),
		})
	}
	return out
}

// providerRelevance looks a provider up in the static relevance table.
func (c *Collector) providerRelevance(name string) float64 {
	if score, ok := c.relevance[name]; ok {
		return clampRelevance(score)
	}
	return defaultProviderScore
}

// collectTasks queries the backlog scoped to the agent's room. A nil
// task store degrades to no task observations.
func (c *Collector) collectTasks(ctx context.Context) []Observation {
	if c.taskStore == nil {
		return nil
	}

	list, err := c.taskStore.Query(ctx, tasks.Filter{RoomID: c.room()})
	if err != nil {
		c.logger.Warn("task query failed, skipping", "error", err)
		return nil
	}

	now := c.nowFunc()
	out := make([]Observation, 0, len(list))
	for i := range list {
		t := &list[i]
		out = append(out, Observation{
			Timestamp: now,
			Type:      TypeTaskStatus,
			Source:    "tasks",
			Data: map[string]any{
				"id":     t.ID,
				"name":   t.Name,
				"status": t.Status,
				"tags":   t.Tags,
			},
			Relevance: TaskRelevance(t, now),
		})
	}
	return out
}

// TaskRelevance scores one backlog task: base 0.5, boosted by urgency
// tags and recency, capped at 1.0.
func TaskRelevance(t *tasks.Task, now time.Time) float64 {
	score := 0.5
	if t.HasTag("urgent") {
		score += 0.3
	}
	if t.HasTag("high-priority") {
		score += 0.2
	}
	if t.HasTag("autonomous") {
		score += 0.1
	}

	age := now.Sub(t.CreatedAt)
	switch {
	case age < time.Hour:
		score += 0.2
	case age < 24*time.Hour:
		score += 0.1
	}

	return clampRelevance(score)
}

// collectSystemState takes one observation from the resource monitor.
func (c *Collector) collectSystemState() []Observation {
	if c.monitor == nil {
		return nil
	}

	snap := c.monitor.Sample()
	return []Observation{{
		Timestamp: c.nowFunc(),
		Type:      TypeSystemState,
		Source:    "resource_monitor",
		Data: map[string]any{
			"cpu":         snap.CPU,
			"memory":      snap.Memory,
			"disk":        snap.DiskSpace,
			"slots_used":  snap.TaskSlots.Used,
			"slots_total": snap.TaskSlots.Total,
			"api_calls":   snap.APICalls,
		},
		Relevance: SystemRelevance(snap),
	}}
}

// SystemRelevance scores a resource snapshot: base 0.3, raised by each
// pressure signal, capped at 1.0.
func SystemRelevance(snap resource.Snapshot) float64 {
	score := 0.3
	if snap.CPU > 80 {
		score += 0.3
	}
	if snap.Memory > 80 {
		score += 0.2
	}
	if snap.TaskSlots.Total > 0 && snap.TaskSlots.Used >= snap.TaskSlots.Total {
		score += 0.4
	}
	return clampRelevance(score)
}

// collectGoals emits one GOAL_PROGRESS observation per tracked goal.
func (c *Collector) collectGoals() []Observation {
	if c.goalSet == nil {
		return nil
	}

	now := c.nowFunc()
	gs := c.goalSet.All()
	out := make([]Observation, 0, len(gs))
	for _, g := range gs {
		out = append(out, Observation{
			Timestamp: now,
			Type:      TypeGoalProgress,
			Source:    "goals",
			Data: map[string]any{
				"id":          g.ID,
				"description": g.Description,
				"priority":    g.Priority,
				"progress":    g.Progress,
			},
			Relevance: clampRelevance(0.6 + g.Priority/10),
		})
	}
	return out
}

// drainErrors returns and clears the error observations noted since
// the previous collect.
func (c *Collector) drainErrors() []Observation {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}
