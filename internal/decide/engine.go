// Package decide turns the composed cycle state into a structured
// decision. It builds one inference prompt, invokes the model, parses
// the tagged reply, and retries a bounded number of times on malformed
// output before degrading to a safe no-op decision. A malformed model
// must never fail a cycle.
package decide

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/llm"
	"github.com/praxislabs/praxis-agent/internal/memory"
	"github.com/praxislabs/praxis-agent/internal/orient"
)

// maxAttempts bounds total inference invocations per decision,
// including the first.
const maxAttempts = 3

// RecordPersister is the slice of the memory store the engine needs.
type RecordPersister interface {
	Persist(ctx context.Context, rec memory.Record) error
}

// CallTracker counts external API calls; satisfied by the resource
// monitor. May be nil.
type CallTracker interface {
	TrackAPICall(name string)
}

// State is the composed input to one decision. RoomID scopes the
// persisted decision record to the agent's autonomous room.
type State struct {
	RunID       string
	RoomID      string
	Orientation *orient.Orientation
	Recent      []memory.Record
	Constraints []string
}

// Engine drives the decide phase.
type Engine struct {
	logger  *slog.Logger
	client  llm.Client
	store   RecordPersister
	tracker CallTracker
}

// NewEngine creates a decision engine. store may be nil (decisions are
// then not persisted); tracker may be nil.
func NewEngine(client llm.Client, store RecordPersister, tracker CallTracker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:  logger,
		client:  client,
		store:   store,
		tracker: tracker,
	}
}

// Decide runs one decision pass. It never returns an error for
// malformed model output — after maxAttempts the best partial parse is
// degraded to the IGNORE action. The returned error is reserved for a
// nil inference client.
func (e *Engine) Decide(ctx context.Context, state *State) (*Decision, error) {
	if e.client == nil {
		return nil, fmt.Errorf("no inference client configured")
	}

	prompt := BuildPrompt(state)
	e.logger.Log(ctx, config.LevelTrace, "inference prompt", "prompt", prompt)

	var decision *Decision
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if e.tracker != nil {
			e.tracker.TrackAPICall("inference")
		}

		reply, err := e.client.Complete(ctx, prompt)
		if err != nil {
			e.logger.Warn("inference call failed", "attempt", attempt, "error", err)
			continue
		}
		e.logger.Log(ctx, config.LevelTrace, "inference reply", "reply", reply)

		parsed, perr := ParseReply(reply)
		if perr == nil {
			decision = parsed
			break
		}

		// Keep the best partial parse for the degraded path.
		if decision == nil || partialScore(parsed) > partialScore(decision) {
			decision = parsed
		}
		e.logger.Warn("malformed inference reply", "attempt", attempt, "error", perr)
	}

	if decision == nil {
		decision = &Decision{}
	}
	if len(decision.Actions) == 0 {
		decision.Actions = []string{ActionIgnore}
		classify(decision)
		e.logger.Warn("decision degraded to no-op after retries", "run_id", state.RunID)
	}

	e.persist(ctx, state, decision)

	e.logger.Info("decision made",
		"run_id", state.RunID,
		"actions", decision.Actions,
		"providers", decision.Providers,
		"simple", decision.Simple,
	)
	return decision, nil
}

// partialScore ranks partial parses: more required fields is better.
func partialScore(d *Decision) int {
	score := 0
	if d.Thought != "" {
		score++
	}
	if len(d.Actions) > 0 {
		score++
	}
	return score
}

// persist records the decision as a conversational record before the
// decide phase returns. Persistence failures are logged, never fatal.
func (e *Engine) persist(ctx context.Context, state *State, d *Decision) {
	if e.store == nil {
		return
	}

	content := d.Text
	if content == "" {
		content = d.Thought
	}
	rec := memory.Record{
		RoomID:  state.RoomID,
		Kind:    memory.KindDecision,
		Content: content,
		Metadata: map[string]any{
			"run_id":  state.RunID,
			"thought": d.Thought,
			"actions": d.Actions,
			"simple":  d.Simple,
		},
	}
	if err := e.store.Persist(ctx, rec); err != nil {
		e.logger.Warn("failed to persist decision", "run_id", state.RunID, "error", err)
	}
}

// BuildPrompt renders the composed state into the inference prompt.
// The reply contract mirrors what ParseReply accepts.
func BuildPrompt(state *State) string {
	var sb strings.Builder

	sb.WriteString("# Autonomous Cycle\n\n")
	sb.WriteString("You are the decision engine of an autonomous agent. ")
	sb.WriteString("Review the context below and decide what to do this cycle.\n\n")

	if o := state.Orientation; o != nil {
		if len(o.Goals) > 0 {
			sb.WriteString("## Goals\n\n")
			for _, g := range o.Goals {
				fmt.Fprintf(&sb, "- %s (urgency %.2f, progress %.0f%%)\n", g.Description, g.Priority, g.Progress*100)
			}
			sb.WriteByte('\n')
		}

		if len(o.Factors) > 0 {
			sb.WriteString("## Environmental Factors\n\n")
			for _, f := range o.Factors {
				fmt.Fprintf(&sb, "- %s (impact %.1f)\n", f.Name, f.Impact)
			}
			sb.WriteByte('\n')
		}

		if len(o.Relevant) > 0 {
			sb.WriteString("## Observations\n\n")
			for _, obs := range o.Relevant {
				fmt.Fprintf(&sb, "- [%s] %s (relevance %.2f)\n", obs.Type, obs.Source, obs.Relevance)
				if text, ok := obs.Data["text"].(string); ok && text != "" {
					fmt.Fprintf(&sb, "  %s\n", text)
				}
			}
			sb.WriteByte('\n')
		}

		if o.History != nil {
			if failures := o.History.Failures(); len(failures) > 0 {
				sb.WriteString("## Recent Failure Patterns\n\n")
				for _, f := range failures {
					fmt.Fprintf(&sb, "- %s\n", f)
				}
				sb.WriteByte('\n')
			}
		}
	}

	if len(state.Constraints) > 0 {
		sb.WriteString("## Resource Constraints\n\n")
		for _, c := range state.Constraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteByte('\n')
	}

	if len(state.Recent) > 0 {
		sb.WriteString("## Recent Activity\n\n")
		for _, r := range state.Recent {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.Kind, r.Content)
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("## Reply Format\n\n")
	sb.WriteString("Reply with exactly these tagged blocks:\n\n")
	sb.WriteString("<thought>your reasoning</thought>\n")
	sb.WriteString("<text>your reply text</text>\n")
	sb.WriteString("<actions>COMMA,SEPARATED,ACTION,NAMES</actions>\n")
	sb.WriteString("<providers>comma-separated provider names, or empty</providers>\n")
	sb.WriteString("<evaluators>comma-separated evaluator names, or empty</evaluators>\n")
	sb.WriteString("<simple>true if a plain reply suffices, else false</simple>\n\n")
	sb.WriteString("Use the action REPLY for a plain reply and IGNORE to do nothing.\n")

	return sb.String()
}
