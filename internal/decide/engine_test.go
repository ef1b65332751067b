package decide

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/praxislabs/praxis-agent/internal/goals"
	"github.com/praxislabs/praxis-agent/internal/memory"
	"github.com/praxislabs/praxis-agent/internal/orient"
)

// fakeClient replays a sequence of replies, holding the last forever.
type fakeClient struct {
	replies []string
	err     error
	calls   int
}

func (c *fakeClient) Complete(context.Context, string) (string, error) {
	i := c.calls
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return c.replies[i], nil
}

func (c *fakeClient) Ping(context.Context) error { return nil }

type fakeStore struct {
	records []memory.Record
	err     error
}

func (s *fakeStore) Persist(_ context.Context, rec memory.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

const goodReply = `<thought>nothing urgent</thought>
<text>all quiet</text>
<actions>REPLY</actions>
<providers></providers>
<evaluators>outcome</evaluators>
<simple>true</simple>`

func TestDecide_ParsesAndPersists(t *testing.T) {
	client := &fakeClient{replies: []string{goodReply}}
	store := &fakeStore{}
	e := NewEngine(client, store, nil, nil)

	d, err := e.Decide(context.Background(), &State{RunID: "run-1", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if client.calls != 1 {
		t.Errorf("inference calls = %d, want 1", client.calls)
	}
	if d.Thought != "nothing urgent" || d.Text != "all quiet" {
		t.Errorf("decision = %+v", d)
	}
	if !d.Simple {
		t.Error("expected simple classification for lone REPLY")
	}
	if d.Requested != 1 {
		t.Errorf("Requested = %d, want 1", d.Requested)
	}
	if len(d.Evaluators) != 1 || d.Evaluators[0] != "outcome" {
		t.Errorf("evaluators = %v", d.Evaluators)
	}

	if len(store.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(store.records))
	}
	rec := store.records[0]
	if rec.Kind != memory.KindDecision || rec.RoomID != "room-1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Metadata["run_id"] != "run-1" {
		t.Errorf("record metadata = %v", rec.Metadata)
	}
}

func TestDecide_RetryThenDegrade(t *testing.T) {
	client := &fakeClient{replies: []string{"garbage", "<text>still no</text>", "nope"}}
	e := NewEngine(client, nil, nil, nil)

	d, err := e.Decide(context.Background(), &State{RunID: "run-2"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if client.calls != 3 {
		t.Errorf("inference calls = %d, want exactly 3", client.calls)
	}
	if len(d.Actions) != 1 || d.Actions[0] != ActionIgnore {
		t.Errorf("actions = %v, want degraded IGNORE", d.Actions)
	}
	if d.Requested != 0 {
		t.Errorf("Requested = %d, want 0 for degraded decision", d.Requested)
	}
	// Partial content survives the degrade.
	if d.Text != "still no" {
		t.Errorf("text = %q, want partial content kept", d.Text)
	}
}

func TestDecide_RetrySucceedsMidway(t *testing.T) {
	client := &fakeClient{replies: []string{"garbage", goodReply}}
	e := NewEngine(client, nil, nil, nil)

	d, err := e.Decide(context.Background(), &State{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("inference calls = %d, want 2", client.calls)
	}
	if d.Thought != "nothing urgent" {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecide_InferenceErrorDegrades(t *testing.T) {
	client := &fakeClient{err: errors.New("model offline")}
	e := NewEngine(client, nil, nil, nil)

	d, err := e.Decide(context.Background(), &State{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("inference calls = %d, want 3", client.calls)
	}
	if len(d.Actions) != 1 || d.Actions[0] != ActionIgnore {
		t.Errorf("actions = %v, want IGNORE", d.Actions)
	}
}

func TestDecide_NilClient(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil)
	if _, err := e.Decide(context.Background(), &State{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestParseReply_Classification(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		simple bool
	}{
		{
			"lone reply is simple",
			"<thought>t</thought><actions>REPLY</actions>",
			true,
		},
		{
			"reply plus another action is not simple",
			"<thought>t</thought><actions>REPLY, SEARCH</actions>",
			false,
		},
		{
			"reply with providers is not simple",
			"<thought>t</thought><actions>REPLY</actions><providers>feed</providers>",
			false,
		},
		{
			"model cannot claim simple for non-reply shape",
			"<thought>t</thought><actions>SEARCH</actions><simple>true</simple>",
			false,
		},
	}

	for _, tt := range tests {
		d, err := ParseReply(tt.reply)
		if err != nil {
			t.Errorf("%s: unexpected parse error: %v", tt.name, err)
			continue
		}
		if d.Simple != tt.simple {
			t.Errorf("%s: simple = %v, want %v", tt.name, d.Simple, tt.simple)
		}
	}
}

func TestParseReply_NormalizesActions(t *testing.T) {
	d, err := ParseReply("<thought>t</thought><actions> reply , search ,</actions>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(d.Actions) != 2 || d.Actions[0] != "REPLY" || d.Actions[1] != "SEARCH" {
		t.Errorf("actions = %v", d.Actions)
	}
}

func TestParseReply_MissingFields(t *testing.T) {
	if _, err := ParseReply("<actions>REPLY</actions>"); err == nil {
		t.Error("expected error for missing thought")
	}
	if _, err := ParseReply("<thought>t</thought>"); err == nil {
		t.Error("expected error for missing actions")
	}
	d, err := ParseReply("no tags at all")
	if err == nil {
		t.Error("expected error for tagless reply")
	}
	if d == nil {
		t.Error("expected partial decision even on error")
	}
}

func TestBuildPrompt_IncludesContext(t *testing.T) {
	state := &State{
		RunID: "r",
		Orientation: &orient.Orientation{
			Goals:   []*goals.Goal{{Description: "Complete pending tasks", Priority: 0.5}},
			Factors: []orient.Factor{{Name: orient.FactorResourceConstraint, Impact: -0.5}},
		},
		Constraints: []string{"cpu usage 95.0% exceeds 80%"},
	}

	prompt := BuildPrompt(state)
	for _, want := range []string{
		"Complete pending tasks",
		"resource_constraint",
		"cpu usage 95.0%",
		"<actions>",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
