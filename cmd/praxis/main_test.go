package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/praxislabs/praxis-agent/internal/act"
	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/decide"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: praxis") {
		t.Errorf("output = %q, want usage text", out.String())
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Praxis") {
		t.Errorf("output = %q, want version banner", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v\noutput: %s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("info = %v, want version field", info)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRun_BadOutputFormat(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("err = %v, want output format error", err)
	}
}

func TestGoalsFromConfig(t *testing.T) {
	gs := goalsFromConfig(nil)
	if len(gs.All()) == 0 {
		t.Error("empty config should fall back to default goals")
	}

	gs = goalsFromConfig([]config.GoalConfig{{ID: "g1", Description: "ship it", Priority: 0.9}})
	all := gs.All()
	if len(all) != 1 || all[0].ID != "g1" || all[0].Priority != 0.9 {
		t.Errorf("goals = %+v", all)
	}
}

func TestReplyDispatcher(t *testing.T) {
	d := newReplyDispatcher(nil)

	responses, err := d.Dispatch(context.Background(), act.Request{
		RunID:  "run",
		Action: decide.ActionReply,
		Text:   "hello",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(responses) != 1 || responses[0].Text != "hello" {
		t.Errorf("responses = %+v", responses)
	}

	if _, err := d.Dispatch(context.Background(), act.Request{RunID: "run", Action: "LAUNCH"}); err == nil {
		t.Error("expected error for unregistered action")
	}
}
