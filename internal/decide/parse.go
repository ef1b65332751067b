package decide

import (
	"fmt"
	"regexp"
	"strings"
)

// Well-known action names. REPLY is the plain-reply action; IGNORE is
// the no-op the engine degrades to when the model never produces a
// parseable action list.
const (
	ActionReply  = "REPLY"
	ActionIgnore = "IGNORE"
)

// Decision is the parsed outcome of one inference call.
type Decision struct {
	Thought    string
	Text       string
	Actions    []string
	Providers  []string
	Evaluators []string
	Simple     bool

	// Requested counts the actions the model actually asked for.
	// Stays 0 when the engine degraded to the IGNORE default, so
	// metrics never mistake a degraded cycle for an active one.
	Requested int
}

// tagPattern matches one <tag>...</tag> block, tolerating whitespace
// and spanning newlines.
var tagPattern = regexp.MustCompile(`(?s)<(thought|text|actions|providers|evaluators|simple)>\s*(.*?)\s*</\s*(?:thought|text|actions|providers|evaluators|simple)\s*>`)

// ParseReply parses the model's tagged reply into a Decision. It is a
// pure function: no retry state, no side effects. An error is returned
// when either required field (thought, actions) is missing; the
// partially-populated Decision is still returned so callers can degrade
// gracefully after exhausting retries.
func ParseReply(reply string) (*Decision, error) {
	d := &Decision{}
	var haveThought, haveActions bool

	for _, m := range tagPattern.FindAllStringSubmatch(reply, -1) {
		tag, body := m[1], m[2]
		switch tag {
		case "thought":
			d.Thought = body
			haveThought = body != ""
		case "text":
			d.Text = body
		case "actions":
			d.Actions = splitList(body, true)
			haveActions = len(d.Actions) > 0
		case "providers":
			d.Providers = splitList(body, false)
		case "evaluators":
			d.Evaluators = splitList(body, false)
		case "simple":
			d.Simple = strings.EqualFold(strings.TrimSpace(body), "true")
		}
	}

	d.Requested = len(d.Actions)
	classify(d)

	switch {
	case !haveThought && !haveActions:
		return d, fmt.Errorf("reply missing thought and actions")
	case !haveThought:
		return d, fmt.Errorf("reply missing thought")
	case !haveActions:
		return d, fmt.Errorf("reply missing actions")
	}
	return d, nil
}

// classify sets the simple flag from the decision's shape: exactly one
// action, that action is the plain reply, and no providers requested.
// The model's own <simple> claim is overridden — the shape is
// authoritative.
func classify(d *Decision) {
	d.Simple = len(d.Actions) == 1 &&
		d.Actions[0] == ActionReply &&
		len(d.Providers) == 0
}

// splitList splits a comma-separated list, trimming entries and
// dropping empties. Actions are normalized to upper case.
func splitList(s string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}
