package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/praxislabs/praxis-agent/internal/act"
	"github.com/praxislabs/praxis-agent/internal/decide"
)

// replyDispatcher is the built-in action dispatcher. Only the
// plain-reply action is handled out of the box: it surfaces the
// decision text as a persisted response. Unknown actions fail, and
// those failures feed the orientation builder's error-surge factor.
type replyDispatcher struct {
	logger *slog.Logger
}

func newReplyDispatcher(logger *slog.Logger) *replyDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &replyDispatcher{logger: logger}
}

func (d *replyDispatcher) Dispatch(_ context.Context, req act.Request) ([]act.Response, error) {
	switch req.Action {
	case decide.ActionReply:
		text := req.Text
		if text == "" {
			text = "(no reply text)"
		}
		d.logger.Info("agent reply", "run_id", req.RunID, "text", text)
		return []act.Response{{Text: text}}, nil
	default:
		return nil, fmt.Errorf("no handler registered for action %s", req.Action)
	}
}
