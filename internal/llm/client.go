// Package llm provides the inference client used by the decision
// engine. The loop only needs prompt-in, text-out; retry and reply
// validation live with the caller.
package llm

import "context"

// Client is the inference contract consumed by the decision engine.
type Client interface {
	// Complete sends a prompt and returns the model's reply text.
	Complete(ctx context.Context, prompt string) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
