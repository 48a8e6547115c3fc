package taskrun

import "context"

// Request is the provider-agnostic model call input.
type Request struct {
	SystemPrompt string
	History      []Message
}

// ModelStream is a pull-based stream of normalized events for one model call.
// Next returns io.EOF when the stream is exhausted.
type ModelStream interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// Provider is the unified interface implemented by model providers.
type Provider interface {
	Stream(ctx context.Context, req Request) (ModelStream, error)
}
