package provider

import "context"

// CompleteOptions bounds a single generation call.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// StreamEvent is one element of a streamed generation. Exactly one terminal
// event is delivered: either Done is true or Err is non-nil, after which the
// channel is closed.
type StreamEvent struct {
	Content string
	Done    bool
	Err     error
}

// Provider is the capability interface for the embedding and generation
// backends. Implementations must preserve input order in Embed and must stop
// producing stream events once the context is cancelled.
type Provider interface {
	// Embed maps each text to a fixed-dimension vector, same length and
	// order as the input. It fails on empty input or a provider error.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Complete runs a single grounded generation and returns the full
	// answer text.
	Complete(ctx context.Context, system, user string, opts CompleteOptions) (string, error)

	// CompleteStream runs the same generation in incremental-output mode.
	// Fragments arrive in production order on the returned channel.
	CompleteStream(ctx context.Context, system, user string, opts CompleteOptions) (<-chan StreamEvent, error)
}
