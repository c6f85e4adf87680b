package weft

import "context"

// StreamItem is one element pulled from a Provider's stream. The channel
// carries PartialResponse values in arrival order; if the producer fails,
// exactly one item with a non-nil Err is sent and the channel is closed
// immediately after. No transport is mandated — a Provider may be backed by
// SSE, gRPC streaming, or an in-process generator.
type StreamItem struct {
	Partial PartialResponse
	Err     error
}

// Provider abstracts the model transport the core treats as an opaque
// producer of a finite, ordered sequence of partial responses.
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini", "openai-compat").
	Name() string
	// Stream sends messages and returns a channel of StreamItem. The
	// channel is closed when the producer has no more partials to emit.
	Stream(ctx context.Context, messages []Message) (<-chan StreamItem, error)
}
