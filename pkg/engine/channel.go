package engine

import "context"

// StreamHandlers receives callbacks from a response channel subscription.
// All callbacks may be invoked from the channel's own goroutines.
type StreamHandlers struct {
	// OnChunk delivers one verbatim token of the response.
	OnChunk func(token string)

	// OnComplete signals the response finished normally.
	OnComplete func()

	// OnError signals a genuine streaming failure.
	OnError func(err error)

	// OnUnavailable signals the channel structurally cannot serve the
	// request. Only the primary channel emits it; the fallback channel is
	// terminal and never does.
	OnUnavailable func()
}

// PrimaryChannel is the context-augmented response channel. It may signal
// unavailable, in which case the negotiator retries via the fallback.
type PrimaryChannel interface {
	// Subscribe issues the request and registers handlers. The returned
	// Unsubscribe must be safe to call exactly once per the engine's
	// cleanup contract; the engine additionally guards against doubles.
	Subscribe(ctx context.Context, conversationID, question string, h StreamHandlers) (Unsubscribe, error)
}

// FallbackChannel is the direct response channel, tried after the primary
// signals unavailable. It receives the conversation history as context.
type FallbackChannel interface {
	Subscribe(ctx context.Context, question string, history []Message, h StreamHandlers) (Unsubscribe, error)
}
