package engine

// Metrics is the engine's observability sink. Implementations must be safe
// for concurrent use. The zero-dependency nopMetrics is used when none is
// configured.
type Metrics interface {
	// TurnStarted records a turn entering the waiting state.
	TurnStarted()

	// TurnSettled records a turn reaching a terminal state
	// ("done", "error" or "cancelled").
	TurnSettled(status string)

	// TokenReceived records one delivered token, labeled by channel
	// ("primary" or "fallback").
	TokenReceived(channel string)

	// StrayDropped records a late event discarded after its streaming
	// attempt was superseded or settled.
	StrayDropped(kind string)

	// FallbackEngaged records a primary-to-fallback switch.
	FallbackEngaged()
}

type nopMetrics struct{}

func (nopMetrics) TurnStarted()         {}
func (nopMetrics) TurnSettled(string)   {}
func (nopMetrics) TokenReceived(string) {}
func (nopMetrics) StrayDropped(string)  {}
func (nopMetrics) FallbackEngaged()     {}
