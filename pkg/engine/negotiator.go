package engine

import (
	"context"
	"log/slog"
	"sync"
)

// Negotiator runs the two-phase provider protocol: try the primary
// (context-augmented) channel first, and on an unavailable signal tear down
// every phase-1 listener before subscribing the fallback channel. Exactly one
// phase's listeners are live at any time, so tokens are never delivered
// twice.
type Negotiator struct {
	primary  PrimaryChannel
	fallback FallbackChannel
	logger   *slog.Logger
	metrics  Metrics
}

// NewNegotiator creates a negotiator over the two channels.
func NewNegotiator(primary PrimaryChannel, fallback FallbackChannel, logger *slog.Logger, metrics Metrics) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Negotiator{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
	}
}

// Flight is one in-flight response negotiation. Dispose tears down whichever
// phase is active; it is idempotent.
type Flight struct {
	mu       sync.Mutex
	current  *scope
	fellBack bool
	disposed bool

	// Channel reports which phase delivered the last token, for metrics.
	channelName string
}

// Dispose unsubscribes the active phase's listeners exactly once.
func (f *Flight) Dispose() {
	f.mu.Lock()
	f.disposed = true
	sc := f.current
	f.mu.Unlock()
	if sc != nil {
		sc.dispose()
	}
}

// ChannelName reports "primary" or "fallback" for the live phase.
func (f *Flight) ChannelName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelName
}

// Start begins phase 1 on the primary channel. The handlers in h observe a
// single continuous stream regardless of which phase serves it; h.OnUnavailable
// fires once if and when the fallback engages, before any fallback token.
//
// A primary Subscribe error that satisfies IsUnavailable is treated like an
// unavailable signal; any other error surfaces through h.OnError without
// attempting the fallback.
func (n *Negotiator) Start(ctx context.Context, conversationID, question string, history []Message, h StreamHandlers) (*Flight, error) {
	f := &Flight{channelName: "primary"}

	sc := newScope()
	f.mu.Lock()
	f.current = sc
	f.mu.Unlock()

	wrapped := n.wrapPhase(sc, h, func() {
		n.engageFallback(ctx, f, question, history, h)
	})

	unsub, err := n.primary.Subscribe(ctx, conversationID, question, wrapped)
	if err != nil {
		if IsUnavailable(err) {
			n.logger.Info("primary channel unavailable at subscribe, falling back")
			sc.dispose()
			n.engageFallback(ctx, f, question, history, h)
			return f, nil
		}
		return nil, err
	}
	sc.add(onceFunc(unsub))
	return f, nil
}

// engageFallback subscribes fresh phase-2 listeners. The same target message
// keeps accumulating, so the user sees one continuous answer. Guarded so a
// duplicate unavailable signal can never create a second subscription.
func (n *Negotiator) engageFallback(ctx context.Context, f *Flight, question string, history []Message, h StreamHandlers) {
	f.mu.Lock()
	if f.fellBack || f.disposed {
		f.mu.Unlock()
		return
	}
	f.fellBack = true
	sc := newScope()
	f.current = sc
	f.channelName = "fallback"
	f.mu.Unlock()

	n.metrics.FallbackEngaged()
	if h.OnUnavailable != nil {
		h.OnUnavailable()
	}

	// The fallback channel is terminal: it has no unavailable signal, so an
	// unavailable-shaped failure from it is a genuine error.
	wrapped := n.wrapPhase(sc, h, nil)

	unsub, err := n.fallback.Subscribe(ctx, question, history, wrapped)
	if err != nil {
		n.logger.Warn("fallback subscribe failed", "error", err)
		if h.OnError != nil {
			h.OnError(NewStreamErrorFrom("fallback", err))
		}
		return
	}
	sc.add(onceFunc(unsub))
}

// wrapPhase gates handler callbacks on the phase scope so events arriving
// after the phase was torn down are dropped, not delivered.
func (n *Negotiator) wrapPhase(sc *scope, h StreamHandlers, onUnavailable func()) StreamHandlers {
	return StreamHandlers{
		OnChunk: func(token string) {
			if !sc.active() {
				n.metrics.StrayDropped("token")
				n.logger.Debug("dropping token from torn-down phase")
				return
			}
			if h.OnChunk != nil {
				h.OnChunk(token)
			}
		},
		OnComplete: func() {
			if !sc.active() {
				n.metrics.StrayDropped("complete")
				return
			}
			if h.OnComplete != nil {
				h.OnComplete()
			}
		},
		OnError: func(err error) {
			if !sc.active() {
				n.metrics.StrayDropped("error")
				return
			}
			if h.OnError != nil {
				h.OnError(err)
			}
		},
		OnUnavailable: func() {
			if !sc.active() {
				n.metrics.StrayDropped("unavailable")
				return
			}
			if onUnavailable == nil {
				return
			}
			// Tear down every phase-1 listener before the fallback
			// subscribes; a live phase-1 listener here would double-
			// deliver tokens once phase 2 starts.
			sc.dispose()
			onUnavailable()
		},
	}
}
