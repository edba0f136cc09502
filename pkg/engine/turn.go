package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnState is the lifecycle state of the active turn.
type TurnState string

const (
	StateIdle      TurnState = "idle"
	StateWaiting   TurnState = "waiting"
	StateStreaming TurnState = "streaming"
	StateDone      TurnState = "done"
	StateError     TurnState = "error"
)

// Turn is one question/answer cycle.
type Turn struct {
	ID               string    `json:"id"`
	State            TurnState `json:"state"`
	PrimaryAttempted bool      `json:"primary_attempted"`
	TargetMessageID  string    `json:"target_message_id,omitempty"`
}

// TurnManager enforces single-flight turn semantics over the conversation
// log: idle → waiting → streaming → done|error → idle. Terminal states are
// emitted once and immediately reset to idle.
type TurnManager struct {
	mu      sync.Mutex
	state   TurnState
	turn    *Turn
	gen     uint64
	flight  *Flight
	timer   *time.Timer
	started time.Time

	log        *Log
	consumer   *Consumer
	negotiator *Negotiator
	emit       func(Event)
	logger     *slog.Logger
	metrics    Metrics

	conversationID string

	// waitTimeout bounds how long a turn may sit in waiting before it is
	// settled as an error. Zero disables the bound; it is policy, not
	// protocol.
	waitTimeout time.Duration
}

// NewTurnManager creates a manager over the given log and negotiator.
func NewTurnManager(log *Log, negotiator *Negotiator, conversationID string, emit func(Event), logger *slog.Logger, metrics Metrics) *TurnManager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &TurnManager{
		state:          StateIdle,
		log:            log,
		consumer:       NewConsumer(log, logger),
		negotiator:     negotiator,
		emit:           emit,
		logger:         logger,
		metrics:        metrics,
		conversationID: conversationID,
	}
}

// SetWaitTimeout configures the waiting-state bound. Zero disables it.
func (m *TurnManager) SetWaitTimeout(d time.Duration) {
	m.mu.Lock()
	m.waitTimeout = d
	m.mu.Unlock()
}

// State returns the current turn state.
func (m *TurnManager) State() TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentTurn returns a copy of the active turn, if any.
func (m *TurnManager) CurrentTurn() (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turn == nil {
		return Turn{}, false
	}
	return *m.turn, true
}

// Submit starts a new turn for the question. It is rejected with a busy
// error unless the manager is idle; a rejected submission appends nothing to
// the log and issues no provider call.
func (m *TurnManager) Submit(ctx context.Context, question string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("submit rejected, turn in flight", "state", state)
		return NewBusyError(state)
	}

	userMsg := m.log.Append(RoleUser, question, false)
	placeholder, err := m.consumer.Begin()
	if err != nil {
		m.log.Remove(userMsg.ID)
		m.mu.Unlock()
		return err
	}

	m.gen++
	gen := m.gen
	m.turn = &Turn{
		ID:               "turn_" + uuid.NewString(),
		State:            StateWaiting,
		PrimaryAttempted: true,
		TargetMessageID:  placeholder.ID,
	}
	m.state = StateWaiting
	m.started = time.Now()
	if m.waitTimeout > 0 {
		m.timer = time.AfterFunc(m.waitTimeout, func() {
			m.handleError(gen, NewStreamError("", "no response before deadline"))
		})
	}
	history := m.historyLocked(placeholder.ID)
	m.mu.Unlock()

	m.metrics.TurnStarted()
	m.emit(&MessageAddedEvent{Message: userMsg})
	m.emit(&MessageAddedEvent{Message: placeholder})
	m.emit(&TurnStateChangedEvent{From: StateIdle, To: StateWaiting})

	handlers := StreamHandlers{
		OnChunk:       func(token string) { m.handleToken(gen, token) },
		OnComplete:    func() { m.handleDone(gen) },
		OnError:       func(err error) { m.handleError(gen, err) },
		OnUnavailable: func() { m.handleFallback(gen) },
	}

	flight, err := m.negotiator.Start(ctx, m.conversationID, question, history, handlers)
	if err != nil {
		m.handleError(gen, NewStreamErrorFrom("primary", err))
		return err
	}

	m.mu.Lock()
	if m.gen == gen && m.turn != nil {
		m.flight = flight
		m.mu.Unlock()
		return nil
	}
	// The turn settled or was cancelled before the flight was recorded;
	// make sure its listeners do not outlive it.
	m.mu.Unlock()
	flight.Dispose()
	return nil
}

// Cancel tears down whatever phase is active and force-transitions to idle.
// The target message keeps its content and is marked cancelled, never
// silently finalized as done.
func (m *TurnManager) Cancel() {
	m.mu.Lock()
	if m.turn == nil {
		m.mu.Unlock()
		return
	}
	prev := m.state
	targetID := m.turn.TargetMessageID
	flight := m.detachLocked()
	m.mu.Unlock()

	if flight != nil {
		flight.Dispose()
	}
	if msg, ok := m.consumer.CancelTarget(targetID); ok {
		m.emit(&MessageCancelledEvent{Message: msg})
	}
	m.emit(&TurnStateChangedEvent{From: prev, To: StateIdle})
	m.metrics.TurnSettled("cancelled")
}

// handleToken applies one token to the target message.
func (m *TurnManager) handleToken(gen uint64, token string) {
	m.mu.Lock()
	if gen != m.gen || m.turn == nil {
		m.mu.Unlock()
		m.metrics.StrayDropped("token")
		return
	}
	transitioned := false
	if m.state == StateWaiting {
		m.state = StateStreaming
		m.turn.State = StateStreaming
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		transitioned = true
	}
	targetID := m.turn.TargetMessageID
	channel := "primary"
	if m.flight != nil {
		channel = m.flight.ChannelName()
	}
	m.mu.Unlock()

	if transitioned {
		m.emit(&TurnStateChangedEvent{From: StateWaiting, To: StateStreaming})
	}
	if !m.consumer.Append(targetID, token) {
		m.metrics.StrayDropped("token")
		return
	}
	m.metrics.TokenReceived(channel)
	m.emit(&MessageTokenEvent{MessageID: targetID, Token: token})
}

// handleDone settles the turn as done and resets to idle.
func (m *TurnManager) handleDone(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.turn == nil {
		m.mu.Unlock()
		m.metrics.StrayDropped("complete")
		return
	}
	prev := m.state
	targetID := m.turn.TargetMessageID
	flight := m.detachLocked()
	m.mu.Unlock()

	if flight != nil {
		flight.Dispose()
	}
	msg, ok := m.consumer.Finish(targetID)
	if ok {
		m.emit(&MessageDoneEvent{Message: msg})
	}
	m.emit(&TurnStateChangedEvent{From: prev, To: StateDone})
	m.emit(&TurnStateChangedEvent{From: StateDone, To: StateIdle})
	m.metrics.TurnSettled("done")
}

// handleError settles the turn as an error: the placeholder is removed from
// the log entirely and a user-visible reason is emitted.
func (m *TurnManager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.turn == nil {
		m.mu.Unlock()
		m.metrics.StrayDropped("error")
		return
	}
	prev := m.state
	targetID := m.turn.TargetMessageID
	flight := m.detachLocked()
	m.mu.Unlock()

	if flight != nil {
		flight.Dispose()
	}
	if m.consumer.Abort(targetID) {
		m.emit(&MessageRemovedEvent{MessageID: targetID, Reason: err.Error()})
	}
	m.logger.Warn("turn failed", "error", err)
	m.emit(&ErrorEvent{Code: string(ErrStream), Message: err.Error()})
	m.emit(&TurnStateChangedEvent{From: prev, To: StateError})
	m.emit(&TurnStateChangedEvent{From: StateError, To: StateIdle})
	m.metrics.TurnSettled("error")
}

// handleFallback records the primary-to-fallback switch for the turn.
func (m *TurnManager) handleFallback(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.turn == nil {
		m.mu.Unlock()
		m.metrics.StrayDropped("unavailable")
		return
	}
	targetID := m.turn.TargetMessageID
	m.mu.Unlock()

	m.logger.Info("fallback channel engaged", "message_id", targetID)
	m.emit(&FallbackEngagedEvent{MessageID: targetID})
}

// detachLocked supersedes the active turn: bumps the generation so late
// callbacks become strays, clears the turn, and returns the flight for
// disposal outside the lock. Caller holds m.mu and resets state to idle.
func (m *TurnManager) detachLocked() *Flight {
	m.gen++
	m.turn = nil
	m.state = StateIdle
	flight := m.flight
	m.flight = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	return flight
}

// historyLocked snapshots the log for fallback context, excluding the
// streaming placeholder.
func (m *TurnManager) historyLocked(excludeID string) []Message {
	all := m.log.Messages()
	out := make([]Message, 0, len(all))
	for _, msg := range all {
		if msg.ID == excludeID {
			continue
		}
		out = append(out, msg)
	}
	return out
}
