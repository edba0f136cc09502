package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures an Engine.
type Options struct {
	// ConversationID identifies the conversation surface toward the
	// primary channel. Generated when empty.
	ConversationID string

	// SelfSpeaker is the speaker label whose fragments belong to the user
	// of the overlay. Defaults to "self".
	SelfSpeaker string

	// DisplaySpeaker is the speaker whose transcript line is shown.
	// Defaults to "other" (the counterpart in the meeting).
	DisplaySpeaker string

	// Separator joins finalized transcript segments. Defaults to a space.
	Separator string

	// WaitTimeout bounds the waiting state before a turn errors out.
	// Zero disables the bound.
	WaitTimeout time.Duration

	// EventBuffer sizes the event channel. Defaults to 100.
	EventBuffer int

	Logger  *slog.Logger
	Metrics Metrics
}

// Engine composes the reconciliation components into one conversation
// surface: it routes speech fragments, runs turns, and publishes events for
// the view layer.
type Engine struct {
	transcript *TranscriptAccumulator
	recorder   *Recorder
	log        *Log
	turns      *TurnManager

	selfSpeaker string
	events      chan Event
	closed      atomic.Bool
	logger      *slog.Logger
}

// New creates an engine over the two response channels.
func New(primary PrimaryChannel, fallback FallbackChannel, opts Options) *Engine {
	if opts.ConversationID == "" {
		opts.ConversationID = "conv_" + uuid.NewString()
	}
	if opts.SelfSpeaker == "" {
		opts.SelfSpeaker = "self"
	}
	if opts.DisplaySpeaker == "" {
		opts.DisplaySpeaker = "other"
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	e := &Engine{
		transcript:  NewTranscriptAccumulator(opts.DisplaySpeaker, opts.Separator),
		recorder:    NewRecorder(),
		log:         NewLog(),
		selfSpeaker: opts.SelfSpeaker,
		events:      make(chan Event, opts.EventBuffer),
		logger:      opts.Logger,
	}

	negotiator := NewNegotiator(primary, fallback, opts.Logger, opts.Metrics)
	e.turns = NewTurnManager(e.log, negotiator, opts.ConversationID, e.emit, opts.Logger, opts.Metrics)
	if opts.WaitTimeout > 0 {
		e.turns.SetWaitTimeout(opts.WaitTimeout)
	}
	return e
}

// Events returns the channel of engine events for the view layer.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// ApplyFragment routes one speech fragment. While a recording window is open,
// self-speaker fragments feed the recorder; everything else goes to the
// transcript accumulator. The two consumers are mutually exclusive per event.
func (e *Engine) ApplyFragment(speaker, text string, isFinal bool) {
	if e.closed.Load() {
		return
	}

	if speaker == e.selfSpeaker && e.recorder.Active() {
		if e.recorder.Fragment(text, isFinal) && !isFinal {
			e.emit(&RecordingPreviewEvent{Text: text})
		}
		return
	}

	if e.transcript.Apply(speaker, text, isFinal) {
		e.emit(&TranscriptDeltaEvent{
			Speaker: speaker,
			Text:    text,
			IsFinal: isFinal,
			Display: e.transcript.Display(),
		})
	}
}

// StartRecording opens the voice capture window.
func (e *Engine) StartRecording() {
	e.recorder.Start()
	e.emit(&RecordingStartedEvent{})
}

// StopRecording closes the window and returns the capture synchronously.
// The caller decides what to do with an empty capture.
func (e *Engine) StopRecording() Capture {
	capture := e.recorder.Stop()
	e.emit(&RecordingStoppedEvent{Text: capture.Text, HadContent: capture.HadContent})
	return capture
}

// Recording reports whether a capture window is open.
func (e *Engine) Recording() bool {
	return e.recorder.Active()
}

// Submit starts a new turn. Rejected with a busy error while one is in
// flight.
func (e *Engine) Submit(ctx context.Context, question string) error {
	if e.closed.Load() {
		return NewClosedError("engine")
	}
	return e.turns.Submit(ctx, question)
}

// Cancel tears down the active turn, if any.
func (e *Engine) Cancel() {
	e.turns.Cancel()
}

// TurnState returns the current turn state.
func (e *Engine) TurnState() TurnState {
	return e.turns.State()
}

// Messages returns a snapshot of the conversation log.
func (e *Engine) Messages() []Message {
	return e.log.Messages()
}

// TranscriptDisplay returns the rendered transcript line for the displayed
// speaker.
func (e *Engine) TranscriptDisplay() string {
	return e.transcript.Display()
}

// Close cancels any active turn and closes the event channel.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.turns.Cancel()
	close(e.events)
}

// emit publishes an event without blocking. A full buffer drops the event;
// the conversation log remains the source of truth for the view layer.
func (e *Engine) emit(ev Event) {
	if e.closed.Load() {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("event buffer full, dropping", "event", ev.EventType())
	}
}
