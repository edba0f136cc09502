package engine

// Event is the interface for all engine events delivered to the view layer.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// TranscriptDeltaEvent is emitted when the displayed transcript line changes.
type TranscriptDeltaEvent struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
	Display string `json:"display"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// RecordingStartedEvent is emitted when a voice capture window opens.
type RecordingStartedEvent struct{}

func (e *RecordingStartedEvent) EventType() string { return "recording.started" }

// RecordingPreviewEvent carries the latest unconfirmed fragment while
// recording, for display only.
type RecordingPreviewEvent struct {
	Text string `json:"text"`
}

func (e *RecordingPreviewEvent) EventType() string { return "recording.preview" }

// RecordingStoppedEvent is emitted when a voice capture window closes.
// HadContent is false on an empty capture; that is not an error.
type RecordingStoppedEvent struct {
	Text       string `json:"text"`
	HadContent bool   `json:"had_content"`
}

func (e *RecordingStoppedEvent) EventType() string { return "recording.stopped" }

// TurnStateChangedEvent is emitted on every turn state transition.
type TurnStateChangedEvent struct {
	From TurnState `json:"from"`
	To   TurnState `json:"to"`
}

func (e *TurnStateChangedEvent) EventType() string { return "turn.state_changed" }

// MessageAddedEvent is emitted when a message is appended to the log.
type MessageAddedEvent struct {
	Message Message `json:"message"`
}

func (e *MessageAddedEvent) EventType() string { return "message.added" }

// MessageTokenEvent is emitted for each token appended to the streaming
// assistant message.
type MessageTokenEvent struct {
	MessageID string `json:"message_id"`
	Token     string `json:"token"`
}

func (e *MessageTokenEvent) EventType() string { return "message.token" }

// MessageDoneEvent is emitted when the streaming assistant message finalizes.
type MessageDoneEvent struct {
	Message Message `json:"message"`
}

func (e *MessageDoneEvent) EventType() string { return "message.done" }

// MessageRemovedEvent is emitted when a placeholder message is removed from
// the log after a streaming error.
type MessageRemovedEvent struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

func (e *MessageRemovedEvent) EventType() string { return "message.removed" }

// MessageCancelledEvent is emitted when an explicit cancel marks the target
// message with the cancelled terminal marker.
type MessageCancelledEvent struct {
	Message Message `json:"message"`
}

func (e *MessageCancelledEvent) EventType() string { return "message.cancelled" }

// FallbackEngagedEvent is emitted when the negotiator switches from the
// primary to the fallback channel for the current turn.
type FallbackEngagedEvent struct {
	MessageID string `json:"message_id"`
}

func (e *FallbackEngagedEvent) EventType() string { return "fallback.engaged" }

// ErrorEvent carries a user-visible error. Only the TurnManager produces it.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }
