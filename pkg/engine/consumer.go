package engine

import (
	"log/slog"
	"sync"
)

// Consumer owns every mutation of the streaming assistant message. It binds
// to exactly one in-flight response at a time and filters deliveries by
// target message id, so late events from a superseded attempt never touch
// the log.
type Consumer struct {
	mu       sync.Mutex
	log      *Log
	targetID string
	logger   *slog.Logger
}

// NewConsumer creates a consumer bound to the given conversation log.
func NewConsumer(log *Log, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{log: log, logger: logger}
}

// Begin creates the single assistant placeholder message for a new response
// and records it as the target. It fails if a response is already in flight;
// the log gains no message in that case.
func (c *Consumer) Begin() (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.targetID != "" {
		return Message{}, NewBusyError(StateStreaming)
	}

	msg := c.log.Append(RoleAssistant, "", true)
	c.targetID = msg.ID
	return msg, nil
}

// Append appends a token verbatim to the target message. It is a no-op,
// returning false, when id does not match the current target.
func (c *Consumer) Append(id, token string) bool {
	c.mu.Lock()
	target := c.targetID
	c.mu.Unlock()

	if id == "" || id != target {
		c.logger.Debug("dropping stray token", "message_id", id, "target_id", target)
		return false
	}
	return c.log.AppendContent(id, token)
}

// Finish finalizes the target message and releases the target binding.
func (c *Consumer) Finish(id string) (Message, bool) {
	if !c.release(id) {
		return Message{}, false
	}
	return c.log.Finalize(id)
}

// Abort removes the target message from the log entirely and releases the
// target binding. A visible partial answer followed by a hard error is worse
// than no answer.
func (c *Consumer) Abort(id string) bool {
	if !c.release(id) {
		return false
	}
	return c.log.Remove(id)
}

// CancelTarget marks the target message with the cancelled terminal marker
// and releases the target binding.
func (c *Consumer) CancelTarget(id string) (Message, bool) {
	if !c.release(id) {
		return Message{}, false
	}
	return c.log.MarkCancelled(id)
}

// Target returns the id of the message currently receiving tokens, or "".
func (c *Consumer) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetID
}

// release clears the target binding if id matches. Calling any terminal
// operation twice, or after the subscription logically ended, is safe: the
// second call finds no binding and reports false.
func (c *Consumer) release(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" || id != c.targetID {
		return false
	}
	c.targetID = ""
	return true
}
