package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the append-only conversation log.
//
// Content grows monotonically while Streaming is true. At most one message in
// a Log has Streaming set at any instant; the Consumer enforces this.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming"`
	Cancelled bool      `json:"cancelled,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is the conversation log. It is owned by the TurnManager; other
// components mutate it only through the Consumer's operations.
type Log struct {
	mu       sync.Mutex
	messages []Message
}

// NewLog creates an empty conversation log.
func NewLog() *Log {
	return &Log{messages: make([]Message, 0, 16)}
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}

// Append adds a message and returns it with its generated id.
func (l *Log) Append(role Role, content string, streaming bool) Message {
	msg := Message{
		ID:        newMessageID(),
		Role:      role,
		Content:   content,
		Streaming: streaming,
		CreatedAt: time.Now(),
	}
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	return msg
}

// AppendContent appends a token to the message with the given id.
// Returns false if no such message exists or it is no longer streaming.
func (l *Log) AppendContent(id, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			if !l.messages[i].Streaming {
				return false
			}
			l.messages[i].Content += token
			return true
		}
	}
	return false
}

// Finalize clears the streaming flag on the message with the given id and
// returns the finalized message.
func (l *Log) Finalize(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages[i].Streaming = false
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// MarkCancelled marks the message as cancelled. The cancelled marker is
// distinct from a normal finalize so a cancelled answer is never mistaken
// for a completed one.
func (l *Log) MarkCancelled(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages[i].Streaming = false
			l.messages[i].Cancelled = true
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// Remove deletes the message with the given id from the log entirely.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the message with the given id.
func (l *Log) Get(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// Messages returns a snapshot copy of the log.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// StreamingCount returns how many messages are currently streaming.
// It is 0 or 1 under the single-flight invariant.
func (l *Log) StreamingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for i := range l.messages {
		if l.messages[i].Streaming {
			n++
		}
	}
	return n
}
