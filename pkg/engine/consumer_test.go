package engine

import "testing"

func TestConsumer_BeginCreatesSinglePlaceholder(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)

	msg, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if msg.Role != RoleAssistant || !msg.Streaming || msg.Content != "" {
		t.Fatalf("placeholder = %+v, want empty streaming assistant message", msg)
	}

	if _, err := c.Begin(); !IsBusy(err) {
		t.Fatalf("second Begin err = %v, want busy", err)
	}
	if log.Len() != 1 {
		t.Fatalf("log len = %d, a rejected Begin must not append", log.Len())
	}
}

func TestConsumer_AppendFiltersByTargetID(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)
	msg, _ := c.Begin()

	if !c.Append(msg.ID, "Hel") {
		t.Fatal("append to target must succeed")
	}
	if c.Append("msg_stale", "XX") {
		t.Fatal("append with a superseded id must be a no-op")
	}
	c.Append(msg.ID, "lo")

	got, _ := log.Get(msg.ID)
	if got.Content != "Hello" {
		t.Fatalf("content = %q, want %q", got.Content, "Hello")
	}
}

func TestConsumer_FinishClearsStreaming(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)
	msg, _ := c.Begin()
	c.Append(msg.ID, "done text")

	final, ok := c.Finish(msg.ID)
	if !ok {
		t.Fatal("Finish must succeed for the target")
	}
	if final.Streaming {
		t.Fatal("finished message must not be streaming")
	}
	if final.Content != "done text" {
		t.Fatalf("content = %q", final.Content)
	}
	if c.Target() != "" {
		t.Fatal("target must be released after Finish")
	}
}

func TestConsumer_AbortRemovesPlaceholderEntirely(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)
	msg, _ := c.Begin()
	c.Append(msg.ID, "partial answer")

	if !c.Abort(msg.ID) {
		t.Fatal("Abort must succeed for the target")
	}
	if _, ok := log.Get(msg.ID); ok {
		t.Fatal("aborted message must be removed from the log")
	}
	if log.Len() != 0 {
		t.Fatalf("log len = %d, want 0", log.Len())
	}
}

func TestConsumer_CancelTargetKeepsContentWithMarker(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)
	msg, _ := c.Begin()
	c.Append(msg.ID, "partial")

	cancelled, ok := c.CancelTarget(msg.ID)
	if !ok {
		t.Fatal("CancelTarget must succeed for the target")
	}
	if !cancelled.Cancelled {
		t.Fatal("cancelled message must carry the cancelled marker")
	}
	if cancelled.Streaming {
		t.Fatal("cancelled message must not stay streaming")
	}
	if cancelled.Content != "partial" {
		t.Fatalf("content = %q, cancel must not discard accumulated text", cancelled.Content)
	}
}

func TestConsumer_TerminalOpsSafeAfterRelease(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)
	msg, _ := c.Begin()

	if _, ok := c.Finish(msg.ID); !ok {
		t.Fatal("first Finish must succeed")
	}

	// All handlers must be safe to call after the subscription ended.
	if _, ok := c.Finish(msg.ID); ok {
		t.Fatal("second Finish must be a no-op")
	}
	if c.Abort(msg.ID) {
		t.Fatal("Abort after Finish must be a no-op")
	}
	if c.Append(msg.ID, "late") {
		t.Fatal("Append after Finish must be a no-op")
	}
	got, _ := log.Get(msg.ID)
	if got.Content != "" {
		t.Fatalf("late append leaked into content: %q", got.Content)
	}
}

func TestLog_StreamingCountSingleFlight(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log, nil)
	log.Append(RoleUser, "question", false)

	msg, _ := c.Begin()
	if n := log.StreamingCount(); n != 1 {
		t.Fatalf("streaming count = %d, want 1", n)
	}
	c.Finish(msg.ID)
	if n := log.StreamingCount(); n != 0 {
		t.Fatalf("streaming count = %d, want 0", n)
	}
}
