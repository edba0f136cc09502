package engine

import (
	"context"
	"errors"
	"testing"
)

func newTestEngine(primary *fakePrimary, fallback *fakeFallback) *Engine {
	return New(primary, fallback, Options{
		ConversationID: "conv_test",
		SelfSpeaker:    "self",
		DisplaySpeaker: "other",
	})
}

// drainEvents pulls everything currently buffered without blocking.
func drainEvents(e *Engine) []Event {
	var out []Event
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func TestEngine_FragmentsRouteToTranscriptWhenNotRecording(t *testing.T) {
	e := newTestEngine(&fakePrimary{}, &fakeFallback{})
	defer e.Close()

	e.ApplyFragment("other", "we should ship", true)
	e.ApplyFragment("other", "on fri", false)

	if got := e.TranscriptDisplay(); got != "we should ship on fri" {
		t.Fatalf("display = %q", got)
	}

	// Self fragments outside a recording window belong to nobody shown.
	e.ApplyFragment("self", "my private mumbling", true)
	if got := e.TranscriptDisplay(); got != "we should ship on fri" {
		t.Fatalf("display = %q, self speech must not appear", got)
	}
}

func TestEngine_RecordingWindowCapturesSelfOnly(t *testing.T) {
	e := newTestEngine(&fakePrimary{}, &fakeFallback{})
	defer e.Close()

	e.StartRecording()
	if !e.Recording() {
		t.Fatal("expected recording after StartRecording")
	}

	e.ApplyFragment("self", "what is", false)
	e.ApplyFragment("self", "what is the deadline", true)
	// The counterpart keeps talking during the window; that still goes to
	// the transcript, not the capture.
	e.ApplyFragment("other", "anyway", true)

	capture := e.StopRecording()
	if capture.Text != "what is the deadline" {
		t.Fatalf("capture = %q", capture.Text)
	}
	if !capture.HadContent {
		t.Fatal("expected HadContent")
	}
	if got := e.TranscriptDisplay(); got != "anyway" {
		t.Fatalf("display = %q", got)
	}
	if e.Recording() {
		t.Fatal("expected recording closed after StopRecording")
	}
}

func TestEngine_StopRecordingEmptyCapture(t *testing.T) {
	e := newTestEngine(&fakePrimary{}, &fakeFallback{})
	defer e.Close()

	e.StartRecording()
	capture := e.StopRecording()
	if capture.HadContent {
		t.Fatal("empty window must report HadContent = false")
	}

	events := drainEvents(e)
	for _, ev := range events {
		if ev.EventType() == "error" {
			t.Fatal("empty capture must not surface an error")
		}
	}
}

func TestEngine_SubmitEmitsLifecycleEvents(t *testing.T) {
	primary := &fakePrimary{}
	e := newTestEngine(primary, &fakeFallback{})
	defer e.Close()

	if err := e.Submit(context.Background(), "What is the deadline?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	primary.emitChunk("Fri")
	primary.emitChunk("day")
	primary.emitComplete()

	types := eventTypes(drainEvents(e))
	want := map[string]int{
		"message.added":      2, // user message + assistant placeholder
		"message.token":      2,
		"message.done":       1,
		"turn.state_changed": 4, // idle→waiting→streaming→done→idle
	}
	got := map[string]int{}
	for _, typ := range types {
		got[typ]++
	}
	for typ, n := range want {
		if got[typ] != n {
			t.Fatalf("event %s count = %d, want %d (all: %v)", typ, got[typ], n, types)
		}
	}

	msgs := e.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Friday" {
		t.Fatalf("messages = %+v", msgs)
	}
	if e.TurnState() != StateIdle {
		t.Fatalf("state = %s, want idle", e.TurnState())
	}
}

func TestEngine_SubmitAfterCloseRejected(t *testing.T) {
	primary := &fakePrimary{}
	e := newTestEngine(primary, &fakeFallback{})
	e.Close()

	err := e.Submit(context.Background(), "q")
	var engErr *Error
	if !errors.As(err, &engErr) || engErr.Type != ErrClosed {
		t.Fatalf("err = %v, want closed", err)
	}
	if subs, _ := primary.stats(); subs != 0 {
		t.Fatalf("primary subscribes = %d, want 0 after close", subs)
	}
}

func TestEngine_CloseIdempotent(t *testing.T) {
	e := newTestEngine(&fakePrimary{}, &fakeFallback{})
	e.Close()
	e.Close() // must not panic on double close

	if _, ok := <-e.Events(); ok {
		t.Fatal("events channel must be closed")
	}
}

func TestEngine_FragmentsIgnoredAfterClose(t *testing.T) {
	e := newTestEngine(&fakePrimary{}, &fakeFallback{})
	e.ApplyFragment("other", "before", true)
	e.Close()
	e.ApplyFragment("other", "after", true)

	if got := e.TranscriptDisplay(); got != "before" {
		t.Fatalf("display = %q, fragments after close must be dropped", got)
	}
}
