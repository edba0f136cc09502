package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

// eventSink collects emitted events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) emit(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.EventType()
	}
	return out
}

func (s *eventSink) count(eventType string) int {
	n := 0
	for _, typ := range s.types() {
		if typ == eventType {
			n++
		}
	}
	return n
}

func newTestManager(primary *fakePrimary, fallback *fakeFallback) (*TurnManager, *Log, *eventSink) {
	log := NewLog()
	sink := &eventSink{}
	n := NewNegotiator(primary, fallback, nil, nil)
	m := NewTurnManager(log, n, "conv_test", sink.emit, nil, nil)
	return m, log, sink
}

func assistantMessages(log *Log) []Message {
	var out []Message
	for _, msg := range log.Messages() {
		if msg.Role == RoleAssistant {
			out = append(out, msg)
		}
	}
	return out
}

func TestTurnManager_HappyPath(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, sink := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "What is the deadline?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if m.State() != StateWaiting {
		t.Fatalf("state = %s, want waiting before first token", m.State())
	}

	primary.emitChunk("Fri")
	if m.State() != StateStreaming {
		t.Fatalf("state = %s, want streaming after first token", m.State())
	}
	primary.emitChunk("day")
	primary.emitComplete()

	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle after settle", m.State())
	}

	msgs := log.Messages()
	if len(msgs) != 2 {
		t.Fatalf("log len = %d, want user + assistant", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "What is the deadline?" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Friday" {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if msgs[1].Streaming {
		t.Fatal("settled assistant message must not be streaming")
	}

	if _, unsubs := primary.stats(); unsubs != 1 {
		t.Fatalf("primary unsubs = %d, natural completion must unsubscribe exactly once", unsubs)
	}

	// Terminal state is one-shot: done is observable in the event stream
	// even though the manager has already reset to idle.
	if sink.count("message.done") != 1 {
		t.Fatalf("events = %v, want one message.done", sink.types())
	}
}

func TestTurnManager_SubmitWhileBusyIsNoOp(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, _ := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	lenBefore := log.Len()
	subsBefore, _ := primary.stats()

	err := m.Submit(context.Background(), "second")
	if !IsBusy(err) {
		t.Fatalf("second Submit err = %v, want busy", err)
	}
	if log.Len() != lenBefore {
		t.Fatalf("log len = %d, rejected submit must append nothing", log.Len())
	}
	if subs, _ := primary.stats(); subs != subsBefore {
		t.Fatalf("primary subscribes = %d, rejected submit must not issue a call", subs)
	}
}

func TestTurnManager_StreamErrorRemovesPlaceholder(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, sink := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	primary.emitChunk("Hel")
	primary.emitChunk("lo")
	primary.emitError(NewStreamError("primary", "timeout"))

	if got := assistantMessages(log); len(got) != 0 {
		t.Fatalf("assistant messages = %v, placeholder must be removed on error", got)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle after error settle", m.State())
	}
	if subs, _ := fallback.stats(); subs != 0 {
		t.Fatalf("fallback subscribes = %d, a genuine stream error must not fall back", subs)
	}
	if sink.count("error") != 1 {
		t.Fatalf("events = %v, want one user-visible error", sink.types())
	}
	if sink.count("message.removed") != 1 {
		t.Fatalf("events = %v, want one message.removed", sink.types())
	}
}

func TestTurnManager_UnavailableFallbackOneContinuousAnswer(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, sink := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "What is the deadline?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	primary.emitUnavailable()
	// The primary misbehaves and keeps emitting after unavailable.
	primary.emitChunk("GHOST")

	fallback.emitChunk("Fri")
	fallback.emitChunk("day")
	fallback.emitComplete()

	got := assistantMessages(log)
	if len(got) != 1 {
		t.Fatalf("assistant messages = %d, want exactly one", len(got))
	}
	if got[0].Content != "Friday" {
		t.Fatalf("content = %q, want only fallback tokens", got[0].Content)
	}
	if subs, _ := fallback.stats(); subs != 1 {
		t.Fatalf("fallback subscribes = %d, want exactly 1", subs)
	}
	if sink.count("fallback.engaged") != 1 {
		t.Fatalf("events = %v, want one fallback.engaged", sink.types())
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestTurnManager_CancelMarksMessageCancelled(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, sink := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	primary.emitChunk("par")
	primary.emitChunk("tial")

	m.Cancel()

	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle after cancel", m.State())
	}
	got := assistantMessages(log)
	if len(got) != 1 {
		t.Fatalf("assistant messages = %d, cancel must keep the message", len(got))
	}
	if !got[0].Cancelled {
		t.Fatal("cancelled message must carry the cancelled marker, not look done")
	}
	if got[0].Content != "partial" {
		t.Fatalf("content = %q", got[0].Content)
	}
	if _, unsubs := primary.stats(); unsubs != 1 {
		t.Fatalf("primary unsubs = %d, want 1", unsubs)
	}
	if sink.count("message.cancelled") != 1 {
		t.Fatalf("events = %v, want one message.cancelled", sink.types())
	}

	// Tokens from the torn-down attempt must not land anywhere.
	primary.emitChunk("LATE")
	if msg, _ := log.Get(got[0].ID); msg.Content != "partial" {
		t.Fatalf("content after late token = %q, want unchanged", msg.Content)
	}
}

func TestTurnManager_CancelThenResubmit(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, _ := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m.Cancel()
	m.Cancel() // double cancel must be harmless

	if err := m.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("resubmit after cancel: %v", err)
	}
	primary.emitChunk("ok")
	primary.emitComplete()

	if n := log.StreamingCount(); n != 0 {
		t.Fatalf("streaming count = %d, want 0", n)
	}
	msgs := assistantMessages(log)
	if len(msgs) != 2 {
		t.Fatalf("assistant messages = %d, want cancelled + settled", len(msgs))
	}
	if msgs[1].Content != "ok" {
		t.Fatalf("second answer = %q", msgs[1].Content)
	}
}

func TestTurnManager_SingleFlightInvariant(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, _ := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	primary.emitChunk("x")

	if n := log.StreamingCount(); n != 1 {
		t.Fatalf("streaming count = %d, want exactly 1 while in flight", n)
	}
	primary.emitComplete()
	if n := log.StreamingCount(); n != 0 {
		t.Fatalf("streaming count = %d, want 0 after settle", n)
	}
}

func TestTurnManager_LateEventsAfterSettleAreDropped(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, _ := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	primary.emitChunk("answer")
	primary.emitComplete()

	// Duplicate terminal callbacks and stray tokens must have no effect.
	primary.emitComplete()
	primary.emitChunk("LATE")
	primary.emitError(NewStreamError("primary", "late failure"))

	msgs := assistantMessages(log)
	if len(msgs) != 1 || msgs[0].Content != "answer" {
		t.Fatalf("assistant messages = %+v, late events must be dropped", msgs)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestTurnManager_WaitTimeoutSettlesAsError(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, log, sink := newTestManager(primary, fallback)
	m.SetWaitTimeout(20 * time.Millisecond)

	if err := m.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle after timeout settle", m.State())
	}
	if got := assistantMessages(log); len(got) != 0 {
		t.Fatalf("assistant messages = %v, timeout must remove placeholder", got)
	}
	if sink.count("error") != 1 {
		t.Fatalf("events = %v, want one error", sink.types())
	}
}

func TestTurnManager_PrimaryAttemptedRecorded(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{}
	m, _, _ := newTestManager(primary, fallback)

	if err := m.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	turn, ok := m.CurrentTurn()
	if !ok {
		t.Fatal("expected an active turn")
	}
	if !turn.PrimaryAttempted {
		t.Fatal("PrimaryAttempted must be set once the primary was tried")
	}
	if turn.TargetMessageID == "" {
		t.Fatal("active turn must carry its target message id")
	}
}
