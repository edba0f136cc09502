// Package server exposes the overlay engine over local HTTP: turn and
// recording controls, a state snapshot, a server-sent event feed for the
// view layer, and the metrics and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vango-go/attend/pkg/engine"
	"github.com/vango-go/attend/pkg/metrics"
	"github.com/vango-go/attend/pkg/store"
)

// Server routes HTTP requests to the engine.
type Server struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	store   *store.Store // nil disables persistence
	logger  *slog.Logger

	conversationID string

	mu          sync.Mutex
	subscribers map[chan engine.Event]struct{}
}

// Options configures the server.
type Options struct {
	Engine         *engine.Engine
	Metrics        *metrics.Metrics
	Store          *store.Store
	ConversationID string
	Logger         *slog.Logger
}

// New creates a server over a running engine.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		engine:         opts.Engine,
		metrics:        opts.Metrics,
		store:          opts.Store,
		logger:         opts.Logger,
		conversationID: opts.ConversationID,
		subscribers:    make(map[chan engine.Event]struct{}),
	}
}

// Handler returns the HTTP handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("POST /v1/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /v1/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// PumpEvents consumes the engine event channel until it closes, fanning
// events out to SSE subscribers and persisting settled messages. Run it in
// its own goroutine.
func (s *Server) PumpEvents(ctx context.Context) {
	for ev := range s.engine.Events() {
		s.persist(ctx, ev)
		s.fanOut(ev)
	}

	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan engine.Event]struct{})
	s.mu.Unlock()
}

func (s *Server) persist(ctx context.Context, ev engine.Event) {
	if s.store == nil {
		return
	}

	var msg engine.Message
	switch e := ev.(type) {
	case *engine.MessageDoneEvent:
		msg = e.Message
	case *engine.MessageCancelledEvent:
		msg = e.Message
	case *engine.MessageAddedEvent:
		if e.Message.Streaming {
			return
		}
		msg = e.Message
	default:
		return
	}

	if err := s.store.SaveMessage(ctx, s.conversationID, msg); err != nil {
		s.logger.Warn("persist message failed", "message_id", msg.ID, "error", err)
	}
}

func (s *Server) fanOut(ev engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it catches up from /v1/state.
		}
	}
}

func (s *Server) subscribe() (chan engine.Event, func()) {
	ch := make(chan engine.Event, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}

	if err := s.engine.Submit(r.Context(), req.Question); err != nil {
		if engine.IsBusy(err) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(s.engine.TurnState())})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.engine.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.engine.TurnState())})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.engine.StartRecording()
	writeJSON(w, http.StatusOK, map[string]bool{"recording": true})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	capture := s.engine.StopRecording()
	writeJSON(w, http.StatusOK, map[string]any{
		"text":        capture.Text,
		"had_content": capture.HadContent,
	})
}

type stateResponse struct {
	TurnState  engine.TurnState `json:"turn_state"`
	Recording  bool             `json:"recording"`
	Transcript string           `json:"transcript"`
	Messages   []engine.Message `json:"messages"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		TurnState:  s.engine.TurnState(),
		Recording:  s.engine.Recording(),
		Transcript: s.engine.TranscriptDisplay(),
		Messages:   s.engine.Messages(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("marshal event failed", "type", ev.EventType(), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
