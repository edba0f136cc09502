// Package ragws implements the primary response channel over a websocket
// connection to the retrieval-augmented backend. Each turn opens one
// subscription; answer tokens arrive as JSON frames until a terminal frame
// settles the stream.
package ragws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/attend/pkg/engine"
)

// Frame is one message on the answer stream.
type Frame struct {
	Type      string `json:"type"` // "token", "done", "unavailable", "error"
	RequestID string `json:"request_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Error     string `json:"error,omitempty"`
}

type askRequest struct {
	Type           string `json:"type"`
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
}

// Options configures the client.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/ask.
	URL string

	// APIKey is sent as a bearer token on the upgrade request.
	APIKey string

	// HandshakeTimeout bounds the websocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Client implements engine.PrimaryChannel. Each Subscribe dials its own
// connection so teardown is a plain close with no shared stream state.
type Client struct {
	url              string
	apiKey           string
	handshakeTimeout time.Duration
	logger           *slog.Logger
}

// New creates a client for the given endpoint.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("ragws: endpoint URL required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("ragws: parse endpoint URL: %w", err)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:              opts.URL,
		apiKey:           opts.APIKey,
		handshakeTimeout: opts.HandshakeTimeout,
		logger:           opts.Logger,
	}, nil
}

// Subscribe opens the answer stream for one question. The returned
// unsubscribe closes the connection; no handler is invoked after it returns.
func (c *Client) Subscribe(ctx context.Context, conversationID, question string, h engine.StreamHandlers) (engine.Unsubscribe, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("ragws: connect: %w", err)
	}

	requestID := "req_" + uuid.NewString()
	ask := askRequest{
		Type:           "ask",
		RequestID:      requestID,
		ConversationID: conversationID,
		Question:       question,
	}

	if err := conn.WriteJSON(ask); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ragws: send ask: %w", err)
	}

	sub := &subscription{
		conn:      conn,
		requestID: requestID,
		handlers:  h,
		logger:    c.logger,
	}
	go sub.readLoop(ctx)

	return sub.close, nil
}

type subscription struct {
	conn      *websocket.Conn
	requestID string
	handlers  engine.StreamHandlers
	logger    *slog.Logger
	closed    atomic.Bool
}

// close tears the stream down. Safe to call more than once and safe to call
// concurrently with the read loop; the loop stops delivering the moment the
// flag is set.
func (s *subscription) close() {
	if s.closed.Swap(true) {
		return
	}
	s.conn.Close()
}

func (s *subscription) readLoop(ctx context.Context) {
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			s.deliverError(engine.NewStreamErrorFrom("primary", ctx.Err()))
			return
		default:
		}

		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.deliverError(engine.NewStreamError("primary", "connection closed before answer completed"))
				return
			}
			s.deliverError(engine.NewStreamErrorFrom("primary", err))
			return
		}

		if frame.RequestID != "" && frame.RequestID != s.requestID {
			s.logger.Debug("frame for unknown request dropped", "request_id", frame.RequestID)
			continue
		}

		switch frame.Type {
		case "token":
			if s.closed.Load() {
				return
			}
			s.handlers.OnChunk(frame.Token)

		case "done":
			if !s.closed.Swap(true) {
				s.handlers.OnComplete()
			}
			return

		case "unavailable":
			// Structural signal, not an error: the backend cannot serve
			// this conversation. The negotiator decides what happens next.
			if !s.closed.Swap(true) {
				s.handlers.OnUnavailable()
			}
			return

		case "error":
			s.deliverError(engine.NewStreamError("primary", frame.Error))
			return

		default:
			s.logger.Debug("unknown frame type ignored", "type", frame.Type)
		}
	}
}

func (s *subscription) deliverError(err error) {
	if s.closed.Swap(true) {
		return
	}
	s.handlers.OnError(err)
}
