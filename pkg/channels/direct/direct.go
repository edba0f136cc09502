// Package direct implements the fallback response channel: a plain
// completion call to the model provider over HTTP with a server-sent event
// response. It carries the conversation history itself because, unlike the
// primary channel, the provider holds no session state.
package direct

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vango-go/attend/pkg/engine"
)

// Options configures the client.
type Options struct {
	// URL is the completion endpoint.
	URL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Model selects the completion model, provider-defined.
	Model string

	// RequestTimeout bounds the whole completion including streaming.
	// Defaults to 60s.
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements engine.FallbackChannel.
type Client struct {
	url        string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the given endpoint.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("direct: endpoint URL required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		timeout:    opts.RequestTimeout,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}, nil
}

type completionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEvent is one decoded SSE payload on the completion stream.
type StreamEvent struct {
	Type  string `json:"type"` // "token", "done", "error"
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// Subscribe issues the completion request and streams tokens into the
// handlers. The history is sent in full; the question goes last.
func (c *Client) Subscribe(ctx context.Context, question string, history []engine.Message, h engine.StreamHandlers) (engine.Unsubscribe, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: buildMessages(question, history),
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("direct: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("direct: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("direct: request: %w", err)
	}
	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("direct: completion error %d: %s", resp.StatusCode, string(errBody))
	}

	sub := &subscription{
		cancel:   cancel,
		body:     resp.Body,
		handlers: h,
		logger:   c.logger,
	}
	go sub.readLoop()

	return sub.close, nil
}

func buildMessages(question string, history []engine.Message) []chatMessage {
	msgs := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Cancelled {
			continue
		}
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	// The question is already the last history entry when the caller
	// appended it before falling back; avoid sending it twice.
	if len(msgs) == 0 || msgs[len(msgs)-1].Content != question || msgs[len(msgs)-1].Role != string(engine.RoleUser) {
		msgs = append(msgs, chatMessage{Role: string(engine.RoleUser), Content: question})
	}
	return msgs
}

type subscription struct {
	cancel   context.CancelFunc
	body     io.ReadCloser
	handlers engine.StreamHandlers
	logger   *slog.Logger
	closed   atomic.Bool
}

func (s *subscription) close() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
	s.body.Close()
}

func (s *subscription) readLoop() {
	defer s.body.Close()
	defer s.cancel()

	reader := bufio.NewReader(s.body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if s.closed.Load() {
				return
			}
			if err == io.EOF {
				s.deliverError(engine.NewStreamError("fallback", "stream ended before completion"))
				return
			}
			s.deliverError(engine.NewStreamErrorFrom("fallback", err))
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			if !s.closed.Swap(true) {
				s.handlers.OnComplete()
			}
			return
		}

		var event StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Debug("unparseable stream event skipped", "error", err)
			continue
		}

		switch event.Type {
		case "token":
			if s.closed.Load() {
				return
			}
			s.handlers.OnChunk(event.Token)

		case "done":
			if !s.closed.Swap(true) {
				s.handlers.OnComplete()
			}
			return

		case "error":
			s.deliverError(engine.NewStreamError("fallback", event.Error))
			return

		default:
			s.logger.Debug("unknown stream event ignored", "type", event.Type)
		}
	}
}

func (s *subscription) deliverError(err error) {
	if s.closed.Swap(true) {
		return
	}
	s.handlers.OnError(err)
}
