// Package speech connects to the transcription feed and delivers speech
// fragments to the engine. The feed is a long-lived websocket; fragments are
// JSON frames carrying the speaker, the text, and whether the segment is
// final or an in-progress hypothesis.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Fragment is one frame on the transcription feed.
type Fragment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Final   bool   `json:"final"`
}

// Handler receives each fragment in feed order.
type Handler func(speaker, text string, isFinal bool)

// Options configures the source.
type Options struct {
	// URL is the websocket endpoint of the transcription feed.
	URL string

	// APIKey is sent as a bearer token on the upgrade request.
	APIKey string

	// HandshakeTimeout bounds each dial. Defaults to 10s.
	HandshakeTimeout time.Duration

	// ReconnectDelay is the pause between connection attempts after the
	// feed drops. Defaults to 2s.
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

// Source streams the transcription feed into a Handler.
type Source struct {
	url              string
	apiKey           string
	handshakeTimeout time.Duration
	reconnectDelay   time.Duration
	logger           *slog.Logger
}

// New creates a source for the given feed endpoint.
func New(opts Options) (*Source, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("speech: feed URL required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Source{
		url:              opts.URL,
		apiKey:           opts.APIKey,
		handshakeTimeout: opts.HandshakeTimeout,
		reconnectDelay:   opts.ReconnectDelay,
		logger:           opts.Logger,
	}, nil
}

// Run consumes the feed until the context is cancelled, reconnecting when
// the connection drops. Fragments are delivered on the calling goroutine.
func (s *Source) Run(ctx context.Context, handler Handler) error {
	for {
		err := s.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("transcription feed dropped, reconnecting", "error", err, "delay", s.reconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Source) consumeOnce(ctx context.Context, handler Handler) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("speech: connect: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so the blocking read
	// below unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frag Fragment
		if err := conn.ReadJSON(&frag); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if frag.Speaker == "" {
			s.logger.Debug("fragment without speaker dropped")
			continue
		}
		handler(frag.Speaker, frag.Text, frag.Final)
	}
}
