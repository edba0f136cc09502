// Package config loads overlay configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Addr is the local HTTP listen address for metrics and health.
	Addr string

	// Primary channel (retrieval-augmented backend, websocket).
	PrimaryURL    string
	PrimaryAPIKey string

	// Fallback channel (direct completion, SSE over HTTP).
	FallbackURL    string
	FallbackAPIKey string
	FallbackModel  string

	// Transcription feed.
	SpeechURL    string
	SpeechAPIKey string

	// Speaker routing.
	SelfSpeaker    string
	DisplaySpeaker string

	// Separator joins finalized transcript segments.
	Separator string

	// TurnWaitTimeout bounds the waiting state of a turn. Zero disables it.
	TurnWaitTimeout time.Duration

	// EventBuffer sizes the engine event channel.
	EventBuffer int

	// Websocket and streaming timeouts.
	WSHandshakeTimeout     time.Duration
	SpeechReconnectDelay   time.Duration
	FallbackRequestTimeout time.Duration

	// StorePath is the sqlite database for settled conversations. Empty
	// disables persistence.
	StorePath string

	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("ATTEND_ADDR", ":8090"),
		PrimaryURL:             strings.TrimSpace(os.Getenv("ATTEND_PRIMARY_URL")),
		PrimaryAPIKey:          strings.TrimSpace(os.Getenv("ATTEND_PRIMARY_API_KEY")),
		FallbackURL:            strings.TrimSpace(os.Getenv("ATTEND_FALLBACK_URL")),
		FallbackAPIKey:         strings.TrimSpace(os.Getenv("ATTEND_FALLBACK_API_KEY")),
		FallbackModel:          envOr("ATTEND_FALLBACK_MODEL", "gpt-4o-mini"),
		SpeechURL:              strings.TrimSpace(os.Getenv("ATTEND_SPEECH_URL")),
		SpeechAPIKey:           strings.TrimSpace(os.Getenv("ATTEND_SPEECH_API_KEY")),
		SelfSpeaker:            envOr("ATTEND_SELF_SPEAKER", "self"),
		DisplaySpeaker:         envOr("ATTEND_DISPLAY_SPEAKER", "other"),
		Separator:              envOr("ATTEND_SEPARATOR", " "),
		TurnWaitTimeout:        envDurationOr("ATTEND_TURN_WAIT_TIMEOUT", 30*time.Second),
		EventBuffer:            envIntOr("ATTEND_EVENT_BUFFER", 100),
		WSHandshakeTimeout:     envDurationOr("ATTEND_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		SpeechReconnectDelay:   envDurationOr("ATTEND_SPEECH_RECONNECT_DELAY", 2*time.Second),
		FallbackRequestTimeout: envDurationOr("ATTEND_FALLBACK_REQUEST_TIMEOUT", 60*time.Second),
		StorePath:              strings.TrimSpace(os.Getenv("ATTEND_STORE_PATH")),
		ShutdownGracePeriod:    envDurationOr("ATTEND_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if cfg.PrimaryURL == "" {
		return Config{}, fmt.Errorf("ATTEND_PRIMARY_URL must be set")
	}
	if cfg.FallbackURL == "" {
		return Config{}, fmt.Errorf("ATTEND_FALLBACK_URL must be set")
	}
	if cfg.SpeechURL == "" {
		return Config{}, fmt.Errorf("ATTEND_SPEECH_URL must be set")
	}
	if cfg.SelfSpeaker == cfg.DisplaySpeaker {
		return Config{}, fmt.Errorf("ATTEND_SELF_SPEAKER and ATTEND_DISPLAY_SPEAKER must differ")
	}
	if cfg.TurnWaitTimeout < 0 {
		return Config{}, fmt.Errorf("ATTEND_TURN_WAIT_TIMEOUT must be >= 0")
	}
	if cfg.EventBuffer <= 0 {
		return Config{}, fmt.Errorf("ATTEND_EVENT_BUFFER must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTEND_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.SpeechReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("ATTEND_SPEECH_RECONNECT_DELAY must be > 0")
	}
	if cfg.FallbackRequestTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTEND_FALLBACK_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("ATTEND_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
