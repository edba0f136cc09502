// Command attend runs the meeting-assistant overlay engine: it consumes the
// transcription feed, answers questions over the primary and fallback
// channels, and exposes the local HTTP control surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vango-go/attend/pkg/channels/direct"
	"github.com/vango-go/attend/pkg/channels/ragws"
	"github.com/vango-go/attend/pkg/channels/speech"
	"github.com/vango-go/attend/pkg/config"
	"github.com/vango-go/attend/pkg/engine"
	"github.com/vango-go/attend/pkg/metrics"
	"github.com/vango-go/attend/pkg/server"
	"github.com/vango-go/attend/pkg/store"
)

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	primary, err := ragws.New(ragws.Options{
		URL:              cfg.PrimaryURL,
		APIKey:           cfg.PrimaryAPIKey,
		HandshakeTimeout: cfg.WSHandshakeTimeout,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("primary channel: %w", err)
	}

	fallback, err := direct.New(direct.Options{
		URL:            cfg.FallbackURL,
		APIKey:         cfg.FallbackAPIKey,
		Model:          cfg.FallbackModel,
		RequestTimeout: cfg.FallbackRequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("fallback channel: %w", err)
	}

	feed, err := speech.New(speech.Options{
		URL:              cfg.SpeechURL,
		APIKey:           cfg.SpeechAPIKey,
		HandshakeTimeout: cfg.WSHandshakeTimeout,
		ReconnectDelay:   cfg.SpeechReconnectDelay,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("speech feed: %w", err)
	}

	m := metrics.New("attend")

	var db *store.Store
	if cfg.StorePath != "" {
		db, err = store.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
	}

	conversationID := "conv_" + time.Now().UTC().Format("20060102T150405")
	eng := engine.New(primary, fallback, engine.Options{
		ConversationID: conversationID,
		SelfSpeaker:    cfg.SelfSpeaker,
		DisplaySpeaker: cfg.DisplaySpeaker,
		Separator:      cfg.Separator,
		WaitTimeout:    cfg.TurnWaitTimeout,
		EventBuffer:    cfg.EventBuffer,
		Logger:         logger,
		Metrics:        m,
	})
	defer eng.Close()

	srv := server.New(server.Options{
		Engine:         eng,
		Metrics:        m,
		Store:          db,
		ConversationID: conversationID,
		Logger:         logger,
	})
	go srv.PumpEvents(ctx)

	feedCtx, feedCancel := context.WithCancel(ctx)
	defer feedCancel()
	go func() {
		if err := feed.Run(feedCtx, eng.ApplyFragment); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("speech feed stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting overlay", "addr", cfg.Addr, "conversation_id", conversationID)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	feedCancel()
	eng.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("overlay stopped")
	return nil
}

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "attend: %v\n", err)
		os.Exit(1)
	}
}
