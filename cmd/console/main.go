package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"helpdesk-console/internal/api"
	"helpdesk-console/internal/config"
	"helpdesk-console/internal/helpdesk"
	"helpdesk-console/internal/realtime"
	"helpdesk-console/internal/session"
)

var (
	realtimeOnce   sync.Once
	realtimeClient *realtime.Client
)

// realtimeFor lazily constructs the process-wide realtime client exactly
// once, preserving the at-most-one-live-connection invariant without hidden
// package state elsewhere in the module.
func realtimeFor(cfg config.Config, registry *realtime.Registry, logger zerolog.Logger) *realtime.Client {
	realtimeOnce.Do(func() {
		realtimeClient = realtime.NewClient(realtime.Options{
			URL:                  cfg.WebSocketURL,
			Token:                cfg.WebSocketSecret,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			Logger:               logger,
		}, registry)
	})
	return realtimeClient
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	backend := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, cfg.AskTimeout, logger)
	registry := realtime.NewRegistry(logger)
	rt := realtimeFor(cfg, registry, logger)

	store := session.NewStore(func(ctx context.Context) ([]session.Session, error) {
		page, err := backend.ListSessions(ctx, api.ListParams{Limit: 100})
		if err != nil {
			return nil, err
		}
		return page.Sessions, nil
	}, cfg.PendingAfter, logger)

	ctrl := helpdesk.NewController(backend, store, rt, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.OnStateChange(func(state realtime.State) {
		logger.Info().Str("state", string(state)).Msg("connection state changed")
	})

	if err := rt.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("connect failed")
	}
	defer rt.Disconnect()

	if err := store.Refresh(ctx); err != nil {
		logger.Fatal().Err(err).Msg("initial session fetch failed")
	}

	buckets := store.Buckets(time.Now())
	logger.Info().
		Int("queue", len(buckets[session.BucketQueue])).
		Int("pending", len(buckets[session.BucketPending])).
		Int("active", len(buckets[session.BucketActive])).
		Int("done", len(buckets[session.BucketDone])).
		Msg("session list loaded")

	// Follow live traffic for every session already in progress.
	for _, sess := range buckets[session.BucketActive] {
		sessID := sess.SessionID
		stopWatch := ctrl.Watch(sessID, nil, func(data json.RawMessage) {
			logger.Info().Str("session", sessID).RawJSON("data", data).Msg("live message")
		})
		defer stopWatch()

		for _, channel := range []string{sessID, session.AgentChannel(sessID)} {
			if err := rt.Subscribe(channel, realtime.CursorNow); err != nil {
				logger.Warn().Err(err).Str("channel", channel).Msg("subscribe failed")
			}
		}
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
}
