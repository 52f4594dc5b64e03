package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/adjutant-ai/adjutant/internal/config"
	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/dispatch"
	"github.com/adjutant-ai/adjutant/internal/feedback"
	"github.com/adjutant-ai/adjutant/internal/gateway"
	"github.com/adjutant-ai/adjutant/internal/log"
	"github.com/adjutant-ai/adjutant/internal/openai"
	"github.com/adjutant-ai/adjutant/internal/orchestrator"
	"github.com/adjutant-ai/adjutant/internal/session"
)

// Setup creates and initializes the application.
// Returns an App ready for use — call Close() to release.
func Setup(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	logger := provideLogger(cfg)
	slog.SetDefault(logger)
	a.Logger = logger

	streamer, err := provideStreamer(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := provideDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	snapshots, err := provideSnapshots(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Store = conversation.NewStore(cfg.HistoryLimit)

	orch, err := orchestrator.New(orchestrator.Config{
		APIKey:     cfg.OpenAIAPIKey,
		Store:      a.Store,
		Streamer:   streamer,
		Dispatcher: dispatcher,
		Snapshots:  snapshots,
		Observer:   provideObserver(),
		Logger:     logger.With("component", "orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	logger.Debug("application assembled",
		"model", cfg.Model,
		"snapshot_path", cfg.SnapshotPath,
	)
	return a, nil
}

// provideLogger builds the process logger from config.
func provideLogger(cfg *config.Config) log.Logger {
	return log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
}

// provideStreamer creates the streaming completion client.
func provideStreamer(cfg *config.Config, logger log.Logger) (*openai.Client, error) {
	client, err := openai.New(openai.Config{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Logger:      logger.With("component", "openai"),
		Retry: openai.RetryConfig{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: time.Second,
			MaxInterval:     8 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream client: %w", err)
	}
	return client, nil
}

// provideDispatcher wires the tool dispatcher to the webhook gateway.
func provideDispatcher(cfg *config.Config, logger log.Logger) (*dispatch.Dispatcher, error) {
	gw, err := gateway.New(gateway.Config{
		WebhookURL: cfg.WebhookURL,
		Timeout:    cfg.RequestTimeout,
		Logger:     logger.With("component", "gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Backend: gw,
		Logger:  logger.With("component", "dispatch"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	return dispatcher, nil
}

// provideSnapshots creates the session snapshot store.
func provideSnapshots(cfg *config.Config, logger log.Logger) (*session.Store, error) {
	store, err := session.New(cfg.SnapshotPath, logger.With("component", "session"))
	if err != nil {
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}
	return store, nil
}

// provideObserver creates the terminal-bell stream observer. Bells go to
// stderr so they never interleave with the rendered interface on stdout.
func provideObserver() feedback.Observer {
	return feedback.NewBell(os.Stderr)
}
