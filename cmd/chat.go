package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	tea "charm.land/bubbletea/v2"

	"github.com/adjutant-ai/adjutant/internal/app"
	"github.com/adjutant-ai/adjutant/internal/config"
	"github.com/adjutant-ai/adjutant/internal/tui"
)

// runChat initializes the application and starts the interactive chat TUI.
func runChat() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("close error", "error", closeErr)
		}
	}()

	// A damaged or missing snapshot starts a fresh conversation; it never
	// blocks startup.
	if err := a.Orchestrator.Resume(); err != nil {
		a.Logger.Warn("could not resume previous session", "error", err)
	}

	model, err := tui.New(ctx, a.Orchestrator, a.Store.Messages())
	if err != nil {
		return fmt.Errorf("creating TUI: %w", err)
	}
	program := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err = program.Run(); err != nil {
		return fmt.Errorf("TUI exited: %w", err)
	}
	return nil
}
