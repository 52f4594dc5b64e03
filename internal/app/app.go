// Package app assembles the application: configuration, logging, the
// streaming client, the webhook gateway, tool dispatch, session persistence,
// and the orchestrator that ties them together.
package app

import (
	"github.com/adjutant-ai/adjutant/internal/config"
	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/log"
	"github.com/adjutant-ai/adjutant/internal/orchestrator"
)

// App is the assembled application container.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Store        *conversation.Store
	Orchestrator *orchestrator.Orchestrator
}

// Close releases held resources. Safe to call after a failed Setup.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down")
	}
	return nil
}
