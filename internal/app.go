// Package internal contains core application functionality
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"linklytics/internal/clicks"
	"linklytics/internal/config"
	"linklytics/internal/database"
	"linklytics/internal/jobs"
	"linklytics/internal/reports"
	"linklytics/internal/rollups"
	"linklytics/internal/settings"
	"linklytics/internal/timeseries"
)

// Application wraps cartridge.Application with linklytics-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Scheduler *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config. All
// shared services (time-series client, click writer, report service) are built
// here once and handed to both the HTTP routes and the background jobs.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db := dbManager.GetConnection()

	store := timeseries.NewClient(cfg, logger)
	provider := settings.NewProvider(db, cfg, logger)
	recorder := rollups.NewRecorder(db, logger)
	writer := clicks.NewWriter(db, store, recorder, logger, cfg.PrivateKey)
	reportService := reports.NewService(db, store, provider, logger)

	scheduler, err := jobs.NewScheduler(dbManager, store, writer, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	deps := RouteDeps{
		Writer:    writer,
		Reports:   reportService,
		Settings:  provider,
		Scheduler: scheduler,
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    MountAppRoutes(deps),
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Scheduler:   scheduler,
	}, nil
}
