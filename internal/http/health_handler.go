package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"linklytics/internal/config"
)

// HealthStatus is the health check response. TelemetryStatus reports whether
// the time-series store credentials are configured, not whether the store is
// reachable; the app degrades gracefully without them.
type HealthStatus struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	DBStatus        string    `json:"db_status"`
	TelemetryStatus string    `json:"telemetry_status"`
}

// HealthIndexAction handles the health check endpoint.
func HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := "ok"

	db := ctx.DBManager.GetConnection()
	if db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	}

	telemetryStatus := "configured"
	if !config.GetConfig().HasTimeseriesCredentials() {
		telemetryStatus = "not_configured"
	}

	health := HealthStatus{
		Status:          "ok",
		Timestamp:       time.Now(),
		DBStatus:        dbStatus,
		TelemetryStatus: telemetryStatus,
	}
	if dbStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
