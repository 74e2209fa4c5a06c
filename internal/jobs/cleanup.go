package jobs

import (
	"log/slog"

	"linklytics/internal/clicks"
	"linklytics/internal/config"
	"linklytics/internal/database"
)

// CleanupJob trims the durable click spool: delivered rows past the retention
// window are deleted so the buffer table stays bounded.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deletes delivered spool rows older than the retention period.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.ClickBufferRetentionDays
	db := j.dbManager.GetConnection()

	deleted, err := clicks.PurgeOld(db, j.logger, retentionDays)
	if err != nil {
		j.logger.Error("Failed to clean up click buffer", slog.Any("error", err))
		return err
	}

	if deleted > 0 {
		j.logger.Info("Cleaned up click buffer",
			slog.Int64("deleted_count", deleted),
			slog.Int("retention_days", retentionDays))
	} else {
		j.logger.Debug("No old buffered clicks to clean up")
	}
	return nil
}
