package clicks

import (
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// BufferedClick is a durable spool row for one click event awaiting delivery
// to the time-series store. Events land here first so a store outage or
// missing credentials never loses clicks; a background job drains the spool.
type BufferedClick struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"`
	Payload   string     `gorm:"not null"`
	SentAt    *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"not null;index"`
}

// Enqueue persists one event into the spool.
func Enqueue(db *gorm.DB, logger *slog.Logger, event *ClickEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode click event: %w", err)
	}
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(&BufferedClick{
			Payload:   string(payload),
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}

// PendingBatch loads up to limit unsent spool rows, oldest first.
func PendingBatch(db *gorm.DB, limit int) ([]BufferedClick, error) {
	var rows []BufferedClick
	err := db.Where("sent_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending clicks: %w", err)
	}
	return rows, nil
}

// MarkSent stamps a batch of spool rows as delivered.
func MarkSent(db *gorm.DB, logger *slog.Logger, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&BufferedClick{}).
			Where("id IN ?", ids).
			Update("sent_at", now).Error
	})
}

// PurgeOld deletes delivered spool rows older than the retention window.
// Undelivered rows are kept regardless of age.
func PurgeOld(db *gorm.DB, logger *slog.Logger, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("sent_at IS NOT NULL AND created_at < ?", cutoff).
			Delete(&BufferedClick{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge click buffer: %w", err)
	}
	return deleted, nil
}
