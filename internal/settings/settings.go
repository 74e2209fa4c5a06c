// Package settings stores tenant-wide configuration as key/value rows and
// exposes the aggregation settings the query-routing engine depends on.
// Environment variables take precedence over stored values so operators can
// pin behavior without touching the database.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"linklytics/internal/config"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Aggregation settings keys
const (
	KeyAggregationEnabled       = "aggregation_enabled"
	KeyAggregationThresholdDays = "aggregation_threshold_days"
	KeyAggregationBatchSize     = "aggregation_batch_size"
)

// Defaults. The threshold stays inside the time-series store's 90-day
// retention window with a safety margin so a date is always still queryable
// on the day it gets aggregated.
const (
	DefaultAggregationEnabled = true
	DefaultThresholdDays      = 83
	DefaultBatchSize          = 500
)

// AggregationSettings controls how report queries are routed between the
// time-series store and the durable rollups.
type AggregationSettings struct {
	Enabled       bool
	ThresholdDays int
	BatchSize     int
}

// Provider reads settings with a short TTL cache. It is injected into
// consumers explicitly; there is no package-level mutable state.
type Provider struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *slog.Logger
	cache  *cache.Cache[string, string]
}

// NewProvider creates a settings provider backed by the given database.
func NewProvider(db *gorm.DB, cfg *config.Config, logger *slog.Logger) *Provider {
	fetchFunc := func(key string) (string, error) {
		var value string
		err := db.WithContext(context.Background()).
			Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).
			Scan(&value).Error
		if err != nil {
			return "", err
		}
		return value, nil
	}

	return &Provider{
		db:     db,
		cfg:    cfg,
		logger: logger,
		cache:  cache.NewCache[string, string](logger, 5*time.Minute, fetchFunc),
	}
}

// SetupDefaultSettings seeds default settings rows, leaving existing values alone.
func SetupDefaultSettings(db *gorm.DB, logger *slog.Logger) error {
	defaults := []Setting{
		{Key: KeyAggregationEnabled, Value: strconv.FormatBool(DefaultAggregationEnabled)},
		{Key: KeyAggregationThresholdDays, Value: strconv.Itoa(DefaultThresholdDays)},
		{Key: KeyAggregationBatchSize, Value: strconv.Itoa(DefaultBatchSize)},
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, time.Now().UTC(), time.Now().UTC()).Error
			if err != nil {
				return fmt.Errorf("failed to seed setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})
}

// Aggregation resolves the current aggregation settings. Environment
// overrides (LINKLYTICS_AGGREGATION_ENABLED, LINKLYTICS_AGGREGATION_THRESHOLD_DAYS)
// win over stored rows; missing or malformed values fall back to defaults.
func (p *Provider) Aggregation() AggregationSettings {
	result := AggregationSettings{
		Enabled:       DefaultAggregationEnabled,
		ThresholdDays: DefaultThresholdDays,
		BatchSize:     DefaultBatchSize,
	}

	if v := p.lookup(KeyAggregationEnabled); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			result.Enabled = parsed
		}
	}
	if v := p.lookup(KeyAggregationThresholdDays); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			result.ThresholdDays = parsed
		}
	}
	if v, err := p.cache.Get(KeyAggregationBatchSize); err == nil && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			result.BatchSize = parsed
		}
	}

	// Env overrides take precedence over everything stored.
	if p.cfg.AggregationEnabledOverride != "" {
		if parsed, err := strconv.ParseBool(p.cfg.AggregationEnabledOverride); err == nil {
			result.Enabled = parsed
		} else {
			p.logger.Warn("Invalid LINKLYTICS_AGGREGATION_ENABLED override, ignoring",
				slog.String("value", p.cfg.AggregationEnabledOverride))
		}
	}
	if p.cfg.AggregationThresholdOverride != "" {
		if parsed, err := strconv.Atoi(p.cfg.AggregationThresholdOverride); err == nil && parsed > 0 {
			result.ThresholdDays = parsed
		} else {
			p.logger.Warn("Invalid LINKLYTICS_AGGREGATION_THRESHOLD_DAYS override, ignoring",
				slog.String("value", p.cfg.AggregationThresholdOverride))
		}
	}

	return result
}

// lookup reads one setting through the TTL cache, returning "" on any error.
func (p *Provider) lookup(key string) string {
	value, err := p.cache.Get(key)
	if err != nil {
		p.logger.Debug("Failed to read setting", slog.String("key", key), slog.Any("error", err))
		return ""
	}
	return value
}

// Invalidate drops the TTL cache so the next read hits the database.
func (p *Provider) Invalidate() {
	p.cache.Clear()
}

// GetSetting retrieves a setting value from the database
func GetSetting(db *gorm.DB, key string) (string, error) {
	var setting Setting
	result := db.Where("key = ?", key).First(&setting)
	if result.Error != nil {
		return "", result.Error
	}
	return setting.Value, nil
}

// UpdateSetting updates or creates a setting in a transaction.
func UpdateSetting(db *gorm.DB, logger *slog.Logger, key string, value string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
		if result.Error != nil {
			return fmt.Errorf("failed to update setting: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			if err := tx.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("failed to create setting: %w", err)
			}
		}
		return nil
	})
}

// SetAggregationEnabled persists the aggregation flag and drops the cache.
func (p *Provider) SetAggregationEnabled(enabled bool) error {
	if err := UpdateSetting(p.db, p.logger, KeyAggregationEnabled, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	p.Invalidate()
	return nil
}

// SetThresholdDays persists the aggregation age threshold and drops the cache.
func (p *Provider) SetThresholdDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("threshold days must be positive, got %d", days)
	}
	if err := UpdateSetting(p.db, p.logger, KeyAggregationThresholdDays, strconv.Itoa(days)); err != nil {
		return err
	}
	p.Invalidate()
	return nil
}
