package rollups

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"linklytics/internal/clicks"
	"linklytics/internal/links"
)

// Recorder is the real-time dual-write path: every accepted click bumps the
// day's rollup rows by one so fresh days are queryable from the durable store
// before the aggregation job has run. Increments here are deliberately
// different from the job's replace writes - when the job later recomputes the
// same day from raw events, its replace overwrites whatever the increments
// accumulated, so the two paths never double count.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// RecordClick increments the click counters for every dimension the event
// carries, in one transaction. Unique-visitor columns are left for the
// aggregation job; a single click cannot know distinctness.
func (r *Recorder) RecordClick(ctx context.Context, event *clicks.ClickEvent) error {
	ts, err := time.Parse(clicks.StorageTimeFormat, event.Timestamp)
	if err != nil {
		return fmt.Errorf("malformed event timestamp %q: %w", event.Timestamp, err)
	}
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	err = sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		if err := tx.Exec(`
			INSERT INTO daily_aggregates (link_id, date, clicks, unique_visitors, created_at, updated_at)
			VALUES (?, ?, 1, 0, ?, ?)
			ON CONFLICT (link_id, date) DO UPDATE SET
				clicks = daily_aggregates.clicks + 1,
				updated_at = ?
		`, event.LinkID, day, now, now, now).Error; err != nil {
			return err
		}

		if err := tx.Exec(`
			INSERT INTO geo_aggregates (link_id, date, country, city, clicks, unique_visitors, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT (link_id, date, country, city) DO UPDATE SET
				clicks = geo_aggregates.clicks + 1,
				updated_at = ?
		`, event.LinkID, day, event.Country, event.City, now, now, now).Error; err != nil {
			return err
		}

		if err := tx.Exec(`
			INSERT INTO referrer_aggregates (link_id, date, referrer_domain, clicks, unique_visitors, created_at, updated_at)
			VALUES (?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT (link_id, date, referrer_domain) DO UPDATE SET
				clicks = referrer_aggregates.clicks + 1,
				updated_at = ?
		`, event.LinkID, day, event.ReferrerDomain, now, now, now).Error; err != nil {
			return err
		}

		if err := tx.Exec(`
			INSERT INTO device_aggregates (link_id, date, device, browser, os, clicks, unique_visitors, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT (link_id, date, device, browser, os) DO UPDATE SET
				clicks = device_aggregates.clicks + 1,
				updated_at = ?
		`, event.LinkID, day, event.Device, event.Browser, event.OS, now, now, now).Error; err != nil {
			return err
		}

		if event.UTMSource != "" || event.UTMMedium != "" || event.UTMCampaign != "" {
			if err := tx.Exec(`
				INSERT INTO utm_aggregates (link_id, date, utm_source, utm_medium, utm_campaign, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?)
				ON CONFLICT (link_id, date, utm_source, utm_medium, utm_campaign) DO UPDATE SET
					clicks = utm_aggregates.clicks + 1,
					updated_at = ?
			`, event.LinkID, day, event.UTMSource, event.UTMMedium, event.UTMCampaign, now, now, now).Error; err != nil {
				return err
			}
		}

		for slot, value := range map[int]string{1: event.CustomParam1, 2: event.CustomParam2, 3: event.CustomParam3} {
			if value == "" {
				continue
			}
			if err := tx.Exec(`
				INSERT INTO custom_param_aggregates (link_id, date, slot, param_value, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, 1, 0, ?, ?)
				ON CONFLICT (link_id, date, slot, param_value) DO UPDATE SET
					clicks = custom_param_aggregates.clicks + 1,
					updated_at = ?
			`, event.LinkID, day, slot, value, now, now, now).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record click for link %s: %w", event.LinkID, err)
	}

	return links.IncrementCachedClicks(r.db, r.logger, event.LinkID)
}
