package rollups

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// DayRollup holds every aggregate row computed for one calendar day, ready to
// be written with replace semantics.
type DayRollup struct {
	Date        time.Time
	Daily       []DailyAggregate
	Geo         []GeoAggregate
	Referrer    []ReferrerAggregate
	Device      []DeviceAggregate
	UTM         []UTMAggregate
	CustomParam []CustomParamAggregate
}

// Rows returns the total number of aggregate rows in the rollup.
func (r *DayRollup) Rows() int {
	return len(r.Daily) + len(r.Geo) + len(r.Referrer) + len(r.Device) + len(r.UTM) + len(r.CustomParam)
}

// ReplaceDay writes a full day's rollup. Conflicting rows are overwritten with
// the freshly computed values, never incremented, so re-running the same day
// converges instead of double counting. Statements are grouped into
// transactions of at most batchSize writes.
func ReplaceDay(db *gorm.DB, logger *slog.Logger, batchSize int, rollup *DayRollup) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	statements := collectReplaceStatements(rollup)
	for start := 0; start < len(statements); start += batchSize {
		end := start + batchSize
		if end > len(statements) {
			end = len(statements)
		}
		chunk := statements[start:end]
		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			for _, statement := range chunk {
				if err := statement(tx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to write rollup batch for %s: %w",
				rollup.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

type writeStatement func(tx *gorm.DB) error

func collectReplaceStatements(rollup *DayRollup) []writeStatement {
	now := time.Now().UTC()
	statements := make([]writeStatement, 0, rollup.Rows())

	for _, row := range rollup.Daily {
		row := row
		statements = append(statements, func(tx *gorm.DB) error {
			return tx.Exec(`
				INSERT INTO daily_aggregates (link_id, date, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (link_id, date) DO UPDATE SET
					clicks = excluded.clicks,
					unique_visitors = excluded.unique_visitors,
					updated_at = excluded.updated_at
			`, row.LinkID, row.Date, row.Clicks, row.UniqueVisitors, now, now).Error
		})
	}
	for _, row := range rollup.Geo {
		row := row
		statements = append(statements, func(tx *gorm.DB) error {
			return tx.Exec(`
				INSERT INTO geo_aggregates (link_id, date, country, city, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (link_id, date, country, city) DO UPDATE SET
					clicks = excluded.clicks,
					unique_visitors = excluded.unique_visitors,
					updated_at = excluded.updated_at
			`, row.LinkID, row.Date, row.Country, row.City, row.Clicks, row.UniqueVisitors, now, now).Error
		})
	}
	for _, row := range rollup.Referrer {
		row := row
		statements = append(statements, func(tx *gorm.DB) error {
			return tx.Exec(`
				INSERT INTO referrer_aggregates (link_id, date, referrer_domain, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (link_id, date, referrer_domain) DO UPDATE SET
					clicks = excluded.clicks,
					unique_visitors = excluded.unique_visitors,
					updated_at = excluded.updated_at
			`, row.LinkID, row.Date, row.ReferrerDomain, row.Clicks, row.UniqueVisitors, now, now).Error
		})
	}
	for _, row := range rollup.Device {
		row := row
		statements = append(statements, func(tx *gorm.DB) error {
			return tx.Exec(`
				INSERT INTO device_aggregates (link_id, date, device, browser, os, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (link_id, date, device, browser, os) DO UPDATE SET
					clicks = excluded.clicks,
					unique_visitors = excluded.unique_visitors,
					updated_at = excluded.updated_at
			`, row.LinkID, row.Date, row.Device, row.Browser, row.OS, row.Clicks, row.UniqueVisitors, now, now).Error
		})
	}
	for _, row := range rollup.UTM {
		row := row
		statements = append(statements, func(tx *gorm.DB) error {
			return tx.Exec(`
				INSERT INTO utm_aggregates (link_id, date, utm_source, utm_medium, utm_campaign, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (link_id, date, utm_source, utm_medium, utm_campaign) DO UPDATE SET
					clicks = excluded.clicks,
					unique_visitors = excluded.unique_visitors,
					updated_at = excluded.updated_at
			`, row.LinkID, row.Date, row.UTMSource, row.UTMMedium, row.UTMCampaign, row.Clicks, row.UniqueVisitors, now, now).Error
		})
	}
	for _, row := range rollup.CustomParam {
		row := row
		statements = append(statements, func(tx *gorm.DB) error {
			return tx.Exec(`
				INSERT INTO custom_param_aggregates (link_id, date, slot, param_value, clicks, unique_visitors, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (link_id, date, slot, param_value) DO UPDATE SET
					clicks = excluded.clicks,
					unique_visitors = excluded.unique_visitors,
					updated_at = excluded.updated_at
			`, row.LinkID, row.Date, row.Slot, row.ParamValue, row.Clicks, row.UniqueVisitors, now, now).Error
		})
	}
	return statements
}
