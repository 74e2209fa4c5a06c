package rollups

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"linklytics/internal/timeseries"
)

// QueryGrouped reads the archived side of a report: aggregate rows for the
// given dimension, summed over the date range. Results use the same row shape
// as the live store so the report merger treats both sources uniformly.
// Unique-visitor sums across days overcount repeat visitors; the per-day
// values are exact unions computed by the aggregation job.
func QueryGrouped(db *gorm.DB, dim timeseries.Dimension, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	switch dim {
	case timeseries.DimensionDaily:
		return queryDaily(db, from, to, linkIDs)
	case timeseries.DimensionGeo:
		return queryGeo(db, from, to, linkIDs)
	case timeseries.DimensionReferrer:
		return queryReferrer(db, from, to, linkIDs)
	case timeseries.DimensionDevice:
		return queryDevice(db, from, to, linkIDs)
	case timeseries.DimensionUTM:
		return queryUTM(db, from, to, linkIDs)
	case timeseries.DimensionCustomParam1:
		return queryCustomParam(db, 1, from, to, linkIDs)
	case timeseries.DimensionCustomParam2:
		return queryCustomParam(db, 2, from, to, linkIDs)
	case timeseries.DimensionCustomParam3:
		return queryCustomParam(db, 3, from, to, linkIDs)
	default:
		return nil, fmt.Errorf("rollups: unknown dimension %q", dim)
	}
}

func scoped(db *gorm.DB, table string, from, to time.Time, linkIDs []string) *gorm.DB {
	query := db.Table(table).
		Where("date >= ? AND date <= ?", dayStart(from), dayStart(to))
	if len(linkIDs) > 0 {
		query = query.Where("link_id IN ?", linkIDs)
	}
	return query
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func queryDaily(db *gorm.DB, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	var rows []timeseries.Row
	err := scoped(db, "daily_aggregates", from, to, linkIDs).
		Select("strftime('%Y-%m-%d', date) AS date, SUM(clicks) AS clicks, SUM(unique_visitors) AS uniques").
		Group("strftime('%Y-%m-%d', date)").
		Order("date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rollups: daily query failed: %w", err)
	}
	return rows, nil
}

func queryGeo(db *gorm.DB, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	var rows []timeseries.Row
	err := scoped(db, "geo_aggregates", from, to, linkIDs).
		Select("country, city, SUM(clicks) AS clicks, SUM(unique_visitors) AS uniques").
		Group("country, city").
		Order("clicks DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rollups: geo query failed: %w", err)
	}
	return rows, nil
}

func queryReferrer(db *gorm.DB, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	var rows []timeseries.Row
	err := scoped(db, "referrer_aggregates", from, to, linkIDs).
		Select("referrer_domain, SUM(clicks) AS clicks, SUM(unique_visitors) AS uniques").
		Group("referrer_domain").
		Order("clicks DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rollups: referrer query failed: %w", err)
	}
	return rows, nil
}

func queryDevice(db *gorm.DB, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	var rows []timeseries.Row
	err := scoped(db, "device_aggregates", from, to, linkIDs).
		Select("device, browser, os, SUM(clicks) AS clicks, SUM(unique_visitors) AS uniques").
		Group("device, browser, os").
		Order("clicks DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rollups: device query failed: %w", err)
	}
	return rows, nil
}

func queryUTM(db *gorm.DB, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	var rows []timeseries.Row
	err := scoped(db, "utm_aggregates", from, to, linkIDs).
		Select("utm_source, utm_medium, utm_campaign, SUM(clicks) AS clicks, SUM(unique_visitors) AS uniques").
		Group("utm_source, utm_medium, utm_campaign").
		Order("clicks DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rollups: utm query failed: %w", err)
	}
	return rows, nil
}

func queryCustomParam(db *gorm.DB, slot int, from, to time.Time, linkIDs []string) ([]timeseries.Row, error) {
	var rows []timeseries.Row
	err := scoped(db, "custom_param_aggregates", from, to, linkIDs).
		Where("slot = ?", slot).
		Select("param_value, SUM(clicks) AS clicks, SUM(unique_visitors) AS uniques").
		Group("param_value").
		Order("clicks DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rollups: custom param query failed: %w", err)
	}
	return rows, nil
}

// TotalsForLink sums a link's archived clicks and per-day unique visitors
// over a window. Used by the aggregation job when refreshing cached counters.
func TotalsForLink(db *gorm.DB, linkID string, from, to time.Time) (clicks, uniques int64, err error) {
	var result struct {
		Clicks  int64
		Uniques int64
	}
	err = db.Table("daily_aggregates").
		Where("link_id = ? AND date >= ? AND date <= ?", linkID, dayStart(from), dayStart(to)).
		Select("COALESCE(SUM(clicks), 0) AS clicks, COALESCE(SUM(unique_visitors), 0) AS uniques").
		Scan(&result).Error
	if err != nil {
		return 0, 0, fmt.Errorf("rollups: totals query failed: %w", err)
	}
	return result.Clicks, result.Uniques, nil
}
