// Package rollups is the durable aggregate store: per-link, per-day counters
// in SQLite that survive the time-series store's retention window. The
// aggregation job writes them with replace semantics; the real-time dual-write
// path increments them. Readers serve the archived portion of reports.
package rollups

import "time"

// DailyAggregate is the per-link daily total, the spine of every report.
type DailyAggregate struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LinkID         string    `gorm:"size:36;not null;uniqueIndex:idx_daily_link_date,priority:1"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_daily_link_date,priority:2"`
	Clicks         int64     `gorm:"not null;default:0"`
	UniqueVisitors int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// GeoAggregate breaks a link's day down by country and city.
type GeoAggregate struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LinkID         string    `gorm:"size:36;not null;uniqueIndex:idx_geo_key,priority:1"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_geo_key,priority:2"`
	Country        string    `gorm:"size:64;not null;uniqueIndex:idx_geo_key,priority:3"`
	City           string    `gorm:"size:128;not null;uniqueIndex:idx_geo_key,priority:4"`
	Clicks         int64     `gorm:"not null;default:0"`
	UniqueVisitors int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// ReferrerAggregate breaks a link's day down by referrer domain.
type ReferrerAggregate struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LinkID         string    `gorm:"size:36;not null;uniqueIndex:idx_ref_key,priority:1"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_ref_key,priority:2"`
	ReferrerDomain string    `gorm:"size:255;not null;uniqueIndex:idx_ref_key,priority:3"`
	Clicks         int64     `gorm:"not null;default:0"`
	UniqueVisitors int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// DeviceAggregate breaks a link's day down by device class, browser and OS.
type DeviceAggregate struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LinkID         string    `gorm:"size:36;not null;uniqueIndex:idx_device_key,priority:1"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_device_key,priority:2"`
	Device         string    `gorm:"size:32;not null;uniqueIndex:idx_device_key,priority:3"`
	Browser        string    `gorm:"size:64;not null;uniqueIndex:idx_device_key,priority:4"`
	OS             string    `gorm:"size:64;not null;uniqueIndex:idx_device_key,priority:5"`
	Clicks         int64     `gorm:"not null;default:0"`
	UniqueVisitors int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// UTMAggregate breaks a link's day down by campaign attribution.
type UTMAggregate struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LinkID         string    `gorm:"size:36;not null;uniqueIndex:idx_utm_key,priority:1"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_utm_key,priority:2"`
	UTMSource      string    `gorm:"size:255;not null;uniqueIndex:idx_utm_key,priority:3"`
	UTMMedium      string    `gorm:"size:255;not null;uniqueIndex:idx_utm_key,priority:4"`
	UTMCampaign    string    `gorm:"size:255;not null;uniqueIndex:idx_utm_key,priority:5"`
	Clicks         int64     `gorm:"not null;default:0"`
	UniqueVisitors int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// CustomParamAggregate breaks a link's day down by one of the three
// pass-through custom parameters. Slot is 1, 2 or 3.
type CustomParamAggregate struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LinkID         string    `gorm:"size:36;not null;uniqueIndex:idx_param_key,priority:1"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_param_key,priority:2"`
	Slot           int       `gorm:"not null;uniqueIndex:idx_param_key,priority:3"`
	ParamValue     string    `gorm:"size:255;not null;uniqueIndex:idx_param_key,priority:4"`
	Clicks         int64     `gorm:"not null;default:0"`
	UniqueVisitors int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// AllModels lists every rollup table for migration.
func AllModels() []any {
	return []any{
		&DailyAggregate{},
		&GeoAggregate{},
		&ReferrerAggregate{},
		&DeviceAggregate{},
		&UTMAggregate{},
		&CustomParamAggregate{},
	}
}
