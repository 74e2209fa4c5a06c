// Package geoip wraps the optional GeoLite2 city database. Click events
// arriving without edge-resolved geo data fall back to a local lookup here;
// when the database is absent every lookup degrades to unknown.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"linklytics/internal/config"
)

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 database. Returns nil if the database is not
// configured or not present on disk (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - geo lookups disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); err != nil {
		if logger != nil {
			logger.Info("GeoLite2 database not found - geo lookups disabled",
				slog.String("path", cfg.GeoDBPath))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized", slog.String("path", cfg.GeoDBPath))
	}
	return db
}

// GetGeoDB returns the GeoLite2 reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the database from disk, e.g. after a fresh download.
func ReloadGeoDB() {
	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()

	if geoDB != nil && logger != nil {
		logger.Info("GeoLite2 database reloaded")
	}
}

// Lookup resolves an IP address to an uppercase ISO country code and city
// name. Either value may be empty when the database is missing or has no
// record for the address.
func Lookup(ipAddress string) (country, city string) {
	db := GetGeoDB()
	if db == nil {
		return "", ""
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return "", ""
	}

	record, err := db.City(ip)
	if err != nil {
		if logger != nil {
			logger.Debug("GeoIP lookup failed", slog.String("ip", ipAddress), slog.Any("error", err))
		}
		return "", ""
	}

	return record.Country.IsoCode, record.City.Names["en"]
}
