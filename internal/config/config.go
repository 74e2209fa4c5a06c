// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	AdminEmail  string   `mapstructure:"adminemail"`
	Domain      string   `mapstructure:"domain"`

	// File paths
	DatabasePath    string `mapstructure:"storagepath"`
	DatabaseName    string `mapstructure:"-"` // Derived from other settings
	GeoDBPath       string `mapstructure:"geodbpath"`
	PublicDirectory string `mapstructure:"publicdir"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Time-series store (click telemetry) query API settings.
	// The token is the query credential; the write path uses the same endpoint.
	TimeseriesEndpoint string `mapstructure:"timeseriesendpoint"`
	TimeseriesToken    string `mapstructure:"timeseriestoken"`
	TimeseriesDataset  string `mapstructure:"timeseriesdataset"`

	// Aggregation overrides. Empty string means "use the stored setting".
	AggregationEnabledOverride   string `mapstructure:"aggregationenabled"`
	AggregationThresholdOverride string `mapstructure:"aggregationthresholddays"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings
	ClickBufferRetentionDays int `mapstructure:"clickbufferretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "linklytics")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "web/dist/assets")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("timeseriesendpoint", "")
		v.SetDefault("timeseriestoken", "")
		v.SetDefault("timeseriesdataset", "click_events")
		v.SetDefault("aggregationenabled", "")
		v.SetDefault("aggregationthresholddays", "")
		v.SetDefault("jobintervalseconds", 60)
		v.SetDefault("clickbufferretentiondays", 90)

		// Bind environment variables
		v.BindEnv("appname", "LINKLYTICS_APP_NAME")
		v.BindEnv("appport", "LINKLYTICS_APP_PORT")
		v.BindEnv("environment", "LINKLYTICS_ENV")
		v.BindEnv("loglevel", "LINKLYTICS_LOG_LEVEL")
		v.BindEnv("privatekey", "LINKLYTICS_PRIVATE_KEY")
		v.BindEnv("adminemail", "LINKLYTICS_ADMIN_EMAIL")
		v.BindEnv("domain", "LINKLYTICS_DOMAIN")
		v.BindEnv("storagepath", "LINKLYTICS_STORAGE_PATH")
		v.BindEnv("geodbpath", "LINKLYTICS_GEO_DB_PATH")
		v.BindEnv("publicdir", "LINKLYTICS_PUBLIC_DIR")
		v.BindEnv("logsdir", "LINKLYTICS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "LINKLYTICS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "LINKLYTICS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "LINKLYTICS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "LINKLYTICS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "LINKLYTICS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "LINKLYTICS_DB_MAX_IDLE_CONNS")
		v.BindEnv("timeseriesendpoint", "LINKLYTICS_TIMESERIES_ENDPOINT")
		v.BindEnv("timeseriestoken", "LINKLYTICS_TIMESERIES_TOKEN")
		v.BindEnv("timeseriesdataset", "LINKLYTICS_TIMESERIES_DATASET")
		v.BindEnv("aggregationenabled", "LINKLYTICS_AGGREGATION_ENABLED")
		v.BindEnv("aggregationthresholddays", "LINKLYTICS_AGGREGATION_THRESHOLD_DAYS")
		v.BindEnv("jobintervalseconds", "LINKLYTICS_JOB_INTERVAL_SECONDS")
		v.BindEnv("clickbufferretentiondays", "LINKLYTICS_CLICK_BUFFER_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		// Validate private key - in production, must be explicitly set (not empty, not default)
		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique LINKLYTICS_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	return nil
}

// HasTimeseriesCredentials reports whether the time-series query API can be
// called at all. Without a token the source selector must treat the live
// source as unavailable (and forced-live requests fail closed).
func (c *Config) HasTimeseriesCredentials() bool {
	return c.TimeseriesEndpoint != "" && c.TimeseriesToken != ""
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return "/"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for E2E test stability)
// - Development/Production: 10 (allows concurrent reads for parallel report queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
