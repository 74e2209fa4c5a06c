// Package testsupport provides shared helpers for package tests: in-memory
// databases with the full schema, fixture builders, and a fake time-series
// store.
package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linklytics/internal"
	"linklytics/internal/clicks"
	"linklytics/internal/config"
	"linklytics/internal/links"
	"linklytics/internal/reports"
	"linklytics/internal/rollups"
	"linklytics/internal/settings"
	"linklytics/internal/timeseries"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with linklytics' interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns every linklytics model for migration
func allModels() []any {
	models := []any{
		&cache.CacheRecord{},
		&settings.Setting{},
		&links.Link{},
		&links.ShortDomain{},
		&clicks.BufferedClick{},
	}
	return append(models, rollups.AllModels()...)
}

// SetupTestDB creates a test database with all linklytics models migrated.
// Uses a named in-memory database with cache=shared so multiple connections
// within a test share the same database, cached by root test name.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CleanAllAggregates cleans all rollup tables
func CleanAllAggregates(db *gorm.DB) {
	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{
			"daily_aggregates", "geo_aggregates", "referrer_aggregates",
			"device_aggregates", "utm_aggregates", "custom_param_aggregates",
		} {
			tx.Exec("DELETE FROM " + table)
		}
		return nil
	})
}

// CreateTestLink creates a link row, reusing an existing one for the same
// domain and slug.
func CreateTestLink(db *gorm.DB, domain, slug string) links.Link {
	var link links.Link
	if db.Where("domain = ? AND slug = ?", domain, slug).First(&link).Error == nil {
		return link
	}
	link = links.Link{
		ID:             uuid.NewString(),
		Domain:         domain,
		Slug:           slug,
		DestinationURL: "https://example.com/landing",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	db.Create(&link)
	return link
}

// CreateMinimalTestApp creates a test Fiber app with all routes mounted over
// the given database. telemetryEndpoint points the time-series client at a
// fake store; empty means no credentials configured.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB, telemetryEndpoint string) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	logger := GetLogger()

	storeCfg := *appConfig
	storeCfg.TimeseriesEndpoint = telemetryEndpoint
	if telemetryEndpoint != "" {
		storeCfg.TimeseriesToken = "test-token"
	} else {
		storeCfg.TimeseriesToken = ""
	}
	client := timeseries.NewClient(&storeCfg, logger)

	provider := settings.NewProvider(db, appConfig, logger)
	recorder := rollups.NewRecorder(db, logger)
	writer := clicks.NewWriter(db, client, recorder, logger, "test-salt")
	reportService := reports.NewService(db, client, provider, logger)

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = logger
	cfg.DBManager = dbManager
	// Disable Sec-Fetch-Site CSRF validation like cartridge's own test server
	// does; httptest requests do not carry browser fetch-metadata headers.
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	if err != nil {
		t.Fatalf("testsupport: failed to create test server: %v", err)
	}

	internal.MountAppRoutes(internal.RouteDeps{
		Writer:   writer,
		Reports:  reportService,
		Settings: provider,
	})(srv)
	return srv.App()
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// FakeTelemetryStore is an httptest stand-in for the time-series store. Query
// responses come from the Respond hook; ingested NDJSON payloads are kept for
// assertions.
type FakeTelemetryStore struct {
	Server   *httptest.Server
	Respond  func(sql string) any
	mu       sync.Mutex
	queries  []string
	ingested [][]byte
}

// NewFakeTelemetryStore starts the fake and registers its shutdown with t.
func NewFakeTelemetryStore(t *testing.T) *FakeTelemetryStore {
	t.Helper()
	store := &FakeTelemetryStore{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/query", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		store.mu.Lock()
		store.queries = append(store.queries, payload.Query)
		respond := store.Respond
		store.mu.Unlock()

		var data any = []any{}
		if respond != nil {
			data = respond(payload.Query)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	mux.HandleFunc("/v0/events", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		store.mu.Lock()
		store.ingested = append(store.ingested, body)
		store.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	store.Server = httptest.NewServer(mux)
	t.Cleanup(store.Server.Close)
	return store
}

// URL returns the fake store's base URL.
func (s *FakeTelemetryStore) URL() string {
	return s.Server.URL
}

// Queries returns a copy of every SQL query received so far.
func (s *FakeTelemetryStore) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// QueryCount returns how many queries have been received.
func (s *FakeTelemetryStore) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// IngestedBatches returns the raw NDJSON payloads received on the ingest path.
func (s *FakeTelemetryStore) IngestedBatches() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.ingested...)
}
