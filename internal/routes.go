package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "linklytics/api/v1"
	"linklytics/internal/clicks"
	"linklytics/internal/config"
	"linklytics/internal/http"
	"linklytics/internal/jobs"
	"linklytics/internal/reports"
	"linklytics/internal/settings"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// Click intake is called cross-origin from every short domain, so it has to be
// permissive.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// RouteDeps carries the service instances shared between the HTTP layer and
// the background jobs. Built once in NewApp.
type RouteDeps struct {
	Writer    *clicks.Writer
	Reports   *reports.Service
	Settings  *settings.Provider
	Scheduler *jobs.Scheduler
}

// MountAppRoutes returns a route mount function over the shared dependencies,
// using cartridge's route API.
func MountAppRoutes(deps RouteDeps) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		cfg := config.GetConfig()

		// Helper to conditionally apply rate limiting (only in production).
		// In development/test, rate limiting would interfere with testing.
		conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
			return func(c *fiber.Ctx) error {
				if cfg.IsProduction() {
					return limiter(c)
				}
				return c.Next()
			}
		}

		// Rate limiter for public click ingestion (120 requests per minute per
		// IP). Short-link traffic bursts with campaigns, so this is looser than
		// a typical form endpoint.
		publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(120),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		// Report queries fan out to the time-series store; keep them on a
		// tighter budget than intake.
		reportRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(30),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		// Public intake config: rate limiting + permissive CORS. CORS runs
		// first so rejected requests still carry CORS headers.
		publicAPIConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			WriteConcurrency: false,
			CustomMiddleware: []fiber.Handler{publicRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		reportsConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			CustomMiddleware: []fiber.Handler{reportRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		settingsConfig := &cartridge.RouteConfig{
			CustomMiddleware: []fiber.Handler{reportRateLimiter},
		}

		// === ROOT ROUTES ===
		srv.Get("/_health", http.HealthIndexAction)
		srv.Head("/_health", http.HealthIndexAction)

		// === PUBLIC API ROUTES ===
		srv.Post("/x/api/v1/clicks", v1.CreateClickPublicAPIHandler(deps.Writer), publicAPIConfig)
		srv.Options("/x/api/v1/clicks", func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, publicAPIConfig)

		// === REPORTING ROUTES ===
		srv.Get("/api/v1/reports", http.ReportsIndexHandler(deps.Reports), reportsConfig)
		srv.Options("/api/v1/reports", func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, reportsConfig)

		// === SETTINGS ROUTES ===
		srv.Get("/api/v1/settings/aggregation", http.AggregationSettingsIndexHandler(deps.Settings), settingsConfig)
		srv.Post("/api/v1/settings/aggregation", http.AggregationSettingsUpdateHandler(deps.Settings), settingsConfig)

		// === OPERATIONAL ROUTES ===
		srv.Post("/api/v1/jobs/backfill", http.BackfillHandler(deps.Scheduler), settingsConfig)
	}
}
