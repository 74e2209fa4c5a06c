package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linklytics/internal/reports"
	"linklytics/internal/timeseries"
)

const reportDateFormat = "2006-01-02"

// ReportsIndexHandler returns the analytics report endpoint. Query params:
// from/to (YYYY-MM-DD, inclusive), and optionally domain, tag, link_ids
// (comma-separated UUIDs), dimensions (comma-separated) and source
// (auto|live|archived).
func ReportsIndexHandler(service *reports.Service) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		req, err := parseReportRequest(ctx)
		if err != nil {
			ctx.Logger.Debug("Invalid report request", slog.Any("error", err))
			return badRequest(ctx, err.Error(), "INVALID_REQUEST")
		}

		report, err := service.Generate(ctx.Ctx.UserContext(), *req)
		if err != nil {
			return reportError(ctx, err)
		}

		return ctx.JSON(report)
	}
}

func parseReportRequest(ctx *cartridge.Context) (*reports.Request, error) {
	fromStr := ctx.Query("from")
	toStr := ctx.Query("to")
	if fromStr == "" || toStr == "" {
		return nil, errors.New("from and to query parameters are required")
	}

	from, err := time.ParseInLocation(reportDateFormat, fromStr, time.UTC)
	if err != nil {
		return nil, errors.New("from must be a YYYY-MM-DD date")
	}
	to, err := time.ParseInLocation(reportDateFormat, toStr, time.UTC)
	if err != nil {
		return nil, errors.New("to must be a YYYY-MM-DD date")
	}
	if to.Before(from) {
		return nil, errors.New("to must not be before from")
	}

	req := &reports.Request{
		From:   from,
		To:     to,
		Domain: ctx.Query("domain"),
		Tag:    ctx.Query("tag"),
	}

	req.LinkIDs = splitList(ctx.Query("link_ids"))

	for _, name := range splitList(ctx.Query("dimensions")) {
		dim := timeseries.Dimension(name)
		if !dim.Valid() {
			return nil, errors.New("unknown dimension: " + name)
		}
		req.Dimensions = append(req.Dimensions, dim)
	}

	switch source := ctx.Query("source", string(reports.SourceAuto)); reports.SourcePreference(source) {
	case reports.SourceAuto, reports.SourceForceLive, reports.SourceForceArchived:
		req.Source = reports.SourcePreference(source)
	default:
		return nil, errors.New("source must be one of auto, live, archived")
	}

	return req, nil
}

// reportError maps service errors onto HTTP responses. Forced-source failures
// get dedicated codes so clients can distinguish them from transport issues.
func reportError(ctx *cartridge.Context, err error) error {
	switch {
	case errors.Is(err, reports.ErrLiveSourceUnavailable):
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "LIVE_SOURCE_UNAVAILABLE",
		})
	case errors.Is(err, reports.ErrArchivedSourceDisabled):
		return ctx.Status(http.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ARCHIVED_SOURCE_DISABLED",
		})
	}

	var verr *timeseries.ValidationError
	if errors.As(err, &verr) {
		return badRequest(ctx, verr.Error(), "INVALID_FILTER")
	}

	ctx.Logger.Error("Failed to generate report", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to generate report",
		"code":  "REPORT_ERROR",
	})
}

func badRequest(ctx *cartridge.Context, message, code string) error {
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

// splitList splits a comma-separated query value, dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
