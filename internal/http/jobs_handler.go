package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linklytics/internal/jobs"
)

// BackfillHandler triggers an aggregation backfill over a lookback window.
// Intended for operational use after an outage or a threshold change; the run
// is synchronous and shares the scheduler's single-flight guard with the
// hourly job.
func BackfillHandler(scheduler *jobs.Scheduler) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		lookbackDays, err := strconv.Atoi(ctx.Query("lookback_days", "90"))
		if err != nil || lookbackDays <= 0 {
			return badRequest(ctx, "lookback_days must be a positive integer", "INVALID_REQUEST")
		}

		summary, err := scheduler.RunBackfill(lookbackDays)
		if err != nil {
			if errors.Is(err, jobs.ErrJobBusy) {
				return ctx.Status(http.StatusConflict).JSON(fiber.Map{
					"error": err.Error(),
					"code":  "JOB_BUSY",
				})
			}
			ctx.Logger.Error("Backfill failed", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Backfill failed",
				"code":  "BACKFILL_ERROR",
			})
		}

		return ctx.JSON(fiber.Map{
			"days":      summary.Days,
			"processed": summary.Processed,
			"errors":    summary.Errors,
			"skipped":   summary.Skipped,
			"postponed": summary.Postponed,
		})
	}
}
