package http

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linklytics/internal/settings"
)

// AggregationSettingsResponse mirrors the stored aggregation configuration.
type AggregationSettingsResponse struct {
	Enabled       bool `json:"enabled"`
	ThresholdDays int  `json:"threshold_days"`
	BatchSize     int  `json:"batch_size"`
}

// UpdateAggregationSettingsParams carries a partial update; nil fields are
// left unchanged.
type UpdateAggregationSettingsParams struct {
	Enabled       *bool `json:"enabled"`
	ThresholdDays *int  `json:"threshold_days"`
}

// AggregationSettingsIndexHandler returns the current aggregation settings,
// with environment overrides already applied.
func AggregationSettingsIndexHandler(provider *settings.Provider) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		agg := provider.Aggregation()
		return ctx.JSON(AggregationSettingsResponse{
			Enabled:       agg.Enabled,
			ThresholdDays: agg.ThresholdDays,
			BatchSize:     agg.BatchSize,
		})
	}
}

// AggregationSettingsUpdateHandler persists aggregation setting changes.
// Threshold changes take effect on the next report and aggregation run.
func AggregationSettingsUpdateHandler(provider *settings.Provider) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params UpdateAggregationSettingsParams
		if err := ctx.Ctx.BodyParser(&params); err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  "INVALID_REQUEST",
			})
		}

		if params.Enabled != nil {
			if err := provider.SetAggregationEnabled(*params.Enabled); err != nil {
				ctx.Logger.Error("Failed to update aggregation flag", slog.Any("error", err))
				return settingsUpdateError(ctx)
			}
		}

		if params.ThresholdDays != nil {
			if err := provider.SetThresholdDays(*params.ThresholdDays); err != nil {
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
					"code":  "INVALID_THRESHOLD",
				})
			}
		}

		agg := provider.Aggregation()
		return ctx.JSON(AggregationSettingsResponse{
			Enabled:       agg.Enabled,
			ThresholdDays: agg.ThresholdDays,
			BatchSize:     agg.BatchSize,
		})
	}
}

func settingsUpdateError(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to update settings",
		"code":  "SETTINGS_UPDATE_ERROR",
	})
}
