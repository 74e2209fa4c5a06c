package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linklytics/internal/clicks"
	"linklytics/internal/links"
)

const (
	msgClickAdded     = "Click recorded successfully"
	errInvalidRequest = "Invalid request"
)

// CreateClickParams is the public intake payload. Domain and slug identify the
// short link; the remaining fields are edge-captured request context.
type CreateClickParams struct {
	Domain       string    `json:"domain"`
	Slug         string    `json:"slug"`
	URL          string    `json:"url"`
	Referrer     string    `json:"referrer"`
	Timestamp    time.Time `json:"timestamp"`
	UserAgent    string    `json:"userAgent"`
	Country      string    `json:"country"`
	City         string    `json:"city"`
	CustomParam1 string    `json:"customParam1"`
	CustomParam2 string    `json:"customParam2"`
	CustomParam3 string    `json:"customParam3"`
}

// CreateClickPublicAPIHandler returns the intake handler for click events
// reported by the redirect edge. The click is spooled durably and fanned out
// to the real-time rollups; delivery to the time-series store is async.
func CreateClickPublicAPIHandler(writer *clicks.Writer) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		ctx.Logger.Debug("Received click request",
			slog.String("method", ctx.Method()), slog.String("path", ctx.Path()))

		userAgentHeader := ctx.Get("User-Agent")
		if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
			userAgentHeader = forwardedUA
		}

		params, err := validateAndParseRequest(ctx.Ctx)
		if err != nil {
			ctx.Logger.Debug("Failed to validate request", slog.Any("error", err))
			return handleError(ctx.Ctx, err)
		}
		if params.UserAgent == "" {
			params.UserAgent = userAgentHeader
		}

		db := ctx.DBManager.GetConnection()
		link, err := links.GetLinkByDomainAndSlug(db, params.Domain, params.Slug)
		if err != nil {
			var notFoundErr *links.LinkNotFoundError
			if errors.As(err, &notFoundErr) {
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": "Link not found - unknown domain or slug",
					"code":  "LINK_NOT_FOUND",
				})
			}
			ctx.Logger.Error("Failed to resolve link", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to resolve link",
				"code":  "LINK_LOOKUP_ERROR",
			})
		}

		input := &clicks.CollectClickInput{
			LinkID:         link.ID,
			Domain:         link.Domain,
			Slug:           link.Slug,
			DestinationURL: link.DestinationURL,
			RequestURL:     params.URL,
			IPAddress:      getClientIP(ctx.Ctx),
			UserAgent:      params.UserAgent,
			ReferrerURL:    params.Referrer,
			Country:        params.Country,
			City:           params.City,
			CustomParams:   [3]string{params.CustomParam1, params.CustomParam2, params.CustomParam3},
			Timestamp:      params.Timestamp,
		}

		if err := writer.Collect(ctx.Ctx.UserContext(), input); err != nil {
			ctx.Logger.Error("Failed to collect click", slog.Any("error", err))
			if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
				return ctx.Status(599).JSON(fiber.Map{}) // custom status code
			}
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to collect click",
				"code":  "COLLECTION_ERROR",
			})
		}

		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
			"message": msgClickAdded,
			"status":  http.StatusAccepted,
		})
	}
}

func validateAndParseRequest(c *fiber.Ctx) (*CreateClickParams, error) {
	var params CreateClickParams
	if err := c.BodyParser(&params); err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, errInvalidRequest)
	}

	if params.Domain == "" || params.Slug == "" {
		return nil, fiber.NewError(http.StatusBadRequest, "domain and slug are required")
	}

	return &params, nil
}

func handleError(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
