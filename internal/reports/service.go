package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/pariz/gountries"
	"gorm.io/gorm"

	"linklytics/internal/links"
	"linklytics/internal/pkg/async"
	"linklytics/internal/pkg/referrers"
	"linklytics/internal/rollups"
	"linklytics/internal/settings"
	"linklytics/internal/timeseries"
)

// liveBatchWorkers is how many id-chunk queries the report path runs in
// parallel against the time-series store.
const liveBatchWorkers = 4

// LiveStore is the subset of the time-series client the report service uses.
type LiveStore interface {
	QueryGrouped(ctx context.Context, q timeseries.GroupedQuery) ([]timeseries.Row, error)
	HasCredentials() bool
}

// Request describes one report. Domain, Tag and LinkIDs narrow the link set;
// all empty means every link. Dimensions defaults to the daily series.
type Request struct {
	From       time.Time
	To         time.Time
	Domain     string
	Tag        string
	LinkIDs    []string
	Dimensions []timeseries.Dimension
	Source     SourcePreference
}

// Report is the merged result, one row set per requested dimension, tagged
// with how complete the underlying data is.
type Report struct {
	Availability       Availability                              `json:"availability"`
	Dimensions         map[timeseries.Dimension][]timeseries.Row `json:"dimensions"`
	CountryNames       map[string]string                         `json:"country_names,omitempty"`
	ReferrerCategories map[string]string                         `json:"referrer_categories,omitempty"`
}

// Service orchestrates report queries across both stores.
type Service struct {
	db        *gorm.DB
	live      LiveStore
	settings  *settings.Provider
	logger    *slog.Logger
	countries gountries.Query
}

func NewService(db *gorm.DB, live LiveStore, provider *settings.Provider, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		live:      live,
		settings:  provider,
		logger:    logger,
		countries: *gountries.New(),
	}
}

// dimResult carries one dimension's merged rows plus the per-source errors
// observed while producing them.
type dimResult struct {
	rows    []timeseries.Row
	liveErr error
	archErr error
}

// Generate runs one report request end to end: routing decision, per-dimension
// queries against both stores, merge. Per-query transport failures degrade to
// an empty partial marked missing; validation and forced-source errors are
// returned.
func (s *Service) Generate(ctx context.Context, req Request) (*Report, error) {
	dims := req.Dimensions
	if len(dims) == 0 {
		dims = []timeseries.Dimension{timeseries.DimensionDaily}
	}
	for _, dim := range dims {
		if !dim.Valid() {
			return nil, fmt.Errorf("reports: unknown dimension %q", dim)
		}
	}

	linkIDs, scoped, err := s.resolveLinkIDs(req)
	if err != nil {
		return nil, err
	}
	if scoped && len(linkIDs) == 0 {
		// A tag or domain that matches no links scopes the report to nothing.
		// Passing an empty filter downstream would mean "no restriction" and
		// leak every link's data.
		report := &Report{
			Availability: Availability{Status: AvailabilityOK},
			Dimensions:   make(map[timeseries.Dimension][]timeseries.Row, len(dims)),
		}
		return report, nil
	}

	agg := s.settings.Aggregation()
	decision, err := DecideSources(req.From, req.To, agg.ThresholdDays,
		agg.Enabled, s.live.HasCredentials(), req.Source, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	tasks := make([]async.Task[dimResult], 0, len(dims))
	for _, dim := range dims {
		dim := dim
		tasks = append(tasks, async.Task[dimResult]{
			Name: string(dim),
			Execute: func() (dimResult, error) {
				result := dimResult{}

				var liveRows, archivedRows []timeseries.Row
				if decision.UseLive {
					liveRows, result.liveErr = s.live.QueryGrouped(ctx, timeseries.GroupedQuery{
						Dimension: dim,
						From:      decision.LiveRange.From,
						To:        decision.LiveRange.To,
						Domain:    req.Domain,
						LinkIDs:   linkIDs,
						Workers:   liveBatchWorkers,
					})
					if result.liveErr != nil {
						s.logger.Error("Live source query failed",
							slog.String("dimension", string(dim)),
							slog.Any("error", result.liveErr))
						liveRows = nil
					}
				}
				if decision.UseArchived {
					archivedRows, result.archErr = rollups.QueryGrouped(s.db, dim,
						decision.ArchivedRange.From, decision.ArchivedRange.To, linkIDs)
					if result.archErr != nil {
						s.logger.Error("Archived source query failed",
							slog.String("dimension", string(dim)),
							slog.Any("error", result.archErr))
						archivedRows = nil
					}
				}

				result.rows = MergeSources(dim, liveRows, archivedRows)
				return result, nil
			},
		})
	}

	results := async.NewPool[dimResult](min(len(tasks), 4)).Execute(ctx, tasks)

	report := &Report{
		Availability: decision.Availability,
		Dimensions:   make(map[timeseries.Dimension][]timeseries.Row, len(dims)),
	}

	var liveFailed, archivedFailed bool
	for _, dim := range dims {
		result, ok := results[string(dim)]
		if !ok {
			continue
		}
		dimRes := result.Data
		report.Dimensions[dim] = dimRes.rows
		if dimRes.liveErr != nil {
			// Validation errors indicate a bad request, not a degraded source.
			var verr *timeseries.ValidationError
			if errors.As(dimRes.liveErr, &verr) {
				return nil, dimRes.liveErr
			}
			liveFailed = true
		}
		if dimRes.archErr != nil {
			archivedFailed = true
		}
	}

	if liveFailed && decision.LiveRange != nil {
		report.Availability.Status = AvailabilityPartial
		report.Availability.Missing = append(report.Availability.Missing, MissingRange{
			From: decision.LiveRange.From, To: decision.LiveRange.To, Reason: ReasonQueryFailed,
		})
	}
	if archivedFailed && decision.ArchivedRange != nil {
		report.Availability.Status = AvailabilityPartial
		report.Availability.Missing = append(report.Availability.Missing, MissingRange{
			From: decision.ArchivedRange.From, To: decision.ArchivedRange.To, Reason: ReasonQueryFailed,
		})
	}

	if rows, ok := report.Dimensions[timeseries.DimensionGeo]; ok {
		report.CountryNames = s.countryNames(rows)
	}
	if rows, ok := report.Dimensions[timeseries.DimensionReferrer]; ok {
		report.ReferrerCategories = referrerCategories(rows)
	}

	return report, nil
}

// resolveLinkIDs turns the request's filters into a link-ID set. An explicit
// id list wins; tag and domain resolve through the link metadata tables. The
// scoped flag distinguishes "no filter requested" from "filter resolved to an
// empty set"; callers must not treat the latter as unrestricted.
func (s *Service) resolveLinkIDs(req Request) ([]string, bool, error) {
	if len(req.LinkIDs) > 0 {
		for _, id := range req.LinkIDs {
			if err := timeseries.ValidateLinkID(id); err != nil {
				return nil, true, err
			}
		}
		return req.LinkIDs, true, nil
	}
	if req.Tag != "" {
		ids, err := links.LinkIDsForTag(s.db, req.Tag)
		return ids, true, err
	}
	if req.Domain != "" {
		ids, err := links.LinkIDsForDomain(s.db, req.Domain)
		return ids, true, err
	}
	return nil, false, nil
}

// referrerCategories buckets each referrer domain into its
// social/search/direct/other traffic category.
func referrerCategories(rows []timeseries.Row) map[string]string {
	categories := make(map[string]string)
	for _, row := range rows {
		if row.ReferrerDomain == "" {
			continue
		}
		if _, done := categories[row.ReferrerDomain]; done {
			continue
		}
		categories[row.ReferrerDomain] = string(referrers.CategoryFor(row.ReferrerDomain))
	}
	return categories
}

// countryNames resolves ISO codes in geo rows to display names.
func (s *Service) countryNames(rows []timeseries.Row) map[string]string {
	names := make(map[string]string)
	for _, row := range rows {
		if row.Country == "" {
			continue
		}
		if _, done := names[row.Country]; done {
			continue
		}
		country, err := s.countries.FindCountryByAlpha(row.Country)
		if err != nil {
			names[row.Country] = row.Country
			continue
		}
		names[row.Country] = country.Name.Common
	}
	return names
}

