package jobs

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"linklytics/internal/links"
	"linklytics/internal/rollups"
	"linklytics/internal/settings"
	"linklytics/internal/timeseries"
)

// RawEventSource is the subset of the time-series client the job needs.
type RawEventSource interface {
	RawEventsForDate(ctx context.Context, day time.Time, linkIDs []string) ([]timeseries.RawEvent, error)
	HasCredentials() bool
}

// AggregateJob migrates aged click events from the time-series store into the
// durable rollups, one calendar date at a time. Writes use replace semantics,
// so re-running a date converges; the real-time increment path keeps writing
// younger dates and is overwritten once a date crosses the threshold.
type AggregateJob struct {
	db       *gorm.DB
	store    RawEventSource
	settings *settings.Provider
	logger   *slog.Logger
}

func NewAggregateJob(db *gorm.DB, store RawEventSource, provider *settings.Provider, logger *slog.Logger) *AggregateJob {
	return &AggregateJob{db: db, store: store, settings: provider, logger: logger}
}

// Result reports one single-date run. Skipped means the date was too young
// (or aggregation is disabled) and nothing should have happened; Postponed
// means credentials were missing and the date stays pending. Both are
// distinct from errors so dashboards can tell "nothing to do" from "broke".
type Result struct {
	Date      time.Time
	Processed int
	Skipped   bool
	Postponed bool
}

// BackfillResult accumulates single-date outcomes over a lookback window.
type BackfillResult struct {
	Days      int
	Processed int
	Errors    int
	Skipped   int
	Postponed int
}

// linkAccum tracks one link's exact clicks and distinct visitor set while
// folding a window of raw events.
type linkAccum struct {
	clicks int64
	ips    map[string]struct{}
}

// RunForDate aggregates one calendar date. linkIDs restricts the event read
// for backfills; empty means all links.
func (j *AggregateJob) RunForDate(ctx context.Context, day time.Time, linkIDs []string) (Result, error) {
	day = midnightUTC(day)
	result := Result{Date: day}

	agg := j.settings.Aggregation()
	if !agg.Enabled {
		j.logger.Debug("Aggregation disabled, skipping", slog.Time("date", day))
		result.Skipped = true
		return result, nil
	}

	boundary := midnightUTC(time.Now().UTC()).AddDate(0, 0, -agg.ThresholdDays)
	if day.After(boundary) {
		// The real-time path is still dual-writing this date.
		j.logger.Debug("Date too young to aggregate, skipping",
			slog.Time("date", day), slog.Time("boundary", boundary))
		result.Skipped = true
		return result, nil
	}

	if !j.store.HasCredentials() {
		j.logger.Warn("Telemetry credentials missing, postponing aggregation",
			slog.Time("date", day))
		result.Postponed = true
		return result, nil
	}

	perLink, processed, err := j.aggregateDate(ctx, day, linkIDs, agg.BatchSize)
	if err != nil {
		return result, err
	}
	result.Processed = processed

	if err := j.updateLinkCounters(perLink); err != nil {
		return result, err
	}

	j.logger.Info("Aggregated date",
		slog.Time("date", day),
		slog.Int("events", processed),
		slog.Int("links", len(perLink)))
	return result, nil
}

// RunLatestEligible aggregates the most recent date that is old enough: the
// threshold boundary itself.
func (j *AggregateJob) RunLatestEligible(ctx context.Context) (Result, error) {
	agg := j.settings.Aggregation()
	boundary := midnightUTC(time.Now().UTC()).AddDate(0, 0, -agg.ThresholdDays)
	return j.RunForDate(ctx, boundary, nil)
}

// Backfill aggregates every date from lookbackDays ago up to the threshold
// boundary. A failing date is counted and skipped over rather than aborting
// the remaining dates; link counters are refreshed once at the end with the
// distinct-visitor union across the whole processed window.
func (j *AggregateJob) Backfill(ctx context.Context, lookbackDays int, linkIDs []string) (BackfillResult, error) {
	var summary BackfillResult

	agg := j.settings.Aggregation()
	today := midnightUTC(time.Now().UTC())
	boundary := today.AddDate(0, 0, -agg.ThresholdDays)
	start := today.AddDate(0, 0, -lookbackDays)

	if !agg.Enabled {
		// Count the window as skipped so a disabled run is distinguishable
		// from one that found no data.
		for day := start; !day.After(boundary); day = day.AddDate(0, 0, 1) {
			summary.Days++
			summary.Skipped++
		}
		return summary, nil
	}

	window := make(map[string]*linkAccum)
	for day := start; !day.After(boundary); day = day.AddDate(0, 0, 1) {
		summary.Days++

		if !j.store.HasCredentials() {
			summary.Postponed++
			continue
		}

		perLink, processed, err := j.aggregateDate(ctx, day, linkIDs, agg.BatchSize)
		if err != nil {
			j.logger.Error("Backfill failed for date",
				slog.Time("date", day), slog.Any("error", err))
			summary.Errors++
			continue
		}
		summary.Processed += processed

		for linkID, accum := range perLink {
			existing, ok := window[linkID]
			if !ok {
				existing = &linkAccum{ips: make(map[string]struct{})}
				window[linkID] = existing
			}
			existing.clicks += accum.clicks
			for ip := range accum.ips {
				existing.ips[ip] = struct{}{}
			}
		}
	}

	if err := j.updateLinkCounters(window); err != nil {
		return summary, err
	}
	return summary, nil
}

// aggregateDate reads one day's raw events, folds them into per-dimension
// counters, and replace-writes the rollup. Returns the per-link accumulators
// so callers can union visitor sets across dates.
func (j *AggregateJob) aggregateDate(ctx context.Context, day time.Time, linkIDs []string, batchSize int) (map[string]*linkAccum, int, error) {
	events, err := j.store.RawEventsForDate(ctx, day, linkIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read events for %s: %w", day.Format("2006-01-02"), err)
	}

	fold := newDayFold(day)
	for i := range events {
		fold.add(&events[i])
	}

	rollup := fold.rollup()
	if rollup.Rows() > 0 {
		if err := rollups.ReplaceDay(j.db, j.logger, batchSize, rollup); err != nil {
			return nil, 0, err
		}
	}
	return fold.perLink, len(events), nil
}

// updateLinkCounters refreshes each affected link's cached totals: clicks
// from the full archived history, unique visitors from the processed window's
// exact distinct-IP union.
func (j *AggregateJob) updateLinkCounters(perLink map[string]*linkAccum) error {
	for linkID, accum := range perLink {
		clicksTotal, _, err := rollups.TotalsForLink(j.db, linkID,
			time.Unix(0, 0).UTC(), time.Now().UTC())
		if err != nil {
			return err
		}
		uniques := int64(len(accum.ips))
		if err := links.UpdateCachedCounters(j.db, j.logger, linkID, clicksTotal, uniques); err != nil {
			return err
		}
	}
	return nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
