package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linklytics/internal/config"
	"linklytics/internal/jobs"
	"linklytics/internal/rollups"
	"linklytics/internal/settings"
	"linklytics/internal/testsupport"
	"linklytics/internal/timeseries"
)

type fakeEventSource struct {
	creds  bool
	events map[string][]timeseries.RawEvent
	calls  int
}

func (f *fakeEventSource) RawEventsForDate(ctx context.Context, day time.Time, linkIDs []string) ([]timeseries.RawEvent, error) {
	f.calls++
	return f.events[day.Format("2006-01-02")], nil
}

func (f *fakeEventSource) HasCredentials() bool {
	return f.creds
}

func daysAgo(n int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

func rawEvent(linkID, ipHash string, day time.Time) timeseries.RawEvent {
	return timeseries.RawEvent{
		Timestamp:      day.Format("2006-01-02") + " 12:00:00",
		LinkID:         linkID,
		Domain:         "go.example.com",
		Country:        "ES",
		City:           "Madrid",
		ReferrerDomain: "news.ycombinator.com",
		IPHash:         ipHash,
		Device:         "desktop",
		Browser:        "firefox",
		OS:             "linux",
	}
}

func TestAggregateJobRunForDate(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	cfg := &config.Config{AggregationThresholdOverride: "10"}
	provider := settings.NewProvider(db, cfg, logger)

	link := testsupport.CreateTestLink(db, "go.example.com", "launch")
	oldDay := daysAgo(20)

	source := &fakeEventSource{
		creds: true,
		events: map[string][]timeseries.RawEvent{
			oldDay.Format("2006-01-02"): {
				rawEvent(link.ID, "ip-a", oldDay),
				rawEvent(link.ID, "ip-b", oldDay),
				rawEvent(link.ID, "ip-a", oldDay),
			},
		},
	}
	job := jobs.NewAggregateJob(db, source, provider, logger)

	t.Run("skips dates younger than the threshold", func(t *testing.T) {
		result, err := job.RunForDate(context.Background(), daysAgo(5), nil)
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Zero(t, result.Processed)
		assert.Zero(t, source.calls)
	})

	t.Run("aggregates an eligible date", func(t *testing.T) {
		result, err := job.RunForDate(context.Background(), oldDay, nil)
		require.NoError(t, err)
		assert.False(t, result.Skipped)
		assert.Equal(t, 3, result.Processed)

		rows, err := rollups.QueryGrouped(db, timeseries.DimensionDaily, oldDay, oldDay, []string{link.ID})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].Clicks)
		assert.Equal(t, int64(2), rows[0].Uniques)
	})

	t.Run("rerunning the same date is idempotent", func(t *testing.T) {
		_, err := job.RunForDate(context.Background(), oldDay, nil)
		require.NoError(t, err)
		_, err = job.RunForDate(context.Background(), oldDay, nil)
		require.NoError(t, err)

		rows, err := rollups.QueryGrouped(db, timeseries.DimensionDaily, oldDay, oldDay, []string{link.ID})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].Clicks, "replace semantics must not double count")
		assert.Equal(t, int64(2), rows[0].Uniques)
	})

	t.Run("folds dimension rollups with exact distinct counts", func(t *testing.T) {
		geo, err := rollups.QueryGrouped(db, timeseries.DimensionGeo, oldDay, oldDay, []string{link.ID})
		require.NoError(t, err)
		require.Len(t, geo, 1)
		assert.Equal(t, "ES", geo[0].Country)
		assert.Equal(t, int64(3), geo[0].Clicks)
		assert.Equal(t, int64(2), geo[0].Uniques)

		ref, err := rollups.QueryGrouped(db, timeseries.DimensionReferrer, oldDay, oldDay, []string{link.ID})
		require.NoError(t, err)
		require.Len(t, ref, 1)
		assert.Equal(t, "news.ycombinator.com", ref[0].ReferrerDomain)
	})

	t.Run("refreshes the link's cached counters", func(t *testing.T) {
		var cached struct {
			Clicks         int64
			UniqueVisitors int64
		}
		require.NoError(t, db.Table("links").Where("id = ?", link.ID).
			Select("clicks, unique_visitors").Scan(&cached).Error)
		assert.Equal(t, int64(3), cached.Clicks)
		assert.Equal(t, int64(2), cached.UniqueVisitors)
	})
}

func TestAggregateJobPostponesWithoutCredentials(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	cfg := &config.Config{AggregationThresholdOverride: "10"}
	provider := settings.NewProvider(db, cfg, logger)

	source := &fakeEventSource{creds: false}
	job := jobs.NewAggregateJob(db, source, provider, logger)

	result, err := job.RunForDate(context.Background(), daysAgo(20), nil)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, result.Postponed)
	assert.Zero(t, result.Processed)
	assert.Zero(t, source.calls)
}

func TestAggregateJobDisabled(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	cfg := &config.Config{
		AggregationEnabledOverride:   "false",
		AggregationThresholdOverride: "10",
	}
	provider := settings.NewProvider(db, cfg, logger)

	source := &fakeEventSource{creds: true}
	job := jobs.NewAggregateJob(db, source, provider, logger)

	result, err := job.RunForDate(context.Background(), daysAgo(20), nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, source.calls)
}

func TestAggregateJobBackfillDisabled(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	cfg := &config.Config{
		AggregationEnabledOverride:   "false",
		AggregationThresholdOverride: "10",
	}
	provider := settings.NewProvider(db, cfg, logger)

	source := &fakeEventSource{creds: true}
	job := jobs.NewAggregateJob(db, source, provider, logger)

	summary, err := job.Backfill(context.Background(), 12, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Days)
	assert.Equal(t, 3, summary.Skipped, "a disabled run reports its window as skipped")
	assert.Zero(t, summary.Processed)
	assert.Zero(t, source.calls)
}

func TestAggregateJobBackfill(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	cfg := &config.Config{AggregationThresholdOverride: "10"}
	provider := settings.NewProvider(db, cfg, logger)

	link := testsupport.CreateTestLink(db, "go.example.com", "backfill")
	day1 := daysAgo(12)
	day2 := daysAgo(11)

	source := &fakeEventSource{
		creds: true,
		events: map[string][]timeseries.RawEvent{
			day1.Format("2006-01-02"): {
				rawEvent(link.ID, "ip-a", day1),
				rawEvent(link.ID, "ip-b", day1),
			},
			day2.Format("2006-01-02"): {
				// ip-a returns the next day; the window union must count it once.
				rawEvent(link.ID, "ip-a", day2),
				rawEvent(link.ID, "ip-c", day2),
			},
		},
	}
	job := jobs.NewAggregateJob(db, source, provider, logger)

	summary, err := job.Backfill(context.Background(), 12, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Days) // days 12, 11 and 10
	assert.Equal(t, 4, summary.Processed)
	assert.Zero(t, summary.Errors)

	rows, err := rollups.QueryGrouped(db, timeseries.DimensionDaily, day1, day2, []string{link.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var cached struct {
		Clicks         int64
		UniqueVisitors int64
	}
	require.NoError(t, db.Table("links").Where("id = ?", link.ID).
		Select("clicks, unique_visitors").Scan(&cached).Error)
	assert.Equal(t, int64(4), cached.Clicks)
	assert.Equal(t, int64(3), cached.UniqueVisitors, "union across the window counts each visitor once")
}
