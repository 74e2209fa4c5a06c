package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linklytics/internal/config"
)

// fakeStore is an in-process stand-in for the time-series query API. Each
// request increments calls and answers with the configured rows.
type fakeStore struct {
	server *httptest.Server
	calls  int64
	rows   func(sql string) []Row
}

func newFakeStore(t *testing.T, rows func(sql string) []Row) *fakeStore {
	t.Helper()
	store := &fakeStore{rows: rows}
	store.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&store.calls, 1)

		var payload struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		data := []Row{}
		if store.rows != nil {
			data = store.rows(payload.Query)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(store.server.Close)
	return store
}

func (s *fakeStore) callCount() int64 {
	return atomic.LoadInt64(&s.calls)
}

func (s *fakeStore) client(logger testLogger) *Client {
	cfg := &config.Config{
		TimeseriesEndpoint: s.server.URL,
		TimeseriesToken:    "test-token",
		TimeseriesDataset:  "click_events",
	}
	return NewClient(cfg, logger.slog())
}

func TestQueryGroupedValidation(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	t.Run("malformed link id fails before any network call", func(t *testing.T) {
		store := newFakeStore(t, nil)
		client := store.client(newTestLogger(t))

		ids := makeUUIDs(t, MaxFilterIDs)
		ids = append(ids, "not-a-uuid")

		_, err := client.QueryGrouped(context.Background(), GroupedQuery{
			Dimension: DimensionDaily,
			From:      from,
			To:        to,
			LinkIDs:   ids,
		})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, int64(0), store.callCount())
	})

	t.Run("malformed domain fails before any network call", func(t *testing.T) {
		store := newFakeStore(t, nil)
		client := store.client(newTestLogger(t))

		_, err := client.QueryGrouped(context.Background(), GroupedQuery{
			Dimension: DimensionDaily,
			From:      from,
			To:        to,
			Domain:    "bad'; DROP TABLE",
		})

		require.Error(t, err)
		assert.Equal(t, int64(0), store.callCount())
	})

	t.Run("missing credentials fail closed", func(t *testing.T) {
		cfg := &config.Config{TimeseriesDataset: "click_events"}
		client := NewClient(cfg, newTestLogger(t).slog())

		_, err := client.QueryGrouped(context.Background(), GroupedQuery{
			Dimension: DimensionDaily,
			From:      from,
			To:        to,
		})
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestQueryGroupedBatching(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	t.Run("250 ids run as three batches", func(t *testing.T) {
		store := newFakeStore(t, func(sql string) []Row {
			return []Row{{Date: "2026-03-01", Clicks: 10, Uniques: 4}}
		})
		client := store.client(newTestLogger(t))

		rows, err := client.QueryGrouped(context.Background(), GroupedQuery{
			Dimension: DimensionDaily,
			From:      from,
			To:        to,
			LinkIDs:   makeUUIDs(t, 250),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), store.callCount())

		// Clicks sum across batches; uniques are the mean rounded up.
		require.Len(t, rows, 1)
		assert.Equal(t, int64(30), rows[0].Clicks)
		assert.Equal(t, int64(4), rows[0].Uniques)
	})

	t.Run("parallel batches produce the same merged result", func(t *testing.T) {
		store := newFakeStore(t, func(sql string) []Row {
			return []Row{{Date: "2026-03-01", Clicks: 7, Uniques: 3}}
		})
		client := store.client(newTestLogger(t))

		rows, err := client.QueryGrouped(context.Background(), GroupedQuery{
			Dimension: DimensionDaily,
			From:      from,
			To:        to,
			LinkIDs:   makeUUIDs(t, 250),
			Workers:   4,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), store.callCount())
		require.Len(t, rows, 1)
		assert.Equal(t, int64(21), rows[0].Clicks)
		assert.Equal(t, int64(3), rows[0].Uniques)
	})

	t.Run("single batch under the cap issues one call", func(t *testing.T) {
		store := newFakeStore(t, func(sql string) []Row {
			return []Row{{Date: "2026-03-02", Clicks: 5, Uniques: 2}}
		})
		client := store.client(newTestLogger(t))

		rows, err := client.QueryGrouped(context.Background(), GroupedQuery{
			Dimension: DimensionDaily,
			From:      from,
			To:        to,
			LinkIDs:   makeUUIDs(t, 40),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), store.callCount())
		require.Len(t, rows, 1)
		assert.Equal(t, int64(5), rows[0].Clicks)
	})
}

func TestMergeBatches(t *testing.T) {
	t.Run("clicks sum and uniques mean up per key", func(t *testing.T) {
		batches := [][]Row{
			{{ReferrerDomain: "news.ycombinator.com", Clicks: 100, Uniques: 40}},
			{{ReferrerDomain: "news.ycombinator.com", Clicks: 50, Uniques: 21}},
			{{ReferrerDomain: "twitter.com", Clicks: 30, Uniques: 12}},
		}
		merged := MergeBatches(DimensionReferrer, batches)
		require.Len(t, merged, 2)

		byDomain := map[string]Row{}
		for _, row := range merged {
			byDomain[row.ReferrerDomain] = row
		}
		hn := byDomain["news.ycombinator.com"]
		assert.Equal(t, int64(150), hn.Clicks)
		// ceil((40+21)/2) = 31
		assert.Equal(t, int64(31), hn.Uniques)

		tw := byDomain["twitter.com"]
		assert.Equal(t, int64(30), tw.Clicks)
		assert.Equal(t, int64(12), tw.Uniques)
	})

	t.Run("empty batches merge to empty", func(t *testing.T) {
		assert.Empty(t, MergeBatches(DimensionDaily, [][]Row{{}, {}}))
	})
}

func TestMeanCeil(t *testing.T) {
	assert.Equal(t, int64(0), meanCeil(nil))
	assert.Equal(t, int64(5), meanCeil([]int64{5}))
	assert.Equal(t, int64(3), meanCeil([]int64{2, 3}))
	assert.Equal(t, int64(4), meanCeil([]int64{4, 4, 4}))
}

func TestSortRows(t *testing.T) {
	t.Run("daily ascending by date", func(t *testing.T) {
		rows := sortRows(DimensionDaily, []Row{
			{Date: "2026-03-03", Clicks: 1},
			{Date: "2026-03-01", Clicks: 9},
			{Date: "2026-03-02", Clicks: 5},
		})
		assert.Equal(t, "2026-03-01", rows[0].Date)
		assert.Equal(t, "2026-03-03", rows[2].Date)
	})

	t.Run("other dimensions descending by clicks", func(t *testing.T) {
		rows := sortRows(DimensionReferrer, []Row{
			{ReferrerDomain: "a.com", Clicks: 2},
			{ReferrerDomain: "b.com", Clicks: 9},
		})
		assert.Equal(t, "b.com", rows[0].ReferrerDomain)
	})
}

func TestRawEventsForDate(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("reads events for one day", func(t *testing.T) {
		var got string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var payload struct {
				Query string `json:"query"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			got = payload.Query
			fmt.Fprint(w, `{"data":[{"timestamp":"2026-03-01 10:00:00","link_id":"3f1c1db0-9c2a-4f6e-8a21-000000000000","ip_hash":"abc"}]}`)
		}))
		defer server.Close()

		cfg := &config.Config{TimeseriesEndpoint: server.URL, TimeseriesToken: "tok", TimeseriesDataset: "click_events"}
		client := NewClient(cfg, newTestLogger(t).slog())

		events, err := client.RawEventsForDate(context.Background(), day, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "abc", events[0].IPHash)
		assert.Contains(t, got, "timestamp >= '2026-03-01 00:00:00'")
		assert.Contains(t, got, "timestamp <= '2026-03-01 23:59:59'")
	})

	t.Run("missing credentials fail before network", func(t *testing.T) {
		cfg := &config.Config{TimeseriesDataset: "click_events"}
		client := NewClient(cfg, newTestLogger(t).slog())
		_, err := client.RawEventsForDate(context.Background(), day, nil)
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestRawEventDay(t *testing.T) {
	event := RawEvent{Timestamp: "2026-03-01 23:10:05"}
	day, err := event.Day()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), day)

	_, err = RawEvent{Timestamp: "bogus"}.Day()
	assert.Error(t, err)
}
