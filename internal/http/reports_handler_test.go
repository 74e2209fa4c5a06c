package http_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linklytics/internal/testsupport"
	"linklytics/internal/timeseries"
)

func getJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	return decoded
}

func TestReportsIndexHandler(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	fake := testsupport.NewFakeTelemetryStore(t)
	fake.Respond = func(sql string) any {
		return []timeseries.Row{
			{Date: "2026-08-24", Clicks: 5, Uniques: 3},
			{Date: "2026-08-25", Clicks: 2, Uniques: 2},
		}
	}
	app := testsupport.CreateMinimalTestApp(t, db, fake.URL())

	today := time.Now().UTC().Format("2006-01-02")
	weekAgo := time.Now().UTC().AddDate(0, 0, -6).Format("2006-01-02")

	t.Run("returns a merged report for a recent range", func(t *testing.T) {
		url := fmt.Sprintf("/api/v1/reports?from=%s&to=%s&dimensions=daily", weekAgo, today)
		resp, err := app.Test(httptest.NewRequest("GET", url, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := getJSON(t, resp)
		availability := body["availability"].(map[string]any)
		assert.Equal(t, "ok", availability["status"])

		dimensions := body["dimensions"].(map[string]any)
		daily := dimensions["daily"].([]any)
		require.Len(t, daily, 2)
		first := daily[0].(map[string]any)
		assert.Equal(t, "2026-08-24", first["date"], "daily series is ascending")
	})

	t.Run("requires from and to", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/reports", nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_REQUEST", getJSON(t, resp)["code"])
	})

	t.Run("rejects malformed dates", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/reports?from=yesterday&to="+today, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects unknown dimensions", func(t *testing.T) {
		url := fmt.Sprintf("/api/v1/reports?from=%s&to=%s&dimensions=hourly", weekAgo, today)
		resp, err := app.Test(httptest.NewRequest("GET", url, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects unknown source preferences", func(t *testing.T) {
		url := fmt.Sprintf("/api/v1/reports?from=%s&to=%s&source=cached", weekAgo, today)
		resp, err := app.Test(httptest.NewRequest("GET", url, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects invalid link ids before querying", func(t *testing.T) {
		before := fake.QueryCount()
		url := fmt.Sprintf("/api/v1/reports?from=%s&to=%s&link_ids=not-a-uuid", weekAgo, today)
		resp, err := app.Test(httptest.NewRequest("GET", url, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, before, fake.QueryCount(), "validation must precede any store call")
	})
}

func TestReportsForcedLiveWithoutCredentials(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db, "")

	today := time.Now().UTC().Format("2006-01-02")
	url := fmt.Sprintf("/api/v1/reports?from=%s&to=%s&source=live", today, today)
	resp, err := app.Test(httptest.NewRequest("GET", url, nil), 30000)
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "LIVE_SOURCE_UNAVAILABLE", getJSON(t, resp)["code"])
}

func TestAggregationSettingsHandlers(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db, "")

	t.Run("returns defaults", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/settings/aggregation", nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := getJSON(t, resp)
		assert.Equal(t, true, body["enabled"])
		assert.Equal(t, float64(83), body["threshold_days"])
	})

	t.Run("persists updates", func(t *testing.T) {
		payload := `{"enabled": false, "threshold_days": 30}`
		req := httptest.NewRequest("POST", "/api/v1/settings/aggregation", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := getJSON(t, resp)
		assert.Equal(t, false, body["enabled"])
		assert.Equal(t, float64(30), body["threshold_days"])
	})

	t.Run("rejects a non-positive threshold", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/settings/aggregation", strings.NewReader(`{"threshold_days": 0}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_THRESHOLD", getJSON(t, resp)["code"])
	})
}
