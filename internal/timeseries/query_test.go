package timeseries

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLinkID(t *testing.T) {
	t.Run("accepts well-formed UUID", func(t *testing.T) {
		assert.NoError(t, ValidateLinkID("3f1c1db0-9c2a-4f6e-8a21-0b6d2f9e4c11"))
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		err := ValidateLinkID("not-a-uuid")
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "link id", verr.Field)
	})

	t.Run("rejects injection attempt", func(t *testing.T) {
		err := ValidateLinkID("') OR 1=1 --")
		assert.Error(t, err)
	})
}

func TestBuildFilter(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	t.Run("date range only", func(t *testing.T) {
		filter, err := buildFilter("click_events", from, to, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "timestamp >= '2026-03-01 00:00:00' AND timestamp <= '2026-03-07 23:59:59'", filter)
	})

	t.Run("domain filter wins over link ids", func(t *testing.T) {
		filter, err := buildFilter("click_events", from, to, "go.example.com",
			[]string{"3f1c1db0-9c2a-4f6e-8a21-0b6d2f9e4c11"})
		require.NoError(t, err)
		assert.Contains(t, filter, "domain = 'go.example.com'")
		assert.NotContains(t, filter, "link_id")
	})

	t.Run("link id filter within cap", func(t *testing.T) {
		ids := []string{
			"3f1c1db0-9c2a-4f6e-8a21-0b6d2f9e4c11",
			"7a8b9c0d-1e2f-4a5b-8c7d-9e0f1a2b3c4d",
		}
		filter, err := buildFilter("click_events", from, to, "", ids)
		require.NoError(t, err)
		assert.Contains(t, filter, "link_id IN ('3f1c1db0-9c2a-4f6e-8a21-0b6d2f9e4c11','7a8b9c0d-1e2f-4a5b-8c7d-9e0f1a2b3c4d')")
	})

	t.Run("oversized id list without domain drops the link filter", func(t *testing.T) {
		ids := makeUUIDs(t, MaxFilterIDs+1)
		filter, err := buildFilter("click_events", from, to, "", ids)
		require.NoError(t, err)
		assert.NotContains(t, filter, "link_id")
	})

	t.Run("rejects malformed domain", func(t *testing.T) {
		_, err := buildFilter("click_events", from, to, "bad domain'; DROP", nil)
		assert.Error(t, err)
	})

	t.Run("rejects malformed dataset", func(t *testing.T) {
		_, err := buildFilter("click events; --", from, to, "", nil)
		assert.Error(t, err)
	})

	t.Run("rejects inverted date range", func(t *testing.T) {
		_, err := buildFilter("click_events", to, from, "", nil)
		assert.Error(t, err)
	})
}

func TestBuildGroupedSQL(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	t.Run("daily series", func(t *testing.T) {
		sql, err := buildGroupedSQL("click_events", DimensionDaily, from, to, "go.example.com", nil)
		require.NoError(t, err)
		assert.Contains(t, sql, "SELECT toDate(timestamp) AS date, count() AS clicks, uniq(ip_hash) AS uniques")
		assert.Contains(t, sql, "GROUP BY toDate(timestamp)")
	})

	t.Run("geo dimension", func(t *testing.T) {
		sql, err := buildGroupedSQL("click_events", DimensionGeo, from, to, "", nil)
		require.NoError(t, err)
		assert.Contains(t, sql, "country, city")
		assert.Contains(t, sql, "GROUP BY country, city")
	})

	t.Run("unknown dimension is rejected", func(t *testing.T) {
		_, err := buildGroupedSQL("click_events", Dimension("browser_family"), from, to, "", nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "dimension", verr.Field)
	})
}

func TestChunkIDs(t *testing.T) {
	t.Run("splits at the cap", func(t *testing.T) {
		ids := makeUUIDs(t, 250)
		chunks := chunkIDs(ids, MaxFilterIDs)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 100)
		assert.Len(t, chunks[1], 100)
		assert.Len(t, chunks[2], 50)
	})

	t.Run("single chunk under the cap", func(t *testing.T) {
		chunks := chunkIDs(makeUUIDs(t, 40), MaxFilterIDs)
		require.Len(t, chunks, 1)
		assert.Len(t, chunks[0], 40)
	})

	t.Run("empty input yields no chunks", func(t *testing.T) {
		assert.Empty(t, chunkIDs(nil, MaxFilterIDs))
	})
}

func TestRowGroupKey(t *testing.T) {
	row := Row{Country: "ES", City: "Madrid", Device: "desktop", Browser: "firefox", OS: "linux"}
	assert.Equal(t, "ES\x00Madrid", row.GroupKey(DimensionGeo))
	assert.Equal(t, "desktop\x00firefox\x00linux", row.GroupKey(DimensionDevice))
}

// makeUUIDs produces n distinct valid UUIDs.
func makeUUIDs(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		suffix := []byte("000000000000")
		hex := "0123456789ab"
		v := i
		for pos := len(suffix) - 1; pos >= 0 && v > 0; pos-- {
			suffix[pos] = hex[v%12]
			v /= 12
		}
		ids[i] = "3f1c1db0-9c2a-4f6e-8a21-" + strings.ToLower(string(suffix))
	}
	return ids
}
