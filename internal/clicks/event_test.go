package clicks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	firefoxUA   = "Mozilla/5.0 (X11; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0"
	googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestBuildClickEvent(t *testing.T) {
	base := func() *CollectClickInput {
		return &CollectClickInput{
			LinkID:         "3f1c1db0-9c2a-4f6e-8a21-0b6d2f9e4c11",
			Domain:         "Go.Example.COM",
			Slug:           "launch",
			DestinationURL: "https://example.com/landing?ref=x",
			RequestURL:     "https://go.example.com/launch?utm_source=newsletter&utm_campaign=spring&gclid=abc123",
			IPAddress:      "203.0.113.7",
			UserAgent:      firefoxUA,
			ReferrerURL:    "https://www.reddit.com/r/golang/comments/xyz",
			Country:        "ES",
			City:           "Madrid",
			Timestamp:      time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		}
	}

	t.Run("builds a sanitized event", func(t *testing.T) {
		event, err := BuildClickEvent(base(), "salt")
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, "2026-03-01 10:30:00", event.Timestamp)
		assert.Equal(t, "go.example.com", event.Domain)
		assert.Equal(t, "reddit.com", event.ReferrerDomain)
		assert.Equal(t, "firefox", event.Browser)
		assert.Equal(t, "newsletter", event.UTMSource)
		assert.Equal(t, "spring", event.UTMCampaign)
		assert.Equal(t, "abc123", event.Gclid)
		assert.NotEmpty(t, event.IPHash)
		assert.NotContains(t, event.IPHash, "203.0.113.7")
	})

	t.Run("drops bot traffic without error", func(t *testing.T) {
		input := base()
		input.UserAgent = googlebotUA
		event, err := BuildClickEvent(input, "salt")
		require.NoError(t, err)
		assert.Nil(t, event)
	})

	t.Run("requires a link id", func(t *testing.T) {
		input := base()
		input.LinkID = ""
		_, err := BuildClickEvent(input, "salt")
		assert.Error(t, err)
	})

	t.Run("defaults timestamp to now", func(t *testing.T) {
		input := base()
		input.Timestamp = time.Time{}
		event, err := BuildClickEvent(input, "salt")
		require.NoError(t, err)
		parsed, err := time.Parse(StorageTimeFormat, event.Timestamp)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
	})
}

func TestStripSensitiveParams(t *testing.T) {
	t.Run("removes credential keys", func(t *testing.T) {
		got := StripSensitiveParams("https://example.com/cb?code=1&token=secret123&password=hunter2")
		assert.NotContains(t, got, "secret123")
		assert.NotContains(t, got, "hunter2")
		assert.Contains(t, got, "code=1")
	})

	t.Run("leaves clean urls untouched", func(t *testing.T) {
		url := "https://example.com/page?utm_source=x"
		assert.Equal(t, url, StripSensitiveParams(url))
	})

	t.Run("passes through unparseable input", func(t *testing.T) {
		raw := "http://%zz?token=x"
		assert.Equal(t, raw, StripSensitiveParams(raw))
	})

	t.Run("handles empty input", func(t *testing.T) {
		assert.Equal(t, "", StripSensitiveParams(""))
	})
}

func TestHashIP(t *testing.T) {
	t.Run("stable for the same ip and salt", func(t *testing.T) {
		assert.Equal(t, HashIP("203.0.113.7", "salt"), HashIP("203.0.113.7", "salt"))
	})

	t.Run("differs across salts", func(t *testing.T) {
		assert.NotEqual(t, HashIP("203.0.113.7", "a"), HashIP("203.0.113.7", "b"))
	})

	t.Run("empty ip yields empty hash", func(t *testing.T) {
		assert.Equal(t, "", HashIP("", "salt"))
	})
}
