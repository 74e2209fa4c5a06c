package referrers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"linklytics/internal/pkg/referrers"
)

func TestDomainFromURL(t *testing.T) {
	t.Run("strips www prefix", func(t *testing.T) {
		assert.Equal(t, "example.com", referrers.DomainFromURL("https://www.example.com/some/path"))
	})

	t.Run("lowercases hostnames", func(t *testing.T) {
		assert.Equal(t, "example.com", referrers.DomainFromURL("https://EXAMPLE.com/"))
	})

	t.Run("empty referrer is direct", func(t *testing.T) {
		assert.Equal(t, referrers.Direct, referrers.DomainFromURL(""))
	})

	t.Run("bare hostname without scheme", func(t *testing.T) {
		assert.Equal(t, "google.com", referrers.DomainFromURL("google.com/search"))
	})
}

func TestCategoryFor(t *testing.T) {
	cases := []struct {
		domain string
		want   referrers.Category
	}{
		{"google.com", referrers.CategorySearch},
		{"www.google.com", referrers.CategorySearch},
		{"google.nl", referrers.CategorySearch},
		{"duckduckgo.com", referrers.CategorySearch},
		{"t.co", referrers.CategorySocial},
		{"old.reddit.com", referrers.CategorySocial},
		{"news.ycombinator.com", referrers.CategorySocial},
		{"m.facebook.com", referrers.CategorySocial},
		{referrers.Direct, referrers.CategoryDirect},
		{"", referrers.CategoryDirect},
		{"some-blog.dev", referrers.CategoryUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.domain, func(t *testing.T) {
			assert.Equal(t, tc.want, referrers.CategoryFor(tc.domain))
		})
	}
}
