package referrers

import (
	"net/url"
	"strings"
)

// Category buckets referrer traffic for reporting.
type Category string

const (
	CategorySocial  Category = "social"
	CategorySearch  Category = "search"
	CategoryDirect  Category = "direct"
	CategoryUnknown Category = "other"
)

// Direct is the sentinel domain stored when a click carries no referrer.
const Direct = "(direct)"

// Search engine hostnames. Country TLD variants of the big engines are matched
// by suffix in CategoryFor, these are exact/base matches.
var searchDomains = map[string]bool{
	"google.com":     true,
	"google.co.uk":   true,
	"google.de":      true,
	"google.fr":      true,
	"google.es":      true,
	"google.it":      true,
	"google.ca":      true,
	"google.com.au":  true,
	"google.co.jp":   true,
	"google.com.br":  true,
	"bing.com":       true,
	"duckduckgo.com": true,
	"yahoo.com":      true,
	"baidu.com":      true,
	"yandex.ru":      true,
	"ecosia.org":     true,
	"kagi.com":       true,
	"brave.com":      true,
	"startpage.com":  true,
}

// Social network hostnames, including common short/redirect hosts.
var socialDomains = map[string]bool{
	"x.com":                true,
	"twitter.com":          true,
	"t.co":                 true,
	"facebook.com":         true,
	"fb.com":               true,
	"l.facebook.com":       true,
	"lm.facebook.com":      true,
	"instagram.com":        true,
	"l.instagram.com":      true,
	"linkedin.com":         true,
	"lnkd.in":              true,
	"tiktok.com":           true,
	"pinterest.com":        true,
	"reddit.com":           true,
	"old.reddit.com":       true,
	"threads.net":          true,
	"bsky.app":             true,
	"mastodon.social":      true,
	"youtube.com":          true,
	"youtu.be":             true,
	"snapchat.com":         true,
	"discord.com":          true,
	"discordapp.com":       true,
	"whatsapp.com":         true,
	"telegram.org":         true,
	"t.me":                 true,
	"news.ycombinator.com": true,
}

// DomainFromURL extracts the normalized referrer domain from a raw referrer
// URL: lowercase hostname with a leading "www." stripped. An empty or
// unparseable referrer maps to Direct.
func DomainFromURL(rawReferrer string) string {
	if rawReferrer == "" {
		return Direct
	}

	parsed, err := url.Parse(rawReferrer)
	if err != nil {
		return Direct
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		// A bare hostname like "google.com" parses with an empty Host.
		hostname = strings.ToLower(strings.Split(rawReferrer, "/")[0])
		if hostname == "" || strings.ContainsAny(hostname, " ?#") {
			return Direct
		}
	}

	return Normalize(hostname)
}

// Normalize lowercases a referrer hostname and strips a leading "www." so
// that www.example.com and example.com aggregate under one key.
func Normalize(hostname string) string {
	hostname = strings.ToLower(hostname)
	return strings.TrimPrefix(hostname, "www.")
}

// CategoryFor classifies a normalized referrer domain into
// social/search/direct/other buckets.
func CategoryFor(domain string) Category {
	if domain == "" || domain == Direct {
		return CategoryDirect
	}

	domain = Normalize(domain)

	if searchDomains[domain] || socialDomains[domain] {
		if searchDomains[domain] {
			return CategorySearch
		}
		return CategorySocial
	}

	// Subdomains of known referrers inherit the parent's category.
	for known := range searchDomains {
		if strings.HasSuffix(domain, "."+known) {
			return CategorySearch
		}
	}
	for known := range socialDomains {
		if strings.HasSuffix(domain, "."+known) {
			return CategorySocial
		}
	}

	// Country-specific Google properties (google.nl, google.co.in, ...).
	if strings.HasPrefix(domain, "google.") {
		return CategorySearch
	}

	return CategoryUnknown
}
