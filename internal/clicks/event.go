// Package clicks owns the click event: building one immutable, sanitized
// event per redirect and appending it to the write-only time-series store.
// Events are never updated or deleted individually; the store's native
// retention expires them.
package clicks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"linklytics/internal/pkg/referrers"
	"linklytics/internal/pkg/useragent"
)

// StorageTimeFormat is the second-resolution timestamp layout used in the
// time-series store.
const StorageTimeFormat = "2006-01-02 15:04:05"

// sensitiveQueryKeys are stripped from any URL before storage.
var sensitiveQueryKeys = []string{"password", "token", "key", "secret", "auth", "access_token"}

// ClickEvent is the immutable record appended per click.
type ClickEvent struct {
	Timestamp      string `json:"timestamp"`
	LinkID         string `json:"link_id"`
	Domain         string `json:"domain"`
	Slug           string `json:"slug"`
	DestinationURL string `json:"url"`
	Country        string `json:"country"`
	City           string `json:"city"`
	UserAgent      string `json:"ua"`
	Referrer       string `json:"referrer"`
	ReferrerDomain string `json:"referrer_domain"`
	IPHash         string `json:"ip_hash"`
	Device         string `json:"device"`
	Browser        string `json:"browser"`
	OS             string `json:"os"`
	UTMSource      string `json:"utm_source"`
	UTMMedium      string `json:"utm_medium"`
	UTMCampaign    string `json:"utm_campaign"`
	UTMTerm        string `json:"utm_term"`
	UTMContent     string `json:"utm_content"`
	Gclid          string `json:"gclid"`
	Fbclid         string `json:"fbclid"`
	Ttclid         string `json:"ttclid"`
	CustomParam1   string `json:"custom_param_1"`
	CustomParam2   string `json:"custom_param_2"`
	CustomParam3   string `json:"custom_param_3"`
}

// CollectClickInput is what the redirect layer pushes per click.
type CollectClickInput struct {
	LinkID         string
	Domain         string
	Slug           string
	DestinationURL string
	RequestURL     string // full short-link request URL, carries UTM/click-id params
	IPAddress      string
	UserAgent      string
	ReferrerURL    string
	Country        string // optional, edge-resolved; empty triggers a local GeoIP lookup
	City           string
	CustomParams   [3]string
	Timestamp      time.Time
}

// BuildClickEvent sanitizes and enriches the input into a storable event.
// Returns (nil, nil) for bot-classified user agents - bots are dropped before
// writing, not an error condition.
func BuildClickEvent(input *CollectClickInput, salt string) (*ClickEvent, error) {
	if input.LinkID == "" {
		return nil, fmt.Errorf("click event requires a link id")
	}

	parsedUA := useragent.Parse(input.UserAgent)
	if parsedUA.Bot {
		return nil, nil
	}

	ts := input.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	referrerDomain := referrers.DomainFromURL(input.ReferrerURL)

	event := &ClickEvent{
		Timestamp:      ts.UTC().Format(StorageTimeFormat),
		LinkID:         input.LinkID,
		Domain:         strings.ToLower(input.Domain),
		Slug:           input.Slug,
		DestinationURL: StripSensitiveParams(input.DestinationURL),
		Country:        input.Country,
		City:           input.City,
		UserAgent:      input.UserAgent,
		Referrer:       StripSensitiveParams(input.ReferrerURL),
		ReferrerDomain: referrerDomain,
		IPHash:         HashIP(input.IPAddress, salt),
		Device:         parsedUA.Device,
		Browser:        parsedUA.Browser,
		OS:             parsedUA.OS,
		CustomParam1:   input.CustomParams[0],
		CustomParam2:   input.CustomParams[1],
		CustomParam3:   input.CustomParams[2],
	}

	applyTrackingParams(event, input.RequestURL)
	return event, nil
}

// applyTrackingParams pulls UTM and ad-network click identifiers off the
// short-link request URL.
func applyTrackingParams(event *ClickEvent, rawURL string) {
	if rawURL == "" {
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	query := parsed.Query()
	event.UTMSource = query.Get("utm_source")
	event.UTMMedium = query.Get("utm_medium")
	event.UTMCampaign = query.Get("utm_campaign")
	event.UTMTerm = query.Get("utm_term")
	event.UTMContent = query.Get("utm_content")
	event.Gclid = query.Get("gclid")
	event.Fbclid = query.Get("fbclid")
	event.Ttclid = query.Get("ttclid")
}

// StripSensitiveParams removes credential-bearing query keys from a URL
// before it is stored anywhere. Unparseable URLs are returned unchanged.
func StripSensitiveParams(rawURL string) string {
	if rawURL == "" || !strings.Contains(rawURL, "?") {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := parsed.Query()
	changed := false
	for _, key := range sensitiveQueryKeys {
		if query.Has(key) {
			query.Del(key)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}

	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// HashIP returns the salted sha256 of an IP address. The raw address is never
// stored; the hash is stable so distinct-visitor sets can be unioned across
// days.
func HashIP(ipAddress, salt string) string {
	if ipAddress == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(salt + "." + ipAddress))
	return hex.EncodeToString(hash[:])
}
