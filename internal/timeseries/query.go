package timeseries

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxFilterIDs is the store's hard cap on distinct identifiers in a single
// filter predicate. Larger link-ID sets must be chunked and merged.
const MaxFilterIDs = 100

// Dimension selects the grouping of a telemetry query. The set is closed:
// only these names ever reach SQL assembly.
type Dimension string

const (
	DimensionDaily        Dimension = "daily"
	DimensionGeo          Dimension = "geo"
	DimensionReferrer     Dimension = "referrer"
	DimensionDevice       Dimension = "device"
	DimensionUTM          Dimension = "utm"
	DimensionCustomParam1 Dimension = "custom_param_1"
	DimensionCustomParam2 Dimension = "custom_param_2"
	DimensionCustomParam3 Dimension = "custom_param_3"
)

// dimensionSelects maps each dimension to its SELECT/GROUP BY column list.
// Values here are the only dynamic SQL fragments besides validated filters.
var dimensionSelects = map[Dimension]string{
	DimensionDaily:        "toDate(timestamp) AS date",
	DimensionGeo:          "country, city",
	DimensionReferrer:     "referrer_domain",
	DimensionDevice:       "device, browser, os",
	DimensionUTM:          "utm_source, utm_medium, utm_campaign",
	DimensionCustomParam1: "custom_param_1 AS param_value",
	DimensionCustomParam2: "custom_param_2 AS param_value",
	DimensionCustomParam3: "custom_param_3 AS param_value",
}

// dimensionGroupBys differ from selects only where aliases are involved.
var dimensionGroupBys = map[Dimension]string{
	DimensionDaily:        "toDate(timestamp)",
	DimensionGeo:          "country, city",
	DimensionReferrer:     "referrer_domain",
	DimensionDevice:       "device, browser, os",
	DimensionUTM:          "utm_source, utm_medium, utm_campaign",
	DimensionCustomParam1: "custom_param_1",
	DimensionCustomParam2: "custom_param_2",
	DimensionCustomParam3: "custom_param_3",
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	_, ok := dimensionSelects[d]
	return ok
}

// Row is one aggregated result row from the store. Which group fields are
// populated depends on the query's dimension; Clicks and Uniques are always
// present. Uniques is a per-query distinct count of ip hashes and cannot be
// summed across queries.
type Row struct {
	Date           string `json:"date,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
	ReferrerDomain string `json:"referrer_domain,omitempty"`
	Device         string `json:"device,omitempty"`
	Browser        string `json:"browser,omitempty"`
	OS             string `json:"os,omitempty"`
	UTMSource      string `json:"utm_source,omitempty"`
	UTMMedium      string `json:"utm_medium,omitempty"`
	UTMCampaign    string `json:"utm_campaign,omitempty"`
	ParamValue     string `json:"param_value,omitempty"`
	Clicks         int64  `json:"clicks"`
	Uniques        int64  `json:"uniques"`
}

// GroupKey returns the row's natural merge key for a dimension.
func (r Row) GroupKey(dim Dimension) string {
	switch dim {
	case DimensionDaily:
		return r.Date
	case DimensionGeo:
		return r.Country + "\x00" + r.City
	case DimensionReferrer:
		return r.ReferrerDomain
	case DimensionDevice:
		return r.Device + "\x00" + r.Browser + "\x00" + r.OS
	case DimensionUTM:
		return r.UTMSource + "\x00" + r.UTMMedium + "\x00" + r.UTMCampaign
	default:
		return r.ParamValue
	}
}

// GroupedQuery describes one aggregated read against the store.
type GroupedQuery struct {
	Dimension Dimension
	From      time.Time // inclusive calendar day
	To        time.Time // inclusive calendar day
	Domain    string    // preferred filter; cheap on the store side
	LinkIDs   []string  // fallback filter, chunked when above MaxFilterIDs
	Workers   int       // parallel batch workers; <=1 runs batches sequentially
}

// ValidationError indicates a malformed identifier reached the client. These
// are programming/data errors upstream and are raised before any network
// call, never retried.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("timeseries: invalid %s: %q", e.Field, e.Value)
}

var (
	domainPattern  = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]{0,251}[a-z0-9])?$`)
	datasetPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// ValidateLinkID checks that an identifier is a well-formed UUID before it
// may be interpolated into a filter predicate.
func ValidateLinkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "link id", Value: id}
	}
	return nil
}

func validateDomain(domain string) error {
	if !domainPattern.MatchString(domain) {
		return &ValidationError{Field: "domain", Value: domain}
	}
	return nil
}

func validateDataset(dataset string) error {
	if !datasetPattern.MatchString(dataset) {
		return &ValidationError{Field: "dataset", Value: dataset}
	}
	return nil
}

func validateDateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return &ValidationError{Field: "date range", Value: "zero time"}
	}
	if to.Before(from) {
		return &ValidationError{Field: "date range", Value: fmt.Sprintf("%s > %s", from.Format("2006-01-02"), to.Format("2006-01-02"))}
	}
	return nil
}

// buildFilter assembles the WHERE clause from validated inputs only. The
// domain filter wins when present. A link-ID list above MaxFilterIDs with no
// domain fallback drops the link filter entirely (all-links semantics) rather
// than silently truncating; callers wanting per-id exactness go through the
// batching layer, which never passes an oversized list here.
func buildFilter(dataset string, from, to time.Time, domain string, linkIDs []string) (string, error) {
	if err := validateDataset(dataset); err != nil {
		return "", err
	}
	if err := validateDateRange(from, to); err != nil {
		return "", err
	}

	var sb strings.Builder
	dayStart := from.UTC().Format("2006-01-02") + " 00:00:00"
	dayEnd := to.UTC().Format("2006-01-02") + " 23:59:59"
	fmt.Fprintf(&sb, "timestamp >= '%s' AND timestamp <= '%s'", dayStart, dayEnd)

	if domain != "" {
		if err := validateDomain(domain); err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " AND domain = '%s'", domain)
		return sb.String(), nil
	}

	if len(linkIDs) == 0 || len(linkIDs) > MaxFilterIDs {
		return sb.String(), nil
	}

	quoted := make([]string, 0, len(linkIDs))
	for _, id := range linkIDs {
		if err := ValidateLinkID(id); err != nil {
			return "", err
		}
		quoted = append(quoted, "'"+id+"'")
	}
	fmt.Fprintf(&sb, " AND link_id IN (%s)", strings.Join(quoted, ","))
	return sb.String(), nil
}

// buildGroupedSQL assembles the full aggregated query for one batch.
func buildGroupedSQL(dataset string, dim Dimension, from, to time.Time, domain string, linkIDs []string) (string, error) {
	if !dim.Valid() {
		return "", &ValidationError{Field: "dimension", Value: string(dim)}
	}
	filter, err := buildFilter(dataset, from, to, domain, linkIDs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"SELECT %s, count() AS clicks, uniq(ip_hash) AS uniques FROM %s WHERE %s GROUP BY %s",
		dimensionSelects[dim], dataset, filter, dimensionGroupBys[dim],
	), nil
}

// buildRawEventsSQL assembles the raw-event read used by the aggregation job.
func buildRawEventsSQL(dataset string, day time.Time, linkIDs []string) (string, error) {
	filter, err := buildFilter(dataset, day, day, "", linkIDs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE %s", dataset, filter), nil
}

// chunkIDs splits a link-ID list into store-sized batches.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxFilterIDs
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
