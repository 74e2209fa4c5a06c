// Package timeseries is the client for the write-only click telemetry store:
// an append-only time-series database with a bounded retention window,
// reached over an HTTPS+JSON query API. The store caps filter-predicate
// cardinality at MaxFilterIDs identifiers per query and cannot merge distinct
// counts across queries, so large link-ID filters are chunked here and the
// partial aggregates re-merged client-side.
package timeseries

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"log/slog"

	"linklytics/internal/config"
	"linklytics/internal/pkg/async"
)

// ErrMissingCredentials is returned before any network call when the query
// API token or endpoint is not configured. Callers forcing the live source
// must fail closed on it; auto mode treats it as "source unavailable".
var ErrMissingCredentials = errors.New("timeseries: query credentials not configured")

// Client talks to the time-series store.
type Client struct {
	endpoint string
	token    string
	dataset  string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient builds a client from configuration. The client is usable without
// credentials for the write path being disabled; query methods check
// HasCredentials first.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		endpoint: cfg.TimeseriesEndpoint,
		token:    cfg.TimeseriesToken,
		dataset:  cfg.TimeseriesDataset,
		http:     &http.Client{},
		logger:   logger,
	}
}

// HasCredentials reports whether the query API can be called.
func (c *Client) HasCredentials() bool {
	return c.endpoint != "" && c.token != ""
}

// queryResponse is the store's envelope for query results.
type queryResponse[T any] struct {
	Data []T `json:"data"`
}

// runQuery executes one SQL query and decodes the data rows into out.
func runQuery[T any](ctx context.Context, c *Client, sql string) ([]T, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	body, err := json.Marshal(map[string]string{"query": sql})
	if err != nil {
		return nil, fmt.Errorf("timeseries: failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v0/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("timeseries: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timeseries: query request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("timeseries: query returned status %d: %s", resp.StatusCode, string(payload))
	}

	var decoded queryResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("timeseries: failed to decode query response: %w", err)
	}
	return decoded.Data, nil
}

// Append writes a batch of events to the store's ingest endpoint as NDJSON.
// Events are immutable once written.
func (c *Client) Append(ctx context.Context, events []any) error {
	if len(events) == 0 {
		return nil
	}
	if !c.HasCredentials() {
		return ErrMissingCredentials
	}
	if err := validateDataset(c.dataset); err != nil {
		return err
	}

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("timeseries: failed to encode event: %w", err)
		}
	}

	ingestURL := fmt.Sprintf("%s/v0/events?name=%s", c.endpoint, url.QueryEscape(c.dataset))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ingestURL, &body)
	if err != nil {
		return fmt.Errorf("timeseries: failed to build ingest request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("timeseries: ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("timeseries: ingest returned status %d: %s", resp.StatusCode, string(payload))
	}
	return nil
}

// QueryGrouped runs one aggregated query, transparently chunking link-ID
// filters above MaxFilterIDs and merging the per-batch partials: clicks are
// summed (each chunk filters a disjoint id subset, so no double counting);
// unique-visitor counts are NOT summed - the merged estimate per group key is
// the arithmetic mean of the per-batch distinct counts, rounded up. The store
// exposes no cross-query distinct primitive, so this stays an approximation.
func (c *Client) QueryGrouped(ctx context.Context, q GroupedQuery) ([]Row, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	if q.Domain != "" || len(q.LinkIDs) <= MaxFilterIDs {
		sql, err := buildGroupedSQL(c.dataset, q.Dimension, q.From, q.To, q.Domain, q.LinkIDs)
		if err != nil {
			return nil, err
		}
		rows, err := runQuery[Row](ctx, c, sql)
		if err != nil {
			return nil, err
		}
		return sortRows(q.Dimension, rows), nil
	}

	// Validate the full id list up front so a malformed id fails before the
	// first network call, not in the middle of a batch sequence.
	for _, id := range q.LinkIDs {
		if err := ValidateLinkID(id); err != nil {
			return nil, err
		}
	}

	chunks := chunkIDs(q.LinkIDs, MaxFilterIDs)
	batches := make([][]Row, len(chunks))

	if q.Workers > 1 {
		// Chunk queries are independent reads; the report path runs them on a
		// worker pool.
		tasks := make([]async.Task[[]Row], len(chunks))
		for i, chunk := range chunks {
			i, chunk := i, chunk
			tasks[i] = async.Task[[]Row]{
				Name: fmt.Sprintf("batch-%d", i),
				Execute: func() ([]Row, error) {
					return c.queryChunk(ctx, q, chunk)
				},
			}
		}
		results := async.NewPool[[]Row](q.Workers).Execute(ctx, tasks)
		for i := range chunks {
			result := results[fmt.Sprintf("batch-%d", i)]
			if result.Err != nil {
				return nil, result.Err
			}
			batches[i] = result.Data
		}
	} else {
		// The aggregation job issues chunks sequentially to respect
		// store-side rate limits.
		for i, chunk := range chunks {
			rows, err := c.queryChunk(ctx, q, chunk)
			if err != nil {
				return nil, err
			}
			batches[i] = rows
		}
	}

	return sortRows(q.Dimension, MergeBatches(q.Dimension, batches)), nil
}

func (c *Client) queryChunk(ctx context.Context, q GroupedQuery, chunk []string) ([]Row, error) {
	sql, err := buildGroupedSQL(c.dataset, q.Dimension, q.From, q.To, "", chunk)
	if err != nil {
		return nil, err
	}
	return runQuery[Row](ctx, c, sql)
}

// MergeBatches folds per-chunk partial aggregates into one result set.
// Clicks sum exactly; uniques become ceil(mean(per-batch uniques)) per group
// key - a bias-reducing approximation for visitors that appear in several
// batches when a group key spans chunks.
func MergeBatches(dim Dimension, batches [][]Row) []Row {
	type partial struct {
		row     Row
		uniques []int64
	}
	merged := make(map[string]*partial)
	var order []string

	for _, batch := range batches {
		for _, row := range batch {
			key := row.GroupKey(dim)
			existing, ok := merged[key]
			if !ok {
				clone := row
				merged[key] = &partial{row: clone, uniques: []int64{row.Uniques}}
				order = append(order, key)
				continue
			}
			existing.row.Clicks += row.Clicks
			existing.uniques = append(existing.uniques, row.Uniques)
		}
	}

	result := make([]Row, 0, len(order))
	for _, key := range order {
		p := merged[key]
		p.row.Uniques = meanCeil(p.uniques)
		result = append(result, p.row)
	}
	return result
}

// meanCeil returns the arithmetic mean of the values, rounded up.
func meanCeil(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return int64(math.Ceil(float64(sum) / float64(len(values))))
}

// sortRows orders results per reporting conventions: daily series ascending
// by date, every other dimension descending by clicks.
func sortRows(dim Dimension, rows []Row) []Row {
	if dim == DimensionDaily {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	} else {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Clicks > rows[j].Clicks })
	}
	return rows
}

// RawEvent mirrors one stored click event as returned by a raw read.
type RawEvent struct {
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

// Day returns the event's calendar date in UTC.
func (e RawEvent) Day() (time.Time, error) {
	ts, err := time.Parse("2006-01-02 15:04:05", e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeseries: malformed event timestamp %q: %w", e.Timestamp, err)
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
}

// RawEventsForDate reads every stored event for one calendar day, optionally
// restricted to a link-ID set (backfill). Oversized id sets are chunked and
// read sequentially; an empty set means all links.
func (c *Client) RawEventsForDate(ctx context.Context, day time.Time, linkIDs []string) ([]RawEvent, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	if len(linkIDs) <= MaxFilterIDs {
		sql, err := buildRawEventsSQL(c.dataset, day, linkIDs)
		if err != nil {
			return nil, err
		}
		return runQuery[RawEvent](ctx, c, sql)
	}

	for _, id := range linkIDs {
		if err := ValidateLinkID(id); err != nil {
			return nil, err
		}
	}

	var all []RawEvent
	for _, chunk := range chunkIDs(linkIDs, MaxFilterIDs) {
		sql, err := buildRawEventsSQL(c.dataset, day, chunk)
		if err != nil {
			return nil, err
		}
		rows, err := runQuery[RawEvent](ctx, c, sql)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}
