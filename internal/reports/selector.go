package reports

import (
	"fmt"
	"time"
)

// SourcePreference is the caller's routing override.
type SourcePreference string

const (
	// SourceAuto routes each sub-range to its natural store.
	SourceAuto SourcePreference = "auto"
	// SourceForceLive reads the whole range from the time-series store.
	// Fails closed without query credentials.
	SourceForceLive SourcePreference = "live"
	// SourceForceArchived reads the whole range from the durable rollups,
	// even for dates not yet aggregated.
	SourceForceArchived SourcePreference = "archived"
)

// AvailabilityStatus tags how complete a report's data is.
type AvailabilityStatus string

const (
	AvailabilityOK      AvailabilityStatus = "ok"
	AvailabilityPartial AvailabilityStatus = "partial"
)

// Availability distinguishes "genuinely zero clicks" from "a source could not
// be queried". Missing ranges are listed with the reason they are missing.
type Availability struct {
	Status  AvailabilityStatus `json:"status"`
	Missing []MissingRange     `json:"missing,omitempty"`
}

// MissingRange names a sub-range the report does not cover and why.
type MissingRange struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Reason string    `json:"reason"`
}

// Missing-range reasons.
const (
	ReasonAggregationDisabled = "aggregation_disabled"
	ReasonNoCredentials       = "telemetry_credentials_missing"
	ReasonQueryFailed         = "query_failed"
)

// SourceDecision is the per-request routing outcome. Never persisted.
type SourceDecision struct {
	UseLive            bool
	UseArchived        bool
	LiveRange          *DateRange
	ArchivedRange      *DateRange
	AggregationEnabled bool
	Availability       Availability
}

// ErrLiveSourceUnavailable is returned when the caller forces the live source
// without query credentials configured. Falling back silently to the rollups
// would present archived data as live, so this fails closed.
var ErrLiveSourceUnavailable = fmt.Errorf("reports: live source forced but telemetry credentials are not configured")

// ErrArchivedSourceDisabled is returned when the caller forces the archived
// source while aggregation is disabled; the rollup tables are not maintained
// in that mode and would serve stale rows as current.
var ErrArchivedSourceDisabled = fmt.Errorf("reports: archived source forced but aggregation is disabled")

// DecideSources combines the split, the aggregation settings, the credential
// check and the caller preference into a routing decision. Each sub-range is
// decided independently; a source being unavailable marks its range missing
// instead of failing the whole report, except for the forced-source errors.
func DecideSources(start, end time.Time, thresholdDays int, aggregationEnabled, hasCredentials bool, pref SourcePreference, now time.Time) (SourceDecision, error) {
	split := SplitDateRange(start, end, thresholdDays, now)
	full := &DateRange{From: midnight(start), To: midnight(end)}

	decision := SourceDecision{
		AggregationEnabled: aggregationEnabled,
		Availability:       Availability{Status: AvailabilityOK},
	}

	switch pref {
	case SourceForceLive:
		if !hasCredentials {
			return SourceDecision{}, ErrLiveSourceUnavailable
		}
		decision.UseLive = true
		decision.LiveRange = full
		return decision, nil

	case SourceForceArchived:
		if !aggregationEnabled {
			return SourceDecision{}, ErrArchivedSourceDisabled
		}
		decision.UseArchived = true
		decision.ArchivedRange = full
		return decision, nil
	}

	if live := split.Live(); live != nil {
		if hasCredentials {
			decision.UseLive = true
			decision.LiveRange = live
		} else {
			decision.markMissing(*live, ReasonNoCredentials)
		}
	}

	if archived := split.Archived(); archived != nil {
		if aggregationEnabled {
			decision.UseArchived = true
			decision.ArchivedRange = archived
		} else {
			decision.markMissing(*archived, ReasonAggregationDisabled)
		}
	}

	return decision, nil
}

func (d *SourceDecision) markMissing(r DateRange, reason string) {
	d.Availability.Status = AvailabilityPartial
	d.Availability.Missing = append(d.Availability.Missing, MissingRange{
		From:   r.From,
		To:     r.To,
		Reason: reason,
	})
}
