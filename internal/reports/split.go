// Package reports is the hybrid query engine: it routes a requested date
// range between the live time-series store and the durable rollups, runs the
// per-dimension queries, and merges the partial results into one report.
package reports

import "time"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	return !day.Before(r.From) && !day.After(r.To)
}

// SplitRange is the output of SplitDateRange.
//
// NAMING WARNING: the Recent/Old field names are inherited from the legacy
// reporting code and are inverted in the straddling case - there, Recent holds
// the sub-range BEFORE the threshold (served by the durable rollups) and Old
// holds the sub-range AT/AFTER it (served by the live store). Dependent
// reporting code keys off these positions, so the names must stay. Use Live()
// and Archived() everywhere else; they resolve each sub-range to its actual
// serving store by comparing against the threshold, never by field name.
type SplitRange struct {
	Recent    *DateRange
	Old       *DateRange
	Threshold time.Time
}

// SplitDateRange partitions an inclusive [start, end] day range at the
// aggregation threshold. thresholdDate is now minus thresholdDays at
// midnight. Pure and deterministic given now.
func SplitDateRange(start, end time.Time, thresholdDays int, now time.Time) SplitRange {
	threshold := midnight(now).AddDate(0, 0, -thresholdDays)
	start = midnight(start)
	end = midnight(end)

	switch {
	case end.Before(threshold):
		return SplitRange{Old: &DateRange{From: start, To: end}, Threshold: threshold}
	case !start.Before(threshold):
		return SplitRange{Recent: &DateRange{From: start, To: end}, Threshold: threshold}
	default:
		// Both parts share the threshold date (see the naming warning above).
		return SplitRange{
			Recent:    &DateRange{From: start, To: threshold},
			Old:       &DateRange{From: threshold, To: end},
			Threshold: threshold,
		}
	}
}

// Live returns the sub-range served by the time-series store: the portion at
// or after the threshold.
func (s SplitRange) Live() *DateRange {
	return s.pick(false)
}

// Archived returns the sub-range served by the durable rollups: the portion
// before the threshold.
func (s SplitRange) Archived() *DateRange {
	return s.pick(true)
}

func (s SplitRange) pick(beforeThreshold bool) *DateRange {
	for _, candidate := range []*DateRange{s.Recent, s.Old} {
		if candidate == nil {
			continue
		}
		if candidate.From.Before(s.Threshold) == beforeThreshold {
			return candidate
		}
	}
	return nil
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
