package reports

import (
	"sort"

	"linklytics/internal/timeseries"
)

// MergeSources combines the live and archived partial result sets for one
// dimension. The two sources cover disjoint date ranges by construction, so
// for a key present in both, clicks sum exactly; unique visitors take the
// maximum of the two estimates (summing would double count visitors returning
// across the boundary). Keys are never fabricated: every output row exists in
// at least one input.
func MergeSources(dim timeseries.Dimension, live, archived []timeseries.Row) []timeseries.Row {
	merged := make(map[string]timeseries.Row, len(live)+len(archived))
	var order []string

	for _, source := range [][]timeseries.Row{archived, live} {
		for _, row := range source {
			key := row.GroupKey(dim)
			existing, ok := merged[key]
			if !ok {
				merged[key] = row
				order = append(order, key)
				continue
			}
			existing.Clicks += row.Clicks
			if row.Uniques > existing.Uniques {
				existing.Uniques = row.Uniques
			}
			merged[key] = existing
		}
	}

	result := make([]timeseries.Row, 0, len(order))
	for _, key := range order {
		result = append(result, merged[key])
	}
	return sortMerged(dim, result)
}

// sortMerged orders a merged result set: time series ascending by date,
// every other dimension descending by clicks.
func sortMerged(dim timeseries.Dimension, rows []timeseries.Row) []timeseries.Row {
	if dim == timeseries.DimensionDaily {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Clicks > rows[j].Clicks })
	}
	return rows
}
