package domain

import (
	"math"
	"sort"
)

type groupKey struct {
	metro   int
	country int
	year    int
}

// Aggregate rounds each weight up, sums weights per (metro, country, year)
// and drops groups for unknown metro areas, zero totals and native-born
// respondents, in that order. The result is sorted by year, metro, country.
func Aggregate(records []SurveyRecord) []AggregatedRecord {
	sums := make(map[groupKey]float64)
	for _, r := range records {
		k := groupKey{metro: r.MetroCode, country: r.CountryCode, year: r.Year}
		sums[k] += math.Ceil(r.Weight)
	}

	out := make([]AggregatedRecord, 0, len(sums))
	for k, total := range sums {
		out = append(out, AggregatedRecord{
			MetroCode:      k.metro,
			CountryCode:    k.country,
			Year:           k.year,
			ImmigrantCount: total,
		})
	}
	out = FilterAggregated(out)

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.MetroCode != b.MetroCode {
			return a.MetroCode < b.MetroCode
		}
		return a.CountryCode < b.CountryCode
	})
	return out
}

// FilterAggregated returns the rows that can describe an immigrant
// population. The input slice is left untouched.
func FilterAggregated(rows []AggregatedRecord) []AggregatedRecord {
	rows = keep(rows, func(r AggregatedRecord) bool { return r.MetroCode != UnknownMetroCode })
	rows = keep(rows, func(r AggregatedRecord) bool { return r.ImmigrantCount != 0 })
	rows = keep(rows, func(r AggregatedRecord) bool { return r.CountryCode != NativeBornCountryCode })
	return rows
}

func keep[T any](rows []T, pred func(T) bool) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
