package domain

import (
	"sort"

	"golang.org/x/text/cases"
)

const (
	// DefaultTopN is the number of countries ranked when none is requested.
	DefaultTopN = 10
	// MaxTopN caps ranking queries.
	MaxTopN = 20
)

// DatasetQuery selects rows of the enriched dataset.
type DatasetQuery struct {
	Countries []string
	Year      *int
}

// FilterDataset applies q to rows. Without countries every row is returned
// and the year is ignored; otherwise rows must match one of the countries
// (case-insensitively) and, when set, the year.
func FilterDataset(rows []DatasetRow, q DatasetQuery) []DatasetRow {
	if len(q.Countries) == 0 {
		return rows
	}

	fold := cases.Fold()
	wanted := make(map[string]struct{}, len(q.Countries))
	for _, c := range q.Countries {
		wanted[fold.String(c)] = struct{}{}
	}

	out := make([]DatasetRow, 0)
	for _, r := range rows {
		if _, ok := wanted[fold.String(r.Country)]; !ok {
			continue
		}
		if q.Year != nil && r.Year != *q.Year {
			continue
		}
		out = append(out, r)
	}
	return out
}

// TopCountries ranks countries by immigrant count. With a year, only that
// year's summary rows are ranked; without one, counts are summed across all
// years and Year is 0 in the result. n is normalized by ClampTopN.
func TopCountries(summary []SummaryRow, year *int, n int) []SummaryRow {
	n = ClampTopN(n)

	var ranked []SummaryRow
	if year != nil {
		for _, s := range summary {
			if s.Year == *year {
				ranked = append(ranked, s)
			}
		}
	} else {
		totals := make(map[string]float64)
		for _, s := range summary {
			totals[s.Country] += s.ImmigrantCount
		}
		for country, total := range totals {
			ranked = append(ranked, SummaryRow{Country: country, ImmigrantCount: total})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ImmigrantCount != ranked[j].ImmigrantCount {
			return ranked[i].ImmigrantCount > ranked[j].ImmigrantCount
		}
		return ranked[i].Country < ranked[j].Country
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// ClampTopN normalizes a requested ranking size: 0 or less means
// DefaultTopN and anything above MaxTopN is capped.
func ClampTopN(n int) int {
	switch {
	case n <= 0:
		return DefaultTopN
	case n > MaxTopN:
		return MaxTopN
	default:
		return n
	}
}

// Countries lists the distinct country names in rows, sorted.
func Countries(rows []DatasetRow) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.Country] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Years lists the distinct years in rows, ascending.
func Years(rows []DatasetRow) []int {
	seen := make(map[int]struct{})
	for _, r := range rows {
		seen[r.Year] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}
