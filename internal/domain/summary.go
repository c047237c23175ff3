package domain

import "sort"

type summaryKey struct {
	year    int
	country string
}

// BuildCountryYearSummary totals immigrant counts per (year, country name).
// Rows are returned ordered by year and country for stable output; callers
// that rank countries re-sort as needed.
func BuildCountryYearSummary(rows []DatasetRow) []SummaryRow {
	totals := make(map[summaryKey]float64)
	for _, r := range rows {
		totals[summaryKey{year: r.Year, country: r.Country}] += r.ImmigrantCount
	}

	out := make([]SummaryRow, 0, len(totals))
	for k, total := range totals {
		out = append(out, SummaryRow{Year: k.year, Country: k.country, ImmigrantCount: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Country < out[j].Country
	})
	return out
}
