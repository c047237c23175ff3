package domain

import (
	"math"
	"sort"
)

// JoinReferences inner-joins aggregated rows with the country table on
// country code and then with the metro table on metro code. Rows whose code
// has no reference entry are dropped.
func JoinReferences(rows []AggregatedRecord, countries, metros []ReferenceEntry) []JoinedRecord {
	countryNames := referenceIndex(countries)
	metroNames := referenceIndex(metros)

	withCountry := make([]JoinedRecord, 0, len(rows))
	for _, r := range rows {
		name, ok := countryNames[r.CountryCode]
		if !ok {
			continue
		}
		withCountry = append(withCountry, JoinedRecord{AggregatedRecord: r, Country: name})
	}

	out := make([]JoinedRecord, 0, len(withCountry))
	for _, r := range withCountry {
		city, ok := metroNames[r.MetroCode]
		if !ok {
			continue
		}
		r.MetroCity = city
		out = append(out, r)
	}
	return out
}

// geoJoined is a JoinedRecord after the geo left join; geo is nil when the
// metro code has no gazetteer entry.
type geoJoined struct {
	JoinedRecord
	geo *GeoEntry
}

// JoinGeo left-joins rows with the gazetteer on metro code = GEOID and then
// drops every row with a missing field. A GEOID present more than once yields
// one row per match.
func JoinGeo(rows []JoinedRecord, geo []GeoEntry) []DatasetRow {
	byID := make(map[int][]GeoEntry, len(geo))
	for _, g := range geo {
		byID[g.GeoID] = append(byID[g.GeoID], g)
	}

	joined := make([]geoJoined, 0, len(rows))
	for _, r := range rows {
		matches := byID[r.MetroCode]
		if len(matches) == 0 {
			joined = append(joined, geoJoined{JoinedRecord: r})
			continue
		}
		for i := range matches {
			joined = append(joined, geoJoined{JoinedRecord: r, geo: &matches[i]})
		}
	}
	return dropIncomplete(joined)
}

func dropIncomplete(rows []geoJoined) []DatasetRow {
	out := make([]DatasetRow, 0, len(rows))
	for _, r := range rows {
		if r.geo == nil || !finite(r.geo.Lat) || !finite(r.geo.Lon) {
			continue
		}
		out = append(out, DatasetRow{
			MetroCode:      r.MetroCode,
			CountryCode:    r.CountryCode,
			Year:           r.Year,
			ImmigrantCount: r.ImmigrantCount,
			Country:        r.Country,
			MetroCity:      r.MetroCity,
			GeoID:          r.geo.GeoID,
			Lat:            r.geo.Lat,
			Lon:            r.geo.Lon,
		})
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SortDataset orders rows by year ascending, then immigrant count
// descending. Remaining ties are ordered by metro code and country code so
// the output is fully deterministic.
func SortDataset(rows []DatasetRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.ImmigrantCount != b.ImmigrantCount {
			return a.ImmigrantCount > b.ImmigrantCount
		}
		if a.MetroCode != b.MetroCode {
			return a.MetroCode < b.MetroCode
		}
		return a.CountryCode < b.CountryCode
	})
}

// DedupeDataset drops exact duplicate rows, keeping the first occurrence.
func DedupeDataset(rows []DatasetRow) []DatasetRow {
	seen := make(map[DatasetRow]struct{}, len(rows))
	out := make([]DatasetRow, 0, len(rows))
	for _, r := range rows {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func referenceIndex(entries []ReferenceEntry) map[int]string {
	idx := make(map[int]string, len(entries))
	for _, e := range entries {
		idx[e.Code] = e.Name
	}
	return idx
}
