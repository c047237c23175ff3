package pipeline

import "github.com/couchcryptid/cps-immigrant-etl/internal/domain"

// Transform turns accumulated survey records and reference tables into the
// enriched dataset: aggregate and filter, dedupe the reference tables, inner
// join countries then metros, attach coordinates, then sort and drop exact
// duplicates.
func Transform(records []domain.SurveyRecord, countries, metros []domain.ReferenceEntry, geo []domain.GeoEntry) []domain.DatasetRow {
	aggregated := domain.Aggregate(records)
	joined := domain.JoinReferences(aggregated, domain.DedupeReferences(countries), domain.DedupeReferences(metros))
	rows := domain.JoinGeo(joined, geo)
	domain.SortDataset(rows)
	return domain.DedupeDataset(rows)
}
