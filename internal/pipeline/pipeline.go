package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
)

// SurveyFetcher retrieves the raw respondent rows of one survey period.
type SurveyFetcher interface {
	FetchSurveyRecords(ctx context.Context, year int, month string) domain.SurveyFetchResult
}

// ReferenceBuilder retrieves the code tables of one survey period.
type ReferenceBuilder interface {
	BuildCountryTable(ctx context.Context, year int, month string) ([]domain.ReferenceEntry, error)
	BuildMetroTable(ctx context.Context, year int, month string) ([]domain.ReferenceEntry, error)
}

// GeoReference loads metro area centroids.
type GeoReference interface {
	Load() ([]domain.GeoEntry, error)
}

// Pipeline builds the enriched dataset from the Census API.
type Pipeline struct {
	survey  SurveyFetcher
	refs    ReferenceBuilder
	geo     GeoReference
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Pipeline with the given sources and observability.
func New(survey SurveyFetcher, refs ReferenceBuilder, geo GeoReference, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		survey:  survey,
		refs:    refs,
		geo:     geo,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// BuildDataset fetches every year in r sequentially and returns the sorted,
// deduplicated enriched dataset. A survey period that cannot be fetched or
// parsed contributes nothing; any reference table or geo failure aborts the
// run.
func (p *Pipeline) BuildDataset(ctx context.Context, r domain.YearRange, month string) ([]domain.DatasetRow, error) {
	start := p.clock.Now()
	p.logger.Info("dataset build started", "from_year", r.From, "to_year", r.To, "month", month)

	var (
		records   []domain.SurveyRecord
		countries []domain.ReferenceEntry
		metros    []domain.ReferenceEntry
	)

	for _, year := range r.Years() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("build dataset: %w", err)
		}

		records = append(records, p.surveyRecords(ctx, year, month)...)

		c, err := p.refs.BuildCountryTable(ctx, year, month)
		if err != nil {
			return nil, fmt.Errorf("build dataset: country table %d/%s: %w", year, month, err)
		}
		countries = append(countries, c...)

		m, err := p.refs.BuildMetroTable(ctx, year, month)
		if err != nil {
			return nil, fmt.Errorf("build dataset: metro table %d/%s: %w", year, month, err)
		}
		metros = append(metros, m...)
	}

	geo, err := p.geo.Load()
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}

	rows := Transform(records, countries, metros, geo)

	elapsed := p.clock.Since(start)
	p.metrics.BuildDuration.Observe(elapsed.Seconds())
	p.logger.Info("dataset build finished",
		"survey_records", len(records),
		"rows", len(rows),
		"duration", elapsed,
	)
	return rows, nil
}

// surveyRecords fetches and parses one period. Failures are logged and the
// period is treated as empty.
func (p *Pipeline) surveyRecords(ctx context.Context, year int, month string) []domain.SurveyRecord {
	res := p.survey.FetchSurveyRecords(ctx, year, month)
	if res.Err != nil {
		p.logger.Warn("survey fetch failed, treating period as empty", "year", year, "month", month, "error", res.Err)
		p.metrics.EmptySurveyPeriods.Inc()
		return nil
	}

	records, skipped, err := domain.ParseSurveyRows(res.Rows, year)
	if err != nil {
		p.logger.Warn("survey response unusable, treating period as empty", "year", year, "month", month, "error", err)
		p.metrics.EmptySurveyPeriods.Inc()
		return nil
	}

	p.metrics.SurveyRowsFetched.Add(float64(len(records)))
	p.metrics.SurveyRowsSkipped.Add(float64(skipped))
	if skipped > 0 {
		p.logger.Debug("survey rows skipped", "year", year, "month", month, "skipped", skipped)
	}
	if len(records) == 0 {
		p.logger.Info("survey period has no respondents", "year", year, "month", month)
	}
	return records
}
