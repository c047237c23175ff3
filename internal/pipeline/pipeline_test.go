package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
	"github.com/couchcryptid/cps-immigrant-etl/internal/pipeline"
)

// --- mocks ---

type mockSurvey struct {
	byYear map[int][][]string
	errs   map[int]error
	calls  []int
}

func (m *mockSurvey) FetchSurveyRecords(_ context.Context, year int, month string) domain.SurveyFetchResult {
	m.calls = append(m.calls, year)
	if err := m.errs[year]; err != nil {
		return domain.SurveyFetchResult{Year: year, Month: month, Err: err}
	}
	return domain.SurveyFetchResult{Year: year, Month: month, Rows: m.byYear[year]}
}

type mockRefs struct {
	countries  map[int][]domain.ReferenceEntry
	metros     map[int][]domain.ReferenceEntry
	countryErr map[int]error
	metroErr   map[int]error
}

func (m *mockRefs) BuildCountryTable(_ context.Context, year int, _ string) ([]domain.ReferenceEntry, error) {
	if err := m.countryErr[year]; err != nil {
		return nil, err
	}
	return m.countries[year], nil
}

func (m *mockRefs) BuildMetroTable(_ context.Context, year int, _ string) ([]domain.ReferenceEntry, error) {
	if err := m.metroErr[year]; err != nil {
		return nil, err
	}
	return m.metros[year], nil
}

type mockGeo struct {
	entries []domain.GeoEntry
	err     error
	loads   int
}

func (m *mockGeo) Load() ([]domain.GeoEntry, error) {
	m.loads++
	return m.entries, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var header = []string{"GTCBSA", "PWSSWGT", "PEMNTVTY"}

// scenario builds the CityX/CountryY example: two respondents in 2010 and
// one in 2011 for metro 300 and country 20, plus rows every filter removes.
func scenario() (*mockSurvey, *mockRefs, *mockGeo) {
	survey := &mockSurvey{byYear: map[int][][]string{
		2010: {
			header,
			{"300", "1000000.2", "20"},
			{"300", "349999.5", "20"},
			{"0", "500", "20"},   // unknown metro
			{"300", "800", "57"}, // native born
			{"300", "0", "110"},  // zero weight
			{"999", "10", "20"},  // metro without label
			{"300", "40", "777"}, // country without label
		},
		2011: {
			header,
			{"300", "700.1", "20"},
			{"400", "12", "20"}, // metro without coordinates
		},
	}}
	labels := []domain.ReferenceEntry{{Code: 20, Name: "CountryY"}, {Code: 57, Name: "United States"}, {Code: 110, Name: "Mexico"}}
	metros := []domain.ReferenceEntry{{Code: 300, Name: "CityX"}, {Code: 400, Name: "CityZ"}}
	refs := &mockRefs{
		countries: map[int][]domain.ReferenceEntry{2010: labels, 2011: labels},
		metros:    map[int][]domain.ReferenceEntry{2010: metros, 2011: metros},
	}
	geo := &mockGeo{entries: []domain.GeoEntry{{GeoID: 300, Lat: 40.1, Lon: -74.2}}}
	return survey, refs, geo
}

func newPipeline(survey pipeline.SurveyFetcher, refs pipeline.ReferenceBuilder, geo pipeline.GeoReference, metrics *observability.Metrics) *pipeline.Pipeline {
	return pipeline.New(survey, refs, geo, clockwork.NewFakeClock(), metrics, discardLogger())
}

// --- tests ---

func TestPipeline_BuildDataset(t *testing.T) {
	survey, refs, geo := scenario()
	p := newPipeline(survey, refs, geo, observability.NewMetricsForTesting())

	rows, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
	require.NoError(t, err)

	want := []domain.DatasetRow{
		{MetroCode: 300, CountryCode: 20, Year: 2010, ImmigrantCount: 1350001, Country: "CountryY", MetroCity: "CityX", GeoID: 300, Lat: 40.1, Lon: -74.2},
		{MetroCode: 300, CountryCode: 20, Year: 2011, ImmigrantCount: 701, Country: "CountryY", MetroCity: "CityX", GeoID: 300, Lat: 40.1, Lon: -74.2},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("dataset mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{2010, 2011}, survey.calls)
	assert.Equal(t, 1, geo.loads)
}

func TestPipeline_BuildDataset_HalfOpenRange(t *testing.T) {
	survey, refs, geo := scenario()
	p := newPipeline(survey, refs, geo, observability.NewMetricsForTesting())

	rows, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2011}, "dec")
	require.NoError(t, err)

	assert.Equal(t, []int{2010}, survey.calls)
	require.Len(t, rows, 1)
	assert.Equal(t, 2010, rows[0].Year)
}

func TestPipeline_BuildDataset_FailedSurveyIsEmptyPeriod(t *testing.T) {
	survey, refs, geo := scenario()
	survey.errs = map[int]error{2010: errors.New("connection reset")}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(survey, refs, geo, metrics)

	rows, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, 2011, rows[0].Year)
	assert.Equal(t, []int{2010, 2011}, survey.calls, "loop continues past the failed year")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.EmptySurveyPeriods), 0)
}

func TestPipeline_BuildDataset_MalformedSurveyIsEmptyPeriod(t *testing.T) {
	survey, refs, geo := scenario()
	survey.byYear[2011] = [][]string{{"SOMETHING", "ELSE"}, {"1", "2"}}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(survey, refs, geo, metrics)

	rows, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, 2010, rows[0].Year)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.EmptySurveyPeriods), 0)
}

func TestPipeline_BuildDataset_YearWithoutRespondents(t *testing.T) {
	survey, refs, geo := scenario()
	survey.byYear[2011] = [][]string{header}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(survey, refs, geo, metrics)

	rows, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
	require.NoError(t, err)

	assert.Len(t, rows, 1)
	assert.Zero(t, testutil.ToFloat64(metrics.EmptySurveyPeriods))
	assert.InDelta(t, 7, testutil.ToFloat64(metrics.SurveyRowsFetched), 0)
}

func TestPipeline_BuildDataset_ReferenceFailureIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mockRefs)
		want   string
	}{
		{"country", func(r *mockRefs) { r.countryErr = map[int]error{2011: errors.New("boom")} }, "country table 2011/dec"},
		{"metro", func(r *mockRefs) { r.metroErr = map[int]error{2010: errors.New("boom")} }, "metro table 2010/dec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survey, refs, geo := scenario()
			tt.mutate(refs)
			p := newPipeline(survey, refs, geo, observability.NewMetricsForTesting())

			rows, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
			require.Error(t, err)
			assert.Nil(t, rows)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, geo.loads)
		})
	}
}

func TestPipeline_BuildDataset_GeoFailureIsFatal(t *testing.T) {
	survey, refs, geo := scenario()
	geo.err = errors.New("open geo reference: no such file")
	p := newPipeline(survey, refs, geo, observability.NewMetricsForTesting())

	_, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geo reference")
}

func TestPipeline_BuildDataset_ContextCancellation(t *testing.T) {
	survey, refs, geo := scenario()
	p := newPipeline(survey, refs, geo, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.BuildDataset(ctx, domain.YearRange{From: 2010, To: 2012}, "dec")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, survey.calls)
}

func TestPipeline_BuildDataset_RecordsDuration(t *testing.T) {
	survey, refs, geo := scenario()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClock()
	p := pipeline.New(survey, refs, geo, clock, metrics, discardLogger())

	_, err := p.BuildDataset(context.Background(), domain.YearRange{From: 2010, To: 2012}, "dec")
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.BuildDuration))
}

func TestTransform_DedupesReferenceTablesAcrossYears(t *testing.T) {
	records := []domain.SurveyRecord{
		{MetroCode: 300, Weight: 5, CountryCode: 20, Year: 2010},
	}
	countries := []domain.ReferenceEntry{{Code: 20, Name: "CountryY"}, {Code: 20, Name: "CountryY"}}
	metros := []domain.ReferenceEntry{{Code: 300, Name: "CityX"}, {Code: 300, Name: "CityX"}}
	geo := []domain.GeoEntry{{GeoID: 300, Lat: 1, Lon: 2}}

	rows := pipeline.Transform(records, countries, metros, geo)

	assert.Len(t, rows, 1, "repeated reference entries must not multiply rows")
	assert.InDelta(t, 5, rows[0].ImmigrantCount, 0)
}

func TestTransform_Empty(t *testing.T) {
	rows := pipeline.Transform(nil, nil, nil, nil)
	assert.Empty(t, rows)
}
