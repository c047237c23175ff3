package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	// Census API metrics.
	CensusRequests        *prometheus.CounterVec   // labels: endpoint={survey,metadata}, outcome={success,error}
	CensusRequestDuration *prometheus.HistogramVec // labels: endpoint
	SurveyRowsFetched     prometheus.Counter
	SurveyRowsSkipped     prometheus.Counter
	EmptySurveyPeriods    prometheus.Counter

	// Cache gateway metrics.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,invalid}

	// Dataset metrics.
	DatasetRows   prometheus.Gauge
	SummaryRows   prometheus.Gauge
	BuildDuration prometheus.Histogram
	SnapshotReady prometheus.Gauge
	RowsPublished prometheus.Counter
	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.CensusRequests,
		m.CensusRequestDuration,
		m.SurveyRowsFetched,
		m.SurveyRowsSkipped,
		m.EmptySurveyPeriods,
		m.CacheLookups,
		m.DatasetRows,
		m.SummaryRows,
		m.BuildDuration,
		m.SnapshotReady,
		m.RowsPublished,
		m.PublishErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CensusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "census_requests_total",
			Help:      "Census API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		CensusRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cps_etl",
			Name:      "census_request_duration_seconds",
			Help:      "Census API request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		SurveyRowsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "survey_rows_fetched_total",
			Help:      "Survey respondent rows parsed from the Census API.",
		}),
		SurveyRowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "survey_rows_skipped_total",
			Help:      "Survey rows dropped for missing or malformed cells.",
		}),
		EmptySurveyPeriods: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "empty_survey_periods_total",
			Help:      "Survey periods treated as empty because the fetch failed.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "cache_lookups_total",
			Help:      "Dataset cache lookups by result.",
		}, []string{"result"}),
		DatasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cps_etl",
			Name:      "dataset_rows",
			Help:      "Rows in the enriched dataset currently served.",
		}),
		SummaryRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cps_etl",
			Name:      "summary_rows",
			Help:      "Rows in the country-year summary currently served.",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cps_etl",
			Name:      "dataset_build_duration_seconds",
			Help:      "Duration of a full fetch-aggregate-join pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		SnapshotReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cps_etl",
			Name:      "snapshot_ready",
			Help:      "1 once the dataset snapshot is loaded, 0 before.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "rows_published_total",
			Help:      "Dataset rows written to the Kafka topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cps_etl",
			Name:      "publish_errors_total",
			Help:      "Failed Kafka publish batches.",
		}),
	}
}
