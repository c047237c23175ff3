package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
)

// ErrSnapshotNotLoaded is reported until a snapshot has been stored.
var ErrSnapshotNotLoaded = errors.New("dataset snapshot not loaded yet")

// Snapshot is the immutable pair of datasets served by the query API.
type Snapshot struct {
	Dataset []domain.DatasetRow
	Summary []domain.SummaryRow
	BuiltAt time.Time
}

// DatasetSource returns the enriched dataset for a range and month.
type DatasetSource interface {
	GetDataset(ctx context.Context, r domain.YearRange, month string) ([]domain.DatasetRow, error)
}

// LoadSnapshot fetches the dataset from src and derives its country-year
// summary.
func LoadSnapshot(ctx context.Context, src DatasetSource, clock clockwork.Clock, r domain.YearRange, month string) (*Snapshot, error) {
	rows, err := src.GetDataset(ctx, r, month)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &Snapshot{
		Dataset: rows,
		Summary: domain.BuildCountryYearSummary(rows),
		BuiltAt: clock.Now(),
	}, nil
}

// SnapshotHolder publishes the current Snapshot to concurrent readers.
// It implements the readiness checker used by the HTTP server.
type SnapshotHolder struct {
	current atomic.Pointer[Snapshot]
	metrics *observability.Metrics
}

// NewSnapshotHolder creates an empty holder.
func NewSnapshotHolder(metrics *observability.Metrics) *SnapshotHolder {
	return &SnapshotHolder{metrics: metrics}
}

// Store replaces the current snapshot.
func (h *SnapshotHolder) Store(s *Snapshot) {
	h.current.Store(s)
	h.metrics.DatasetRows.Set(float64(len(s.Dataset)))
	h.metrics.SummaryRows.Set(float64(len(s.Summary)))
	h.metrics.SnapshotReady.Set(1)
}

// Current returns the stored snapshot, or nil before the first Store.
func (h *SnapshotHolder) Current() *Snapshot {
	return h.current.Load()
}

// CheckReadiness returns nil once a snapshot has been stored.
func (h *SnapshotHolder) CheckReadiness(_ context.Context) error {
	if h.current.Load() == nil {
		return ErrSnapshotNotLoaded
	}
	return nil
}
