package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/cps-immigrant-etl/internal/adapter/cache"
	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
)

// DatasetBuilder produces the enriched dataset from scratch.
type DatasetBuilder interface {
	BuildDataset(ctx context.Context, r domain.YearRange, month string) ([]domain.DatasetRow, error)
}

// DatasetStore persists built datasets by key.
type DatasetStore interface {
	Load(k cache.Key) ([]domain.DatasetRow, error)
	Save(k cache.Key, rows []domain.DatasetRow) (cache.Manifest, error)
}

// Gateway serves the dataset from the store, building and persisting it on a
// miss. It is not safe for concurrent GetDataset calls with the same key.
type Gateway struct {
	builder DatasetBuilder
	store   DatasetStore
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(builder DatasetBuilder, store DatasetStore, metrics *observability.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{builder: builder, store: store, metrics: metrics, logger: logger}
}

// GetDataset returns the cached dataset for r and month when a valid entry
// exists. Otherwise it runs the builder and writes the result back. An entry
// that fails to decode counts as a miss and is overwritten.
func (g *Gateway) GetDataset(ctx context.Context, r domain.YearRange, month string) ([]domain.DatasetRow, error) {
	key := cache.NewKey(r, month)

	rows, err := g.store.Load(key)
	switch {
	case err == nil:
		g.metrics.CacheLookups.WithLabelValues("hit").Inc()
		g.logger.Info("dataset loaded from cache", "key", key.String(), "rows", len(rows))
		return rows, nil
	case errors.Is(err, cache.ErrMiss):
		g.metrics.CacheLookups.WithLabelValues("miss").Inc()
		g.logger.Info("dataset cache miss", "key", key.String())
	case errors.Is(err, cache.ErrCorrupt):
		g.metrics.CacheLookups.WithLabelValues("invalid").Inc()
		g.logger.Warn("dataset cache entry invalid, rebuilding", "key", key.String(), "error", err)
	default:
		return nil, fmt.Errorf("get dataset: %w", err)
	}

	rows, err = g.builder.BuildDataset(ctx, r, month)
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}

	if _, err := g.store.Save(key, rows); err != nil {
		g.logger.Error("dataset cache write failed", "key", key.String(), "error", err)
	}
	return rows, nil
}
