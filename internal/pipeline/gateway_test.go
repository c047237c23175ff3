package pipeline_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/cps-immigrant-etl/internal/adapter/cache"
	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
	"github.com/couchcryptid/cps-immigrant-etl/internal/pipeline"
)

type countingBuilder struct {
	rows  []domain.DatasetRow
	err   error
	calls int
}

func (b *countingBuilder) BuildDataset(_ context.Context, _ domain.YearRange, _ string) ([]domain.DatasetRow, error) {
	b.calls++
	return b.rows, b.err
}

type failingStore struct {
	loadErr error
	saveErr error
	saved   int
}

func (s *failingStore) Load(cache.Key) ([]domain.DatasetRow, error) { return nil, s.loadErr }

func (s *failingStore) Save(cache.Key, []domain.DatasetRow) (cache.Manifest, error) {
	s.saved++
	return cache.Manifest{}, s.saveErr
}

var gatewayRange = domain.YearRange{From: 2010, To: 2012}

func builtRows() []domain.DatasetRow {
	return []domain.DatasetRow{
		{MetroCode: 300, CountryCode: 20, Year: 2010, ImmigrantCount: 1350001, Country: "CountryY", MetroCity: "CityX", GeoID: 300, Lat: 40.1, Lon: -74.2},
		{MetroCode: 100, CountryCode: 110, Year: 2011, ImmigrantCount: 5, Country: "Mexico", MetroCity: "Abilene, TX", GeoID: 100, Lat: 32.449505, Lon: -99.732384},
	}
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	return cache.NewStore(t.TempDir(), clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), discardLogger())
}

func TestGateway_MissBuildsAndPersists(t *testing.T) {
	builder := &countingBuilder{rows: builtRows()}
	store := newStore(t)
	metrics := observability.NewMetricsForTesting()
	g := pipeline.NewGateway(builder, store, metrics, discardLogger())

	rows, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.NoError(t, err)

	assert.Equal(t, builtRows(), rows)
	assert.Equal(t, 1, builder.calls)
	assert.FileExists(t, store.DataPath(cache.NewKey(gatewayRange, "dec")))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")), 0)
}

func TestGateway_SecondCallServedFromCache(t *testing.T) {
	builder := &countingBuilder{rows: builtRows()}
	metrics := observability.NewMetricsForTesting()
	g := pipeline.NewGateway(builder, newStore(t), metrics, discardLogger())

	first, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.NoError(t, err)
	second, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached dataset differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, 1, builder.calls, "second call must not rebuild")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")), 0)
}

func TestGateway_DifferentKeyRebuilds(t *testing.T) {
	builder := &countingBuilder{rows: builtRows()}
	g := pipeline.NewGateway(builder, newStore(t), observability.NewMetricsForTesting(), discardLogger())

	_, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.NoError(t, err)
	_, err = g.GetDataset(context.Background(), gatewayRange, "mar")
	require.NoError(t, err)
	_, err = g.GetDataset(context.Background(), domain.YearRange{From: 2010, To: 2013}, "dec")
	require.NoError(t, err)

	assert.Equal(t, 3, builder.calls)
}

func TestGateway_CorruptEntryRebuilt(t *testing.T) {
	builder := &countingBuilder{rows: builtRows()}
	store := newStore(t)
	metrics := observability.NewMetricsForTesting()
	g := pipeline.NewGateway(builder, store, metrics, discardLogger())

	key := cache.NewKey(gatewayRange, "dec")
	_, err := store.Save(key, builtRows())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.DataPath(key), []byte("METRO_CITY_CODE\ngarbage\n"), 0o600))

	rows, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.NoError(t, err)
	assert.Equal(t, builtRows(), rows)
	assert.Equal(t, 1, builder.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("invalid")), 0)

	// The rebuilt entry replaced the corrupt one.
	reloaded, err := store.Load(key)
	require.NoError(t, err)
	assert.Len(t, reloaded, 2)
}

func TestGateway_BuildErrorNotPersisted(t *testing.T) {
	builder := &countingBuilder{err: errors.New("metadata unavailable")}
	store := &failingStore{loadErr: cache.ErrMiss}
	g := pipeline.NewGateway(builder, store, observability.NewMetricsForTesting(), discardLogger())

	_, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata unavailable")
	assert.Zero(t, store.saved)
}

func TestGateway_UnreadableStoreIsFatal(t *testing.T) {
	builder := &countingBuilder{rows: builtRows()}
	store := &failingStore{loadErr: os.ErrPermission}
	g := pipeline.NewGateway(builder, store, observability.NewMetricsForTesting(), discardLogger())

	_, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.ErrorIs(t, err, os.ErrPermission)
	assert.Zero(t, builder.calls)
}

func TestGateway_SaveFailureStillReturnsRows(t *testing.T) {
	builder := &countingBuilder{rows: builtRows()}
	store := &failingStore{loadErr: cache.ErrMiss, saveErr: errors.New("disk full")}
	g := pipeline.NewGateway(builder, store, observability.NewMetricsForTesting(), discardLogger())

	rows, err := g.GetDataset(context.Background(), gatewayRange, "dec")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, store.saved)
}
