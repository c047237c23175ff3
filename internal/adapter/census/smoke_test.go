//go:build census

package census

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
)

// These tests hit the real Census API. CENSUS_API_KEY is optional; without it
// the API allows a small daily quota.
// Run with: go test -tags=census ./internal/adapter/census/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:      DefaultBaseURL,
		APIKey:       os.Getenv("CENSUS_API_KEY"),
		Timeout:      60 * time.Second,
		RateLimit:    1,
		MaxRetries:   2,
		RetryBackoff: 2 * time.Second,
	}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_FetchSurveyRecords(t *testing.T) {
	result := smokeClient(t).FetchSurveyRecords(context.Background(), 2015, "dec")
	require.NoError(t, result.Err)
	require.False(t, result.Empty())

	assert.ElementsMatch(t, []string{domain.VarMetroCode, domain.VarWeight, domain.VarCountryCode}, result.Rows[0])

	records, _, err := domain.ParseSurveyRows(result.Rows, 2015)
	require.NoError(t, err)
	assert.NotEmpty(t, records)
}

func TestSmoke_CountryTable(t *testing.T) {
	entries, err := smokeClient(t).BuildCountryTable(context.Background(), 2015, "dec")
	require.NoError(t, err)

	names := make(map[int]string, len(entries))
	for _, e := range entries {
		names[e.Code] = e.Name
	}
	assert.Contains(t, names[domain.NativeBornCountryCode], "United States")
}

func TestSmoke_MetroTable(t *testing.T) {
	entries, err := smokeClient(t).BuildMetroTable(context.Background(), 2015, "dec")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
