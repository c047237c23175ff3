package census

import (
	"context"
	"fmt"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
)

// BuildCountryTable returns the deduplicated PEMNTVTY code table for a period.
func (c *Client) BuildCountryTable(ctx context.Context, year int, month string) ([]domain.ReferenceEntry, error) {
	return c.buildReferenceTable(ctx, year, month, domain.VarCountryCode)
}

// BuildMetroTable returns the deduplicated GTCBSA code table for a period.
func (c *Client) BuildMetroTable(ctx context.Context, year int, month string) ([]domain.ReferenceEntry, error) {
	return c.buildReferenceTable(ctx, year, month, domain.VarMetroCode)
}

func (c *Client) buildReferenceTable(ctx context.Context, year int, month, variable string) ([]domain.ReferenceEntry, error) {
	items, err := c.FetchVariableMetadata(ctx, year, month, variable)
	if err != nil {
		return nil, err
	}
	entries, err := domain.ParseReferenceItems(items)
	if err != nil {
		return nil, fmt.Errorf("build %s table %d/%s: %w", variable, year, month, err)
	}
	return entries, nil
}
