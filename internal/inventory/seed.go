package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Seed upserts every variant in a JSON array file into the catalog and
// returns how many were written.
func Seed(ctx context.Context, cat Catalog, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed %s: %w", path, err)
	}
	var vs []Variant
	if err := json.Unmarshal(b, &vs); err != nil {
		return 0, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, v := range vs {
		if err := cat.UpsertVariant(ctx, v); err != nil {
			return i, fmt.Errorf("seed variant %s: %w", v.ID, err)
		}
	}
	return len(vs), nil
}
