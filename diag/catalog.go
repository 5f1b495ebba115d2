package diag

import (
	"context"
	"fmt"
)

// PreloadCatalog is the "preload_catalog" diagnostic function: it bulk
// populates the named attachment's catalog cache, either the whole catalog
// (schema == "") or a single schema's table/column tiers, and returns a
// human-readable summary of what got loaded.
func (m *Manager) PreloadCatalog(ctx context.Context, name, schema string) (string, error) {
	a, err := m.resolveAttachment(name)
	if err != nil {
		return "", err
	}
	cat := a.Catalog()

	if schema == "" {
		if err := cat.BulkLoadAll(ctx); err != nil {
			return "", err
		}
		schemas := cat.Schemas()
		var tables int
		for _, s := range schemas {
			tables += len(cat.Tables(s.Name))
		}
		return fmt.Sprintf("loaded %d schemas, %d tables", len(schemas), tables), nil
	}

	if err := cat.EnsureTablesLoaded(ctx, schema); err != nil {
		return "", err
	}
	tables := cat.Tables(schema)
	return fmt.Sprintf("loaded %d tables in schema %q", len(tables), schema), nil
}

// RefreshCache is the "refresh_cache" diagnostic function: it invalidates
// every tier of the named attachment's catalog cache.
func (m *Manager) RefreshCache(name string) (bool, error) {
	a, err := m.resolveAttachment(name)
	if err != nil {
		return false, err
	}
	a.Catalog().InvalidateAll()
	return true, nil
}
