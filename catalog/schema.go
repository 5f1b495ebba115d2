package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugr-lab/mssql-extension/log"
)

// Schema is one discovered database schema and its lazily-loaded table set.
type Schema struct {
	Name string

	mu           sync.RWMutex
	tablesState  LoadState
	tablesLoaded time.Time
	Tables       map[string]*Table
}

// Schemas returns a snapshot of the loaded schema list, sorted by name.
// Call EnsureSchemasLoaded first.
func (c *Cache) Schemas() []*Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Schema, 0, len(c.schemas))
	for _, s := range c.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schema looks up one schema by name, or nil if not (yet) loaded.
func (c *Cache) Schema(name string) *Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemas[name]
}

// EnsureSchemasLoaded runs one query against sys.schemas on first access (or
// after invalidation/TTL expiry), coalescing concurrent callers through a
// singleflight so exactly one query is in flight at a time.
func (c *Cache) EnsureSchemasLoaded(ctx context.Context) error {
	c.mu.RLock()
	state, loadedAt := c.schemasState, c.schemasLoadedAt
	c.mu.RUnlock()

	if state == Loaded && c.isStale(loadedAt) {
		c.mu.Lock()
		if c.schemasState == Loaded {
			c.schemasState = Stale
		}
		c.mu.Unlock()
		state = Stale
	}
	if state == Loaded {
		return nil
	}

	_, err, _ := c.sfSchemas.Do("schemas", func() (interface{}, error) {
		return nil, c.loadSchemas(ctx)
	})
	return err
}

func (c *Cache) loadSchemas(ctx context.Context) error {
	c.mu.Lock()
	c.schemasState = Loading
	c.mu.Unlock()

	sql := "SELECT name FROM sys.schemas"
	if pred := filterPredicate("name", c.cfg.NameFilter); pred != "" {
		sql += " WHERE " + pred
	}
	sql += " ORDER BY name;"

	_, rows, err := c.query(ctx, sql)
	if err != nil {
		c.mu.Lock()
		c.schemasState = NotLoaded
		c.mu.Unlock()
		return fmt.Errorf("catalog: load schemas: %w", err)
	}

	// Preserve already-loaded tables for schemas that survive this refresh,
	// instead of discarding tables/columns work done before a TTL-driven
	// reload of the schema list itself.
	c.mu.RLock()
	previous := c.schemas
	c.mu.RUnlock()

	schemas := make(map[string]*Schema, len(rows))
	for _, row := range rows {
		name := asString(row[0])
		if old, ok := previous[name]; ok {
			schemas[name] = old
			continue
		}
		schemas[name] = &Schema{Name: name, Tables: make(map[string]*Table)}
	}

	c.mu.Lock()
	c.schemas = schemas
	c.schemasState = Loaded
	c.schemasLoadedAt = time.Now()
	c.mu.Unlock()
	c.log.Debug("catalog schemas loaded", log.Int("count", len(schemas)))
	return nil
}
