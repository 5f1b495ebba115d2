package catalog

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/log"
)

// ColumnInfo describes one column discovered via sys.columns/sys.types.
type ColumnInfo struct {
	Name            string
	OrdinalPosition int
	SQLTypeName     string
	IsNullable      bool
	IsIdentity      bool
	MaxLength       int
	Precision       int
	Scale           int
}

// EnsureColumnsLoaded runs one query against sys.columns/sys.types for
// (schemaName, tableName) on first access (or after invalidation/TTL
// expiry), plus a companion query discovering the primary key, coalescing
// concurrent callers through a singleflight keyed by "schema.table" and
// serializing with other loads that hash to the same shard.
func (c *Cache) EnsureColumnsLoaded(ctx context.Context, schemaName, tableName string) error {
	if err := c.EnsureTablesLoaded(ctx, schemaName); err != nil {
		return err
	}
	t := c.Table(schemaName, tableName)
	if t == nil {
		return dberr.NewBadConfigurationError("table", fmt.Sprintf("unknown table %q.%q", schemaName, tableName))
	}

	t.mu.RLock()
	state, loadedAt := t.columnsState, t.columnsLoaded
	t.mu.RUnlock()

	if state == Loaded && c.isStale(loadedAt) {
		t.mu.Lock()
		if t.columnsState == Loaded {
			t.columnsState = Stale
		}
		t.mu.Unlock()
		state = Stale
	}
	if state == Loaded {
		return nil
	}

	key := schemaName + "." + tableName
	_, err, _ := c.sfColumns.Do(key, func() (interface{}, error) {
		return nil, c.loadColumns(ctx, t)
	})
	return err
}

func (c *Cache) loadColumns(ctx context.Context, t *Table) error {
	shard := c.columnShardMutex(t.Schema, t.Name)
	shard.Lock()
	defer shard.Unlock()

	t.mu.Lock()
	t.columnsState = Loading
	t.mu.Unlock()

	columns, err := c.queryColumns(ctx, t)
	if err != nil {
		t.mu.Lock()
		t.columnsState = NotLoaded
		t.mu.Unlock()
		return fmt.Errorf("catalog: load columns for %q.%q: %w", t.Schema, t.Name, err)
	}

	pk, err := c.queryPrimaryKey(ctx, t)
	if err != nil {
		t.mu.Lock()
		t.columnsState = NotLoaded
		t.mu.Unlock()
		return fmt.Errorf("catalog: load primary key for %q.%q: %w", t.Schema, t.Name, err)
	}

	t.mu.Lock()
	t.Columns = columns
	t.PrimaryKey = pk
	t.columnsState = Loaded
	t.columnsLoaded = time.Now()
	t.mu.Unlock()
	c.log.Debug("catalog columns loaded", log.String("table", t.Schema+"."+t.Name), log.Int("count", len(columns)))
	return nil
}

func (c *Cache) queryColumns(ctx context.Context, t *Table) ([]ColumnInfo, error) {
	sql := fmt.Sprintf(`
SELECT col.column_id, col.name, ty.name, col.is_nullable, col.is_identity,
       col.max_length, col.precision, col.scale
FROM sys.columns col
JOIN sys.types ty ON ty.user_type_id = col.user_type_id
WHERE col.object_id = %d
ORDER BY col.column_id;`, t.ObjectID)

	_, rows, err := c.query(ctx, sql)
	if err != nil {
		return nil, err
	}

	out := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, ColumnInfo{
			OrdinalPosition: int(asInt64(row[0])),
			Name:            asString(row[1]),
			SQLTypeName:     asString(row[2]),
			IsNullable:      asBool(row[3]),
			IsIdentity:      asBool(row[4]),
			MaxLength:       int(asInt64(row[5])),
			Precision:       int(asInt64(row[6])),
			Scale:           int(asInt64(row[7])),
		})
	}
	return out, nil
}

func (c *Cache) queryPrimaryKey(ctx context.Context, t *Table) ([]string, error) {
	sql := fmt.Sprintf(`
SELECT col.name
FROM sys.indexes idx
JOIN sys.index_columns ic ON ic.object_id = idx.object_id AND ic.index_id = idx.index_id
JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
WHERE idx.object_id = %d AND idx.is_primary_key = 1
ORDER BY ic.key_ordinal;`, t.ObjectID)

	_, rows, err := c.query(ctx, sql)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, asString(row[0]))
	}
	return out, nil
}

// BulkLoadAll eagerly loads every schema, table, and column in one pass,
// avoiding the per-table round trip EnsureColumnsLoaded otherwise requires.
// It first attempts a single joined query across sys.schemas/sys.objects/
// sys.partitions/sys.columns/sys.types; if that fails (permissions, a SQL
// Server version whose catalog views differ), it falls back to a bounded,
// first-error-cancelling fan-out over EnsureTablesLoaded/EnsureColumnsLoaded
// per discovered schema.
func (c *Cache) BulkLoadAll(ctx context.Context) error {
	if err := c.bulkLoadJoined(ctx); err == nil {
		return nil
	} else {
		c.log.Warn("catalog bulk joined load failed, falling back to per-schema fan-out", log.Error("error", err))
	}
	return c.bulkLoadFanOut(ctx)
}

func (c *Cache) bulkLoadJoined(ctx context.Context) error {
	sql := `
SELECT s.name, o.object_id, o.name, o.type, ISNULL(p.row_count, 0),
       col.column_id, col.name, ty.name, col.is_nullable, col.is_identity,
       col.max_length, col.precision, col.scale
FROM sys.schemas s
JOIN sys.objects o ON o.schema_id = s.schema_id AND o.type IN ('U', 'V')
LEFT JOIN (
    SELECT object_id, SUM(rows) AS row_count
    FROM sys.partitions
    WHERE index_id IN (0, 1)
    GROUP BY object_id
) p ON p.object_id = o.object_id
JOIN sys.columns col ON col.object_id = o.object_id
JOIN sys.types ty ON ty.user_type_id = col.user_type_id
ORDER BY s.name, o.name, col.column_id;`

	_, rows, err := c.query(ctx, sql)
	if err != nil {
		return err
	}

	schemas := make(map[string]*Schema)
	now := time.Now()
	for _, row := range rows {
		schemaName := asString(row[0])
		s, ok := schemas[schemaName]
		if !ok {
			s = &Schema{Name: schemaName, Tables: make(map[string]*Table), tablesState: Loaded, tablesLoaded: now}
			schemas[schemaName] = s
		}

		tableName := asString(row[2])
		t, ok := s.Tables[tableName]
		if !ok {
			t = &Table{
				Schema:       schemaName,
				Name:         tableName,
				ObjectID:     asInt64(row[1]),
				IsView:       asString(row[3]) == "V",
				RowCount:     asInt64(row[4]),
				columnsState: Loaded,
				columnsLoaded: now,
			}
			s.Tables[tableName] = t
		}
		t.Columns = append(t.Columns, ColumnInfo{
			OrdinalPosition: int(asInt64(row[5])),
			Name:            asString(row[6]),
			SQLTypeName:     asString(row[7]),
			IsNullable:      asBool(row[8]),
			IsIdentity:      asBool(row[9]),
			MaxLength:       int(asInt64(row[10])),
			Precision:       int(asInt64(row[11])),
			Scale:           int(asInt64(row[12])),
		})
	}

	c.mu.Lock()
	c.schemas = schemas
	c.schemasState = Loaded
	c.schemasLoadedAt = now
	c.mu.Unlock()

	// Primary keys aren't part of the joined query; fill them in per table.
	for _, s := range schemas {
		for _, t := range s.Tables {
			pk, err := c.queryPrimaryKey(ctx, t)
			if err != nil {
				return err
			}
			t.PrimaryKey = pk
		}
	}
	c.log.Debug("catalog bulk joined load complete", log.Int("schemas", len(schemas)))
	return nil
}

func (c *Cache) bulkLoadFanOut(ctx context.Context) error {
	if err := c.EnsureSchemasLoaded(ctx); err != nil {
		return err
	}
	schemas := c.Schemas()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, s := range schemas {
		s := s
		g.Go(func() error {
			if err := c.EnsureTablesLoaded(gctx, s.Name); err != nil {
				return err
			}
			for _, t := range c.Tables(s.Name) {
				t := t
				if err := c.EnsureColumnsLoaded(gctx, s.Name, t.Name); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
