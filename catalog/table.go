package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/log"
)

// Table is one discovered table or view and its lazily-loaded column set.
type Table struct {
	Schema   string
	Name     string
	ObjectID int64
	IsView   bool
	RowCount int64

	mu            sync.RWMutex
	columnsState  LoadState
	columnsLoaded time.Time
	Columns       []ColumnInfo
	PrimaryKey    []string
}

// Column looks up one column by name, or nil if not found (or not yet
// loaded). Call EnsureColumnsLoaded first.
func (t *Table) Column(name string) *ColumnInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnsSnapshot returns a copy of the loaded column list.
func (t *Table) ColumnsSnapshot() []ColumnInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ColumnInfo, len(t.Columns))
	copy(out, t.Columns)
	return out
}

// Tables returns a snapshot of the tables discovered for schemaName. Returns
// nil if the schema is unknown or its tables tier has not been loaded.
func (c *Cache) Tables(schemaName string) []*Table {
	s := c.Schema(schemaName)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Table, 0, len(s.Tables))
	for _, tbl := range s.Tables {
		out = append(out, tbl)
	}
	return out
}

// Table looks up one table by schema and name, or nil if not (yet) loaded.
func (c *Cache) Table(schemaName, tableName string) *Table {
	s := c.Schema(schemaName)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Tables[tableName]
}

// EnsureTablesLoaded runs one query against sys.objects/sys.partitions for
// schemaName's tables and views on first access (or after invalidation/TTL
// expiry), coalescing concurrent callers through a singleflight keyed by
// schema name.
func (c *Cache) EnsureTablesLoaded(ctx context.Context, schemaName string) error {
	if err := c.EnsureSchemasLoaded(ctx); err != nil {
		return err
	}
	s := c.Schema(schemaName)
	if s == nil {
		return dberr.NewBadConfigurationError("schema", fmt.Sprintf("unknown schema %q", schemaName))
	}

	s.mu.RLock()
	state, loadedAt := s.tablesState, s.tablesLoaded
	s.mu.RUnlock()

	if state == Loaded && c.isStale(loadedAt) {
		s.mu.Lock()
		if s.tablesState == Loaded {
			s.tablesState = Stale
		}
		s.mu.Unlock()
		state = Stale
	}
	if state == Loaded {
		return nil
	}

	_, err, _ := c.sfTables.Do("tables:"+schemaName, func() (interface{}, error) {
		return nil, c.loadTables(ctx, s)
	})
	return err
}

func (c *Cache) loadTables(ctx context.Context, s *Schema) error {
	s.mu.Lock()
	s.tablesState = Loading
	s.mu.Unlock()

	sql := fmt.Sprintf(`
SELECT o.object_id, o.name, o.type, ISNULL(p.row_count, 0)
FROM sys.objects o
LEFT JOIN (
    SELECT object_id, SUM(rows) AS row_count
    FROM sys.partitions
    WHERE index_id IN (0, 1)
    GROUP BY object_id
) p ON p.object_id = o.object_id
WHERE o.schema_id = SCHEMA_ID(%s) AND o.type IN ('U', 'V')`, quoteLiteral(s.Name))
	if pred := filterPredicate("o.name", c.cfg.NameFilter); pred != "" {
		sql += " AND " + pred
	}
	sql += " ORDER BY o.name;"

	_, rows, err := c.query(ctx, sql)
	if err != nil {
		s.mu.Lock()
		s.tablesState = NotLoaded
		s.mu.Unlock()
		return fmt.Errorf("catalog: load tables for schema %q: %w", s.Name, err)
	}

	s.mu.RLock()
	previous := s.Tables
	s.mu.RUnlock()

	tables := make(map[string]*Table, len(rows))
	for _, row := range rows {
		objectID := asInt64(row[0])
		name := asString(row[1])
		typ := asString(row[2])
		rowCount := asInt64(row[3])
		if old, ok := previous[name]; ok {
			old.mu.Lock()
			old.ObjectID = objectID
			old.IsView = typ == "V"
			old.RowCount = rowCount
			old.mu.Unlock()
			tables[name] = old
			continue
		}
		tables[name] = &Table{
			Schema:   s.Name,
			Name:     name,
			ObjectID: objectID,
			IsView:   typ == "V",
			RowCount: rowCount,
		}
	}

	s.mu.Lock()
	s.Tables = tables
	s.tablesState = Loaded
	s.tablesLoaded = time.Now()
	s.mu.Unlock()
	c.log.Debug("catalog tables loaded", log.String("schema", s.Name), log.Int("count", len(tables)))
	return nil
}
