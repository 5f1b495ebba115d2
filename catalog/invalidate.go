package catalog

import "time"

// InvalidateAll resets the entire cache to NotLoaded, discarding every
// schema, table, and column discovered so far. The next EnsureXxxLoaded call
// re-queries from scratch.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.schemas = make(map[string]*Schema)
	c.schemasState = NotLoaded
	c.schemasLoadedAt = time.Time{}
	c.mu.Unlock()
}

// InvalidateSchema resets one schema's tables tier to NotLoaded without
// touching the schema list itself or any other schema's tables.
func (c *Cache) InvalidateSchema(schemaName string) {
	s := c.Schema(schemaName)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Tables = make(map[string]*Table)
	s.tablesState = NotLoaded
	s.tablesLoaded = time.Time{}
	s.mu.Unlock()
}

// InvalidateTable resets one table's columns tier to NotLoaded without
// touching the table's row count or any other table's columns.
func (c *Cache) InvalidateTable(schemaName, tableName string) {
	t := c.Table(schemaName, tableName)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.Columns = nil
	t.PrimaryKey = nil
	t.columnsState = NotLoaded
	t.columnsLoaded = time.Time{}
	t.mu.Unlock()
}
