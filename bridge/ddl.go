package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hugr-lab/mssql-extension/catalog"
)

// ColumnSpec describes one column of a CREATE TABLE / ALTER TABLE ADD
// COLUMN statement. SQLType is emitted verbatim (e.g. "INT",
// "NVARCHAR(100)", "DATETIME2(7)"), since the host already knows the exact
// SQL Server type it wants.
type ColumnSpec struct {
	Name     string
	SQLType  string
	Nullable bool
}

// DDL serializes schema-changing statements against one attachment and
// invalidates the matching catalog.Cache entries once a statement commits.
// ddlMu is an in-process equivalent of the teacher's file-based migration
// lock: every DDL call in this module originates from the same process,
// so there is no cross-host coordination to do — a mutex gives the same
// "only one schema change in flight at a time" guarantee without the
// lock-file machinery.
type DDL struct {
	mu  sync.Mutex
	cat *catalog.Cache
}

// NewDDL creates a DDL executor that invalidates cat on every successful
// statement.
func NewDDL(cat *catalog.Cache) *DDL {
	return &DDL{cat: cat}
}

// CreateSchema runs CREATE SCHEMA and, on success, invalidates the whole
// catalog cache (a new schema changes what EnsureSchemasLoaded sees).
func (d *DDL) CreateSchema(ctx context.Context, exec Executor, schema string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sql := fmt.Sprintf("CREATE SCHEMA %s;", QuoteIdent(schema))
	if _, err := runBatches(ctx, exec, []string{sql}); err != nil {
		return err
	}
	d.cat.InvalidateAll()
	return nil
}

// CreateTable runs CREATE TABLE with an inline composite or single-column
// primary key constraint when primaryKey is non-empty, and invalidates
// schema's table tier on success.
func (d *DDL) CreateTable(ctx context.Context, exec Executor, schema, table string, columns []ColumnSpec, primaryKey []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = columnDef(c)
	}
	if len(primaryKey) > 0 {
		pkCols := make([]string, len(primaryKey))
		for i, c := range primaryKey {
			pkCols[i] = QuoteIdent(c)
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", QuoteIdent("PK_"+table), strings.Join(pkCols, ", ")))
	}

	sql := fmt.Sprintf("CREATE TABLE %s (%s);", QuoteQualified(schema, table), strings.Join(defs, ", "))
	if _, err := runBatches(ctx, exec, []string{sql}); err != nil {
		return err
	}
	d.cat.InvalidateSchema(schema)
	return nil
}

// DropTable runs DROP TABLE and invalidates the table on success.
func (d *DDL) DropTable(ctx context.Context, exec Executor, schema, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sql := fmt.Sprintf("DROP TABLE %s;", QuoteQualified(schema, table))
	if _, err := runBatches(ctx, exec, []string{sql}); err != nil {
		return err
	}
	d.cat.InvalidateTable(schema, table)
	return nil
}

// AddColumn runs ALTER TABLE ... ADD and invalidates the table's column
// tier on success.
func (d *DDL) AddColumn(ctx context.Context, exec Executor, schema, table string, col ColumnSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sql := fmt.Sprintf("ALTER TABLE %s ADD %s;", QuoteQualified(schema, table), columnDef(col))
	if _, err := runBatches(ctx, exec, []string{sql}); err != nil {
		return err
	}
	d.cat.InvalidateTable(schema, table)
	return nil
}

// DropColumn runs ALTER TABLE ... DROP COLUMN and invalidates the table's
// column tier on success.
func (d *DDL) DropColumn(ctx context.Context, exec Executor, schema, table, column string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", QuoteQualified(schema, table), QuoteIdent(column))
	if _, err := runBatches(ctx, exec, []string{sql}); err != nil {
		return err
	}
	d.cat.InvalidateTable(schema, table)
	return nil
}

func columnDef(c ColumnSpec) string {
	null := "NOT NULL"
	if c.Nullable {
		null = "NULL"
	}
	return fmt.Sprintf("%s %s %s", QuoteIdent(c.Name), c.SQLType, null)
}
