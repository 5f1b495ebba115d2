package hostiface

import (
	"context"

	"github.com/hugr-lab/mssql-extension/bridge"
	"github.com/hugr-lab/mssql-extension/catalog"
	"github.com/hugr-lab/mssql-extension/dberr"
)

// EntryKind distinguishes the two shapes the host's virtual host-entry
// methods (scan, statistics, storage info, virtual-column discovery, alter,
// drop) collapse into: table and view.
type EntryKind int

const (
	EntryTable EntryKind = iota
	EntryView
)

func (k EntryKind) String() string {
	if k == EntryView {
		return "view"
	}
	return "table"
}

// EntryStats is the subset of statistics the host planner asks an Entry for.
type EntryStats struct {
	RowCount int64
}

// Entry is the abstract table/view handed to the host catalog consumer: one
// capability set covering both table and view variants, distinguished by
// Kind rather than by separate Go types, so the host planner holds a single
// interface regardless of which kind it discovered.
type Entry struct {
	table       *catalog.Table
	kind        EntryKind
	cat         *catalog.Cache
	ddl         *bridge.DDL
	filterCache *bridge.Cache
}

// NewEntry wraps a catalog-discovered table or view as an Entry. ddl may be
// nil for a read-only attachment; Alter/Drop then fail with
// NotImplementedError instead of panicking.
func NewEntry(t *catalog.Table, cat *catalog.Cache, ddl *bridge.DDL, filterCache *bridge.Cache) *Entry {
	kind := EntryTable
	if t.IsView {
		kind = EntryView
	}
	return &Entry{table: t, kind: kind, cat: cat, ddl: ddl, filterCache: filterCache}
}

func (e *Entry) Kind() EntryKind { return e.kind }
func (e *Entry) Schema() string  { return e.table.Schema }
func (e *Entry) Name() string    { return e.table.Name }

// Columns is the virtual-column discovery method: it loads the column tier
// on first access and returns the current snapshot.
func (e *Entry) Columns(ctx context.Context) ([]catalog.ColumnInfo, error) {
	if err := e.cat.EnsureColumnsLoaded(ctx, e.table.Schema, e.table.Name); err != nil {
		return nil, err
	}
	return e.table.ColumnsSnapshot(), nil
}

// Statistics is the storage-info method: a row-count estimate populated by
// the catalog's table loader from sys.dm_db_partition_stats.
func (e *Entry) Statistics() EntryStats {
	return EntryStats{RowCount: e.table.RowCount}
}

// Scan is the scan-function method: it builds a pushdown SELECT plan over
// the entry's current columns, loading them first if needed. needsRowID is
// true only when the host's scan asked for the virtual rowid column; a
// view or PK-less table still scans fine when it doesn't.
func (e *Entry) Scan(ctx context.Context, requestedColumns []string, filter *bridge.Expr, needsRowID bool) (bridge.SelectPlan, error) {
	if err := e.cat.EnsureColumnsLoaded(ctx, e.table.Schema, e.table.Name); err != nil {
		return bridge.SelectPlan{}, err
	}
	return bridge.BuildSelect(e.table, requestedColumns, filter, e.filterCache, needsRowID)
}

// AddColumn is the alter method. Views have no DDL surface.
func (e *Entry) AddColumn(ctx context.Context, exec bridge.Executor, col bridge.ColumnSpec) error {
	if e.kind == EntryView {
		return dberr.NewNotImplementedError("ALTER TABLE ADD COLUMN on a view")
	}
	if e.ddl == nil {
		return dberr.NewNotImplementedError("DDL on a read-only attachment")
	}
	return e.ddl.AddColumn(ctx, exec, e.table.Schema, e.table.Name, col)
}

// DropColumn is the alter method's drop-column variant.
func (e *Entry) DropColumn(ctx context.Context, exec bridge.Executor, column string) error {
	if e.kind == EntryView {
		return dberr.NewNotImplementedError("ALTER TABLE DROP COLUMN on a view")
	}
	if e.ddl == nil {
		return dberr.NewNotImplementedError("DDL on a read-only attachment")
	}
	return e.ddl.DropColumn(ctx, exec, e.table.Schema, e.table.Name, column)
}

// Drop is the drop method.
func (e *Entry) Drop(ctx context.Context, exec bridge.Executor) error {
	if e.kind == EntryView {
		return dberr.NewNotImplementedError("DROP on a view")
	}
	if e.ddl == nil {
		return dberr.NewNotImplementedError("DDL on a read-only attachment")
	}
	return e.ddl.DropTable(ctx, exec, e.table.Schema, e.table.Name)
}
