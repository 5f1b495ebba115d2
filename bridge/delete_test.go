package bridge

import (
	"testing"

	"github.com/hugr-lab/mssql-extension/catalog"
)

func TestBuildDeleteBatchesSingleColumnKey(t *testing.T) {
	table := &catalog.Table{Schema: "dbo", Name: "orders", PrimaryKey: []string{"id"}}
	req := DeleteRequest{RowIDs: []RowID{{Values: []any{int64(1)}}, {Values: []any{int64(2)}}}}

	batches, err := BuildDeleteBatches(table, req, 1000, 2000)
	if err != nil {
		t.Fatalf("BuildDeleteBatches: %v", err)
	}
	want := "DELETE t FROM [dbo].[orders] AS t INNER JOIN (VALUES (1), (2)) AS v([id]) ON t.[id] = v.[id];"
	if batches[0] != want {
		t.Fatalf("got %q, want %q", batches[0], want)
	}
}

func TestBuildDeleteBatchesCompositeKey(t *testing.T) {
	table := &catalog.Table{Schema: "dbo", Name: "order_items", PrimaryKey: []string{"order_id", "line_no"}}
	req := DeleteRequest{RowIDs: []RowID{{Values: []any{int64(1), int32(2)}}}}

	batches, err := BuildDeleteBatches(table, req, 1000, 2000)
	if err != nil {
		t.Fatalf("BuildDeleteBatches: %v", err)
	}
	want := "DELETE t FROM [dbo].[order_items] AS t INNER JOIN (VALUES (1, 2)) AS v([order_id], [line_no]) ON t.[order_id] = v.[order_id] AND t.[line_no] = v.[line_no];"
	if batches[0] != want {
		t.Fatalf("got %q, want %q", batches[0], want)
	}
}

func TestBuildDeleteBatchesEmptyIsNoOp(t *testing.T) {
	table := &catalog.Table{Schema: "dbo", Name: "orders", PrimaryKey: []string{"id"}}
	batches, err := BuildDeleteBatches(table, DeleteRequest{}, 1000, 2000)
	if err != nil || batches != nil {
		t.Fatalf("got %v, %v", batches, err)
	}
}
