package catalog

import (
	"context"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugr-lab/mssql-extension/conn"
	mpool "github.com/hugr-lab/mssql-extension/pool"
	"github.com/hugr-lab/mssql-extension/tds"
)

// fakeCatalogServer speaks just enough TDS to answer the discovery queries
// this package issues, following the same real loopback-socket convention as
// pool/pool_test.go and conn/connection_test.go.
type fakeCatalogServer struct {
	ln net.Listener

	mu          sync.Mutex
	schemaRows  [][]string
	objectRows  [][4]any // object_id, name, type, row_count
	columnRows  [][8]any // column_id, name, type name, nullable, identity, max_len, precision, scale
	pkRows      []string
	queryCounts map[string]int
}

func startFakeCatalogServer(t *testing.T) (*fakeCatalogServer, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeCatalogServer{ln: ln, queryCounts: make(map[string]int)}
	port := ln.Addr().(*net.TCPAddr).Port
	go s.acceptLoop(t)
	return s, port
}

func (s *fakeCatalogServer) acceptLoop(t *testing.T) {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(t, c)
	}
}

func (s *fakeCatalogServer) serve(t *testing.T, c net.Conn) {
	defer c.Close()

	if _, _, err := readCatalogTDSMessage(c); err != nil { // PRELOGIN
		return
	}
	if err := sendCatalogTDSMessage(c, tds.PacketPrelogin, tds.EncodePrelogin(tds.PreloginRequest{Encryption: tds.EncryptOff})); err != nil {
		return
	}
	if _, _, err := readCatalogTDSMessage(c); err != nil { // LOGIN7
		return
	}
	if err := sendCatalogTDSMessage(c, tds.PacketTabular, catalogLoginAckBytes()); err != nil {
		return
	}

	for {
		_, body, err := readCatalogTDSMessage(c)
		if err != nil {
			return
		}
		sql := decodeCatalogBatchSQL(body)
		resp := s.respond(sql)
		if err := sendCatalogTDSMessage(c, tds.PacketTabular, resp); err != nil {
			return
		}
	}
}

func (s *fakeCatalogServer) respond(sql string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.Contains(sql, "FROM sys.schemas"):
		s.queryCounts["schemas"]++
		return s.schemasResultBytes()
	case strings.Contains(sql, "FROM sys.objects"):
		s.queryCounts["tables"]++
		return s.objectsResultBytes()
	case strings.Contains(sql, "FROM sys.columns") && strings.Contains(sql, "JOIN sys.types"):
		s.queryCounts["columns"]++
		return s.columnsResultBytes()
	case strings.Contains(sql, "FROM sys.indexes"):
		s.queryCounts["pk"]++
		return s.pkResultBytes()
	default:
		return catalogDoneBytes(tds.DoneFinal)
	}
}

func (s *fakeCatalogServer) queryCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCounts[name]
}

func (s *fakeCatalogServer) schemasResultBytes() []byte {
	colMeta := catalogColMetaHeader(1)
	colMeta = append(colMeta, catalogVarCharColumn("name")...)

	var rows []byte
	for _, row := range s.schemaRows {
		rows = append(rows, catalogRowToken(catalogVarCharVal(row[0]))...)
	}
	return append(append(colMeta, rows...), catalogDoneBytes(tds.DoneFinal)...)
}

func (s *fakeCatalogServer) objectsResultBytes() []byte {
	colMeta := catalogColMetaHeader(4)
	colMeta = append(colMeta, catalogIntColumn("object_id")...)
	colMeta = append(colMeta, catalogVarCharColumn("name")...)
	colMeta = append(colMeta, catalogVarCharColumn("type")...)
	colMeta = append(colMeta, catalogIntColumn("row_count")...)

	var rows []byte
	for _, row := range s.objectRows {
		vals := catalogIntVal(row[0].(int32))
		vals = append(vals, catalogVarCharVal(row[1].(string))...)
		vals = append(vals, catalogVarCharVal(row[2].(string))...)
		vals = append(vals, catalogIntVal(row[3].(int32))...)
		rows = append(rows, catalogRowToken(vals)...)
	}
	return append(append(colMeta, rows...), catalogDoneBytes(tds.DoneFinal)...)
}

func (s *fakeCatalogServer) columnsResultBytes() []byte {
	colMeta := catalogColMetaHeader(8)
	colMeta = append(colMeta, catalogIntColumn("column_id")...)
	colMeta = append(colMeta, catalogVarCharColumn("name")...)
	colMeta = append(colMeta, catalogVarCharColumn("type_name")...)
	colMeta = append(colMeta, catalogBitColumn("is_nullable")...)
	colMeta = append(colMeta, catalogBitColumn("is_identity")...)
	colMeta = append(colMeta, catalogIntColumn("max_length")...)
	colMeta = append(colMeta, catalogIntColumn("precision")...)
	colMeta = append(colMeta, catalogIntColumn("scale")...)

	var rows []byte
	for _, row := range s.columnRows {
		vals := catalogIntVal(row[0].(int32))
		vals = append(vals, catalogVarCharVal(row[1].(string))...)
		vals = append(vals, catalogVarCharVal(row[2].(string))...)
		vals = append(vals, catalogBitVal(row[3].(bool))...)
		vals = append(vals, catalogBitVal(row[4].(bool))...)
		vals = append(vals, catalogIntVal(row[5].(int32))...)
		vals = append(vals, catalogIntVal(row[6].(int32))...)
		vals = append(vals, catalogIntVal(row[7].(int32))...)
		rows = append(rows, catalogRowToken(vals)...)
	}
	return append(append(colMeta, rows...), catalogDoneBytes(tds.DoneFinal)...)
}

func (s *fakeCatalogServer) pkResultBytes() []byte {
	colMeta := catalogColMetaHeader(1)
	colMeta = append(colMeta, catalogVarCharColumn("name")...)

	var rows []byte
	for _, name := range s.pkRows {
		rows = append(rows, catalogRowToken(catalogVarCharVal(name))...)
	}
	return append(append(colMeta, rows...), catalogDoneBytes(tds.DoneFinal)...)
}

// --- wire helpers ---

func catalogColMetaHeader(count uint16) []byte {
	out := make([]byte, 0, 8)
	out = append(out, byte(tds.TokenColMetadata))
	lenField := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenField, count)
	return append(out, lenField...)
}

func catalogIntColumn(name string) []byte {
	entry := make([]byte, 0, 16)
	entry = append(entry, 0, 0, 0, 0) // UserType
	entry = append(entry, 0, 0)       // Flags
	entry = append(entry, 0x38)       // TypeInt
	entry = append(entry, catalogBVarChar(name)...)
	return entry
}

func catalogBitColumn(name string) []byte {
	entry := make([]byte, 0, 16)
	entry = append(entry, 0, 0, 0, 0)
	entry = append(entry, 0, 0)
	entry = append(entry, 0x32) // TypeBit
	entry = append(entry, catalogBVarChar(name)...)
	return entry
}

func catalogVarCharColumn(name string) []byte {
	entry := make([]byte, 0, 24)
	entry = append(entry, 0, 0, 0, 0)
	entry = append(entry, 0, 0)
	entry = append(entry, 0xA7) // TypeVarChar
	ln := make([]byte, 2)
	binary.LittleEndian.PutUint16(ln, 256)
	entry = append(entry, ln...)
	entry = append(entry, make([]byte, 5)...) // collation
	entry = append(entry, catalogBVarChar(name)...)
	return entry
}

func catalogIntVal(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func catalogBitVal(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func catalogVarCharVal(s string) []byte {
	b := make([]byte, 0, len(s)+2)
	ln := make([]byte, 2)
	binary.LittleEndian.PutUint16(ln, uint16(len(s)))
	b = append(b, ln...)
	b = append(b, []byte(s)...)
	return b
}

func catalogRowToken(vals []byte) []byte {
	return append([]byte{byte(tds.TokenRow)}, vals...)
}

func catalogBVarChar(s string) []byte {
	enc := tds.EncodeUTF16LE(s)
	return append([]byte{byte(len(enc) / 2)}, enc...)
}

func catalogLoginAckBytes() []byte {
	body := make([]byte, 0, 32)
	body = append(body, 1)
	tdsVer := make([]byte, 4)
	binary.LittleEndian.PutUint32(tdsVer, 0x74000004)
	body = append(body, tdsVer...)
	body = append(body, catalogBVarChar("mssql-extension-test")...)
	body = append(body, 1, 0, 0, 0)

	out := make([]byte, 0, len(body)+3)
	out = append(out, byte(tds.TokenLoginAck))
	lenField := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenField, uint16(len(body)))
	out = append(out, lenField...)
	out = append(out, body...)
	return out
}

func catalogDoneBytes(status uint16) []byte {
	out := make([]byte, 0, 16)
	out = append(out, byte(tds.TokenDone))
	s := make([]byte, 2)
	binary.LittleEndian.PutUint16(s, status)
	out = append(out, s...)
	out = append(out, 0, 0)
	out = append(out, make([]byte, 8)...)
	return out
}

func sendCatalogTDSMessage(c net.Conn, typ tds.PacketType, payload []byte) error {
	h := tds.Header{Type: typ, Status: tds.StatusEndOfMessage, Length: uint16(tds.HeaderSize + len(payload)), PacketID: 1}
	_, err := c.Write(append(h.Marshal(), payload...))
	return err
}

func readCatalogTDSMessage(c net.Conn) (tds.PacketType, []byte, error) {
	r := tds.NewReassembler()
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return 0, nil, err
		}
		typ, payload, ok, ferr := r.Feed(buf[:n])
		if ferr != nil {
			return 0, nil, ferr
		}
		if ok {
			return typ, payload, nil
		}
	}
}

func decodeCatalogBatchSQL(body []byte) string {
	if len(body) < 4 {
		return ""
	}
	totalLen := binary.LittleEndian.Uint32(body[:4])
	if int(totalLen) > len(body) || totalLen < 4 {
		return ""
	}
	sqlBytes := body[totalLen:]
	out := make([]rune, 0, len(sqlBytes)/2)
	for i := 0; i+1 < len(sqlBytes); i += 2 {
		out = append(out, rune(binary.LittleEndian.Uint16(sqlBytes[i:i+2])))
	}
	return string(out)
}

func newCatalogTestCache(t *testing.T, srv *fakeCatalogServer, port int) *Cache {
	t.Helper()
	factory := func(ctx context.Context) (*conn.Connection, error) {
		c := conn.New(conn.Options{
			Host:           "127.0.0.1",
			Port:           port,
			Username:       "sa",
			Password:       "pw",
			Database:       "master",
			ConnectTimeout: 2 * time.Second,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	p := mpool.New(mpool.Config{ConnectionLimit: 4, ConnectionCache: true}, factory, nil)
	t.Cleanup(func() { p.Close() })
	return New(Config{}, p, nil)
}

func TestCacheLoadsSchemasTablesAndColumns(t *testing.T) {
	srv, port := startFakeCatalogServer(t)
	defer srv.ln.Close()

	srv.schemaRows = [][]string{{"dbo"}, {"sales"}}
	srv.objectRows = [][4]any{
		{int32(101), "Orders", "U", int32(42)},
	}
	srv.columnRows = [][8]any{
		{int32(1), "OrderID", "int", false, true, int32(4), int32(10), int32(0)},
		{int32(2), "Total", "decimal", true, false, int32(9), int32(18), int32(2)},
	}
	srv.pkRows = []string{"OrderID"}

	c := newCatalogTestCache(t, srv, port)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.EnsureSchemasLoaded(ctx); err != nil {
		t.Fatalf("EnsureSchemasLoaded: %v", err)
	}
	schemas := c.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	if c.Schema("dbo") == nil {
		t.Fatalf("expected schema dbo to be present")
	}

	if err := c.EnsureTablesLoaded(ctx, "dbo"); err != nil {
		t.Fatalf("EnsureTablesLoaded: %v", err)
	}
	tbl := c.Table("dbo", "Orders")
	if tbl == nil {
		t.Fatalf("expected table dbo.Orders to be present")
	}
	if tbl.RowCount != 42 || tbl.IsView {
		t.Fatalf("unexpected table metadata: %+v", tbl)
	}

	if err := c.EnsureColumnsLoaded(ctx, "dbo", "Orders"); err != nil {
		t.Fatalf("EnsureColumnsLoaded: %v", err)
	}
	cols := tbl.ColumnsSnapshot()
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(cols))
	}
	if cols[0].Name != "OrderID" || !cols[0].IsIdentity {
		t.Fatalf("unexpected first column: %+v", cols[0])
	}
	if len(tbl.PrimaryKey) != 1 || tbl.PrimaryKey[0] != "OrderID" {
		t.Fatalf("expected PK [OrderID], got %v", tbl.PrimaryKey)
	}

	// Concurrent EnsureColumnsLoaded calls must coalesce into one query.
	var wg sync.WaitGroup
	var errs int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.EnsureColumnsLoaded(ctx, "dbo", "Orders"); err != nil {
				atomic.AddInt32(&errs, 1)
			}
		}()
	}
	wg.Wait()
	if errs != 0 {
		t.Fatalf("expected no errors from concurrent EnsureColumnsLoaded, got %d", errs)
	}
}

func TestCacheInvalidationForcesReload(t *testing.T) {
	srv, port := startFakeCatalogServer(t)
	defer srv.ln.Close()

	srv.schemaRows = [][]string{{"dbo"}}
	srv.objectRows = [][4]any{{int32(1), "T", "U", int32(0)}}
	srv.columnRows = [][8]any{{int32(1), "c1", "int", false, false, int32(4), int32(10), int32(0)}}
	srv.pkRows = nil

	c := newCatalogTestCache(t, srv, port)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.EnsureTablesLoaded(ctx, "dbo"); err != nil {
		t.Fatalf("EnsureTablesLoaded: %v", err)
	}
	if n := srv.queryCount("tables"); n != 1 {
		t.Fatalf("expected 1 tables query, got %d", n)
	}

	// Second call must not re-query.
	if err := c.EnsureTablesLoaded(ctx, "dbo"); err != nil {
		t.Fatalf("EnsureTablesLoaded (cached): %v", err)
	}
	if n := srv.queryCount("tables"); n != 1 {
		t.Fatalf("expected cached EnsureTablesLoaded not to re-query, got %d", n)
	}

	c.InvalidateSchema("dbo")
	if err := c.EnsureTablesLoaded(ctx, "dbo"); err != nil {
		t.Fatalf("EnsureTablesLoaded (post-invalidate): %v", err)
	}
	if n := srv.queryCount("tables"); n != 2 {
		t.Fatalf("expected invalidation to force a reload, got %d queries", n)
	}

	if err := c.EnsureColumnsLoaded(ctx, "dbo", "T"); err != nil {
		t.Fatalf("EnsureColumnsLoaded: %v", err)
	}
	c.InvalidateTable("dbo", "T")
	if err := c.EnsureColumnsLoaded(ctx, "dbo", "T"); err != nil {
		t.Fatalf("EnsureColumnsLoaded (post-invalidate): %v", err)
	}
	if n := srv.queryCount("columns"); n != 2 {
		t.Fatalf("expected table invalidation to force a column reload, got %d", n)
	}

	c.InvalidateAll()
	if s := c.Schema("dbo"); s != nil {
		t.Fatalf("expected InvalidateAll to clear the schema map")
	}
}

func TestCacheTTLMarksTierStale(t *testing.T) {
	srv, port := startFakeCatalogServer(t)
	defer srv.ln.Close()
	srv.schemaRows = [][]string{{"dbo"}}

	factory := func(ctx context.Context) (*conn.Connection, error) {
		c := conn.New(conn.Options{Host: "127.0.0.1", Port: port, Username: "sa", Password: "pw", Database: "master", ConnectTimeout: 2 * time.Second})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	p := mpool.New(mpool.Config{ConnectionLimit: 2, ConnectionCache: true}, factory, nil)
	defer p.Close()

	c := New(Config{TTL: 20 * time.Millisecond}, p, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.EnsureSchemasLoaded(ctx); err != nil {
		t.Fatalf("EnsureSchemasLoaded: %v", err)
	}
	if n := srv.queryCount("schemas"); n != 1 {
		t.Fatalf("expected 1 schemas query, got %d", n)
	}

	time.Sleep(40 * time.Millisecond)
	if err := c.EnsureSchemasLoaded(ctx); err != nil {
		t.Fatalf("EnsureSchemasLoaded (post-TTL): %v", err)
	}
	if n := srv.queryCount("schemas"); n != 2 {
		t.Fatalf("expected TTL expiry to force a reload, got %d queries", n)
	}
}
