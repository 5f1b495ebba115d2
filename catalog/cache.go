// Package catalog implements the three-tier lazy metadata cache of
// the design: schemas, tables, and columns, each with its own load state,
// TTL staleness, and point invalidation, backed by queries against SQL
// Server's sys.* catalog views.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"golang.org/x/sync/singleflight"

	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/log"
	"github.com/hugr-lab/mssql-extension/pool"
	"github.com/hugr-lab/mssql-extension/tds"
)

// LoadState is a tier's lazy-load state.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
	Stale
)

func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "NotLoaded"
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	case Stale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// shardCount bounds the table-level mutex map to a fixed number of buckets
// instead of one mutex per table, since the number of tables discovered is
// unbounded. Shard selection is a stable xxhash of "schema.table".
const shardCount = 256

// Config configures a Cache's TTL and optional name filter.
type Config struct {
	// TTL is catalog_cache_ttl: 0 disables automatic refresh;
	// a positive duration converts a Loaded tier to Stale after it elapses.
	TTL time.Duration
	// NameFilter, if non-nil, restricts discovered schema/table names at
	// the query level (see filter.go), only for the pattern shapes
	// filterPredicate translates to SQL. BulkLoadAll's joined query does
	// not apply it.
	NameFilter *regexp.Regexp
}

// Cache is one attachment's three-tier catalog cache.
type Cache struct {
	cfg  Config
	pool *pool.Pool
	log  log.Logger

	mu              sync.RWMutex
	schemas         map[string]*Schema
	schemasState    LoadState
	schemasLoadedAt time.Time

	// columnShards bounds the per-table columns-loading critical section to a
	// fixed number of mutexes instead of one per table, since the number of
	// tables discovered is unbounded. The schemas/tables tiers use a real
	// per-object mutex (Cache.mu, Schema.mu) since schema and table counts
	// within one schema are small enough not to need sharding.
	columnShards [shardCount]sync.Mutex

	sfSchemas singleflight.Group
	sfTables  singleflight.Group
	sfColumns singleflight.Group
}

// New creates an empty Cache bound to pool.
func New(cfg Config, p *pool.Pool, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Cache{
		cfg:     cfg,
		pool:    p,
		log:     logger.WithFields(log.String("component", "catalog")),
		schemas: make(map[string]*Schema),
	}
}

func (c *Cache) columnShardMutex(schema, table string) *sync.Mutex {
	h := xxhash.Sum64String(schema + "." + table)
	return &c.columnShards[h%shardCount]
}

// query runs sql to completion against one pooled connection and returns the
// decoded columns and rows. Used by every discovery query in this package.
func (c *Cache) query(ctx context.Context, sql string) ([]tds.Column, [][]any, error) {
	cn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer c.pool.Release(cn)

	rs, err := cn.ExecuteBatch(ctx, sql)
	if err != nil {
		return nil, nil, err
	}

	var cols []tds.Column
	var rows [][]any
	for {
		ev, ok, err := rs.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		switch ev.Kind {
		case tds.EventColMetadata:
			cols = ev.Columns
		case tds.EventRow:
			rows = append(rows, ev.Row)
		case tds.EventError:
			return nil, nil, dberr.NewServerError(ev.SQLError.Message, ev.SQLError.Number, ev.SQLError.State, ev.SQLError.Class, ev.SQLError.ProcName, ev.SQLError.LineNumber)
		}
	}
	return cols, rows, nil
}

// isStale reports whether a Loaded tier has exceeded the configured TTL.
func (c *Cache) isStale(loadedAt time.Time) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	return time.Since(loadedAt) > c.cfg.TTL
}

func quoteIdent(name string) string {
	return "[" + escapeBracket(name) + "]"
}

func escapeBracket(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		out = append(out, name[i])
		if name[i] == ']' {
			out = append(out, ']')
		}
	}
	return string(out)
}

func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		out = append(out, s[i])
		if s[i] == '\'' {
			out = append(out, '\'')
		}
	}
	out = append(out, '\'')
	return string(out)
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int16:
		return n != 0
	case int32:
		return n != 0
	case int64:
		return n != 0
	default:
		return false
	}
}
