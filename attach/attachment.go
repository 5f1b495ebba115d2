package attach

import (
	"context"
	"fmt"

	"github.com/hugr-lab/mssql-extension/catalog"
	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/log"
	"github.com/hugr-lab/mssql-extension/pool"
)

// Attachment is one configured SQL Server target: a connection pool, a
// catalog cache, and the resolved Config both were built from. The host
// opens one Attachment per target and keeps it for the lifetime of the
// attached database.
type Attachment struct {
	cfg     Config
	pool    *pool.Pool
	catalog *catalog.Cache
	log     log.Logger
}

// Open parses dsn and builds an Attachment: a dial factory bound to the
// resolved connection options, a pool sized from the DSN's pool knobs, and
// a catalog cache sized from its TTL knob. Opening does not itself acquire
// a connection; the pool dials lazily on first Acquire.
func Open(dsn string) (*Attachment, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return OpenConfig(cfg)
}

// OpenConfig is Open without DSN parsing, for hosts that already hold a
// structured Config (e.g. built from its own configuration file format).
func OpenConfig(cfg Config) (*Attachment, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	connOpts := conn.Options{
		Host:                  cfg.Host,
		Port:                  cfg.Port,
		Database:              cfg.Database,
		Username:              cfg.Username,
		Password:              cfg.Password,
		AppName:               cfg.AppName,
		ConnectTimeout:        cfg.ConnectTimeout,
		Encrypt:               cfg.Encrypt,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		TLSCAFile:             cfg.TLSCAFile,
		TLSCertFile:           cfg.TLSCertFile,
		TLSKeyFile:            cfg.TLSKeyFile,
		Logger:                logger,
	}

	factory := func(ctx context.Context) (*conn.Connection, error) {
		c := conn.New(connOpts)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	poolCfg := pool.Config{
		ConnectionLimit:   cfg.ConnectionLimit,
		ConnectionCache:   cfg.ConnectionCache,
		ConnectionTimeout: cfg.ConnectionTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MinConnections:    cfg.MinConnections,
		AcquireTimeout:    cfg.AcquireTimeout,
		LongIdleThreshold: cfg.LongIdleThreshold,
	}.WithDefaults()

	p := pool.New(poolCfg, factory, logger)

	cat := catalog.New(catalog.Config{TTL: cfg.CatalogCacheTTL}, p, logger)

	return &Attachment{
		cfg:     cfg,
		pool:    p,
		catalog: cat,
		log:     logger,
	}, nil
}

// Pool returns the attachment's connection pool.
func (a *Attachment) Pool() *pool.Pool { return a.pool }

// Catalog returns the attachment's catalog cache.
func (a *Attachment) Catalog() *catalog.Cache { return a.catalog }

// Config returns the resolved configuration the attachment was opened
// with, defaults included.
func (a *Attachment) Config() Config { return a.cfg }

// BeginTransaction pins a connection for a host transaction (the
// pinning model): the returned *pool.Transaction owns the connection until
// Commit, Rollback, or Abandon releases it back to the pool.
func (a *Attachment) BeginTransaction() *pool.Transaction {
	return pool.NewTransaction(a.pool, a.log)
}

// Ping acquires a connection, round-trips a no-op batch, and releases it.
// Used by the host's diagnostic "ping" entry point.
func (a *Attachment) Ping(ctx context.Context) error {
	c, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("attach: ping: %w", err)
	}
	defer a.pool.Release(c)
	return c.Ping(ctx)
}

// Close closes the connection pool, terminating every idle connection and
// preventing further Acquire calls. In-flight acquires fail once closed.
func (a *Attachment) Close() error {
	return a.pool.Close()
}
