// Package attach ties the pool, catalog, and transport layers together into
// a single handle the host opens once per configured SQL Server target.
package attach

import (
	"time"

	"github.com/hugr-lab/mssql-extension/log"
)

// Config holds every knob the host can set on an attachment: connection
// details, pool sizing, catalog cache TTL, and the DML/statistics tuning
// variables the design exposes. It follows the teacher's ClientOptions +
// DefaultOptions shape: one flat struct, one constructor with defaults, no
// nested "profile" objects.
type Config struct {
	// Connection target.
	Host     string
	Port     int
	Database string
	Username string
	Password string
	AppName  string

	ConnectTimeout time.Duration

	Encrypt               bool
	TLSInsecureSkipVerify bool
	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string

	// Pool tuning.
	ConnectionLimit   int
	ConnectionCache   bool
	ConnectionTimeout time.Duration
	IdleTimeout       time.Duration
	MinConnections    int
	AcquireTimeout    time.Duration
	LongIdleThreshold time.Duration

	// Catalog cache tuning.
	CatalogCacheTTL time.Duration

	// Bridge DML tuning.
	InsertBatchSize           int
	InsertMaxRowsPerStatement int
	InsertMaxSQLBytes         int
	InsertUseReturningOutput  bool
	DMLBatchSize              int
	DMLMaxParameters          int

	// Statistics tuning.
	StatisticsCacheTTL time.Duration
	EnableStatistics   bool
	StatisticsLevel    int
	StatisticsUseDBCC  bool

	Logger log.Logger
}

// DefaultConfig returns the configuration with the documented
// defaults applied. Connection fields (Host, Database, Username, Password)
// have no sensible default and are left zero.
func DefaultConfig() Config {
	return Config{
		AppName:        "mssql-extension",
		ConnectTimeout: 30 * time.Second,

		ConnectionLimit:   64,
		ConnectionCache:   true,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
		MinConnections:    0,
		AcquireTimeout:    30 * time.Second,
		LongIdleThreshold: 60 * time.Second,

		CatalogCacheTTL: 0,

		InsertBatchSize:           1000,
		InsertMaxRowsPerStatement: 1000,
		InsertMaxSQLBytes:         8388608,
		InsertUseReturningOutput:  true,
		DMLBatchSize:              500,
		DMLMaxParameters:          2000,

		StatisticsCacheTTL: 300 * time.Second,
		EnableStatistics:   true,
		StatisticsLevel:    0,
		StatisticsUseDBCC:  false,
	}
}

// withDefaults fills zero-valued fields left unset by ParseDSN with
// DefaultConfig's values, without disturbing fields the DSN did set.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AppName == "" {
		c.AppName = d.AppName
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ConnectionLimit == 0 {
		c.ConnectionLimit = d.ConnectionLimit
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.LongIdleThreshold == 0 {
		c.LongIdleThreshold = d.LongIdleThreshold
	}
	if c.InsertBatchSize == 0 {
		c.InsertBatchSize = d.InsertBatchSize
	}
	if c.InsertMaxRowsPerStatement == 0 {
		c.InsertMaxRowsPerStatement = d.InsertMaxRowsPerStatement
	}
	if c.InsertMaxSQLBytes == 0 {
		c.InsertMaxSQLBytes = d.InsertMaxSQLBytes
	}
	if c.DMLBatchSize == 0 {
		c.DMLBatchSize = d.DMLBatchSize
	}
	if c.DMLMaxParameters == 0 {
		c.DMLMaxParameters = d.DMLMaxParameters
	}
	if c.StatisticsCacheTTL == 0 {
		c.StatisticsCacheTTL = d.StatisticsCacheTTL
	}
	// ConnectionCache, InsertUseReturningOutput, EnableStatistics, and
	// MinConnections default to their DSN-parsed value, not a forced
	// true/false override: ParseDSN sets them from DefaultConfig already
	// when the DSN omits the parameter, so the zero value here is always
	// an explicit "off" rather than "unset".
	return c
}
