// Package hostiface defines the interfaces the host analytical engine's own
// subsystems satisfy so this module can call back into them without
// depending on their implementations: the host's secret-manager subsystem
// (a named-credential lookup), the host engine's vector-oriented result
// sink, and the abstract table/view entry the catalog hands the host
// planner.
package hostiface

import "context"

// SecretResolver is the host's secret-manager subsystem, consumed as a
// named-credential lookup. A secret name resolves to a connection string
// the rest of this module can feed to attach.ParseDSN.
type SecretResolver interface {
	Resolve(ctx context.Context, secretName string) (dsn string, err error)
}

// VectorSink is the host engine's vector-oriented execution pipeline,
// consumed as an interface only. A scan operator pushes
// decoded rows to it one chunk at a time; the sink owns the host's
// fixed-size column buffers and their layout.
type VectorSink interface {
	// WriteChunk delivers one batch of decoded rows for the given column
	// set. Row values use the Go types tds.HostKind maps to (int32/int64,
	// string, []byte, time.Time, uuid.UUID, tds.Decimal, ...).
	WriteChunk(ctx context.Context, columns []string, rows [][]any) error
}
