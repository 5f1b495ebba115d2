// Package diag implements the diagnostic entry points: the
// table/scalar functions the host exposes for operational introspection
// (open/close/ping, pool_stats, exec, scan, preload_catalog, refresh_cache).
// Unlike the bridge package, diag talks to whole attachments rather than
// individual tables — it is the thin surface a host admin console or health
// check calls directly, generalized to a multi-attachment, handle-based
// model.
package diag

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hugr-lab/mssql-extension/attach"
	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/hostiface"
	"github.com/hugr-lab/mssql-extension/pool"
)

// Registry resolves an attachment name to its live *attach.Attachment, for
// the diagnostic functions that operate on an already-open attachment
// (pool_stats, exec, scan, preload_catalog, refresh_cache). A nil/empty name
// resolves to the host's default attachment. The host owns the registry;
// this package only consumes it.
type Registry interface {
	Lookup(name string) (*attach.Attachment, error)
	Default() (*attach.Attachment, error)
}

// Handle identifies one diagnostic connection opened via Manager.Open. It is
// a random uuid.UUID rather than a sequence counter, matching this module's
// other uses of google/uuid (tds UNIQUEIDENTIFIER decode, the PRELOGIN
// activity id). Handles live only in the Manager's in-memory map and do not
// survive a process restart.
type Handle = uuid.UUID

// Manager implements the diagnostic entry points: open, close, ping,
// pool_stats, exec, scan, preload_catalog, and refresh_cache. It is safe
// for concurrent use.
type Manager struct {
	secrets  hostiface.SecretResolver
	registry Registry

	mu      sync.Mutex
	handles map[Handle]*attach.Attachment
}

// NewManager creates a Manager. secrets resolves the secret names "open"
// accepts into DSNs; registry resolves attachment names for the other
// entry points.
func NewManager(secrets hostiface.SecretResolver, registry Registry) *Manager {
	return &Manager{
		secrets:  secrets,
		registry: registry,
		handles:  make(map[Handle]*attach.Attachment),
	}
}

// Open is the "open" diagnostic function: it resolves secretName through
// the host's secret manager and opens a dedicated attachment for it,
// independent of any attachment the registry already tracks. The returned
// handle must eventually be passed to Close.
func (m *Manager) Open(ctx context.Context, secretName string) (Handle, error) {
	dsn, err := m.secrets.Resolve(ctx, secretName)
	if err != nil {
		return Handle{}, fmt.Errorf("diag: resolve secret %q: %w", secretName, err)
	}
	a, err := attach.Open(dsn)
	if err != nil {
		return Handle{}, err
	}

	h := uuid.New()
	m.mu.Lock()
	m.handles[h] = a
	m.mu.Unlock()
	return h, nil
}

// Close is the "close" diagnostic function: it closes the handle's
// attachment and forgets the handle. Returns false for an unknown handle
// rather than an error, matching the bool return.
func (m *Manager) Close(handle Handle) (bool, error) {
	m.mu.Lock()
	a, ok := m.handles[handle]
	if ok {
		delete(m.handles, handle)
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := a.Close(); err != nil {
		return false, err
	}
	return true, nil
}

// Ping is the "ping" diagnostic function: a liveness check against the
// handle's attachment.
func (m *Manager) Ping(ctx context.Context, handle Handle) (bool, error) {
	a, err := m.lookupHandle(handle)
	if err != nil {
		return false, err
	}
	if err := a.Ping(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) lookupHandle(handle Handle) (*attach.Attachment, error) {
	m.mu.Lock()
	a, ok := m.handles[handle]
	m.mu.Unlock()
	if !ok {
		return nil, dberr.NewBadConfigurationError("handle", "unknown diagnostic connection handle")
	}
	return a, nil
}

// resolveAttachment implements the shared "attachment name or null"
// convention used by pool_stats/exec/scan/preload_catalog/refresh_cache.
func (m *Manager) resolveAttachment(name string) (*attach.Attachment, error) {
	if name == "" {
		return m.registry.Default()
	}
	return m.registry.Lookup(name)
}

// PoolStats is the "pool_stats" diagnostic function: live pool counters for
// the named attachment, or the default attachment if name is empty.
func (m *Manager) PoolStats(name string) (pool.Stats, error) {
	a, err := m.resolveAttachment(name)
	if err != nil {
		return pool.Stats{}, err
	}
	return a.Pool().Stats(), nil
}
