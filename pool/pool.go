// Package pool implements the per-attachment connection pool and
// transaction-pinning layer of the design: a bounded set of conn.Connection
// sockets, idle eviction, long-idle ping validation, and a background
// sweeper that maintains a configured minimum.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/log"
)

// Config holds the per-attachment knobs of the design, defaults shown
// there.
type Config struct {
	ConnectionLimit   int
	ConnectionCache   bool
	ConnectionTimeout time.Duration
	IdleTimeout       time.Duration
	MinConnections    int
	AcquireTimeout    time.Duration
	LongIdleThreshold time.Duration

	SweepInterval time.Duration
}

// WithDefaults fills zero fields with the defaults.
func (c Config) WithDefaults() Config {
	if c.ConnectionLimit <= 0 {
		c.ConnectionLimit = 64
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 300 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.LongIdleThreshold <= 0 {
		c.LongIdleThreshold = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.IdleTimeout / 4
		if c.SweepInterval <= 0 {
			c.SweepInterval = time.Second
		}
	}
	// MinConnections and ConnectionCache default to their zero values (0,
	// false) — false means "every acquire creates; release
	// closes", so it must not be silently upgraded to true here.
	return c
}

// Stats is a snapshot of pool counters, returned to the host by the
// pool_stats diagnostic function.
type Stats struct {
	Active   int
	Idle     int
	Total    int
	Hits     int64
	Misses   int64
	Waits    int64
	Timeouts int64
}

type idleEntry struct {
	conn   *conn.Connection
	idleAt time.Time
}

// Pool is a bounded set of conn.Connection sockets for one attachment.
// Acquire/Release follow the try_pop_idle / create / wait
// sequence; a background sweeper enforces idle_timeout while keeping
// min_connections alive.
type Pool struct {
	cfg     Config
	factory func(ctx context.Context) (*conn.Connection, error)
	log     log.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	idle   *list.List // of *idleEntry, front = most recently released
	total  int
	closed bool

	hits, misses, waits, timeouts int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool. factory dials and authenticates one new connection;
// it is called with the caller's context so a connect deadline set there
// bounds the dial.
func New(cfg Config, factory func(ctx context.Context) (*conn.Connection, error), logger log.Logger) *Pool {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	p := &Pool{
		cfg:     cfg.WithDefaults(),
		factory: factory,
		log:     logger.WithFields(log.String("component", "pool")),
		idle:    list.New(),
		stopCh:  make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// Acquire implements the acquire algorithm: try_pop_idle
// (skipping connections past long_idle_threshold without a successful
// ping), else create when under the limit, else wait for a release or the
// acquire deadline.
func (p *Pool) Acquire(ctx context.Context) (*conn.Connection, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, dberr.NewBadConfigurationError("pool", "pool is closed")
	}

	for {
		if p.cfg.ConnectionCache {
			if c, ok := p.tryPopIdleLocked(ctx); ok {
				p.hits++
				return c, nil
			}
		}

		if p.total < p.cfg.ConnectionLimit {
			p.total++
			p.mu.Unlock()
			c, err := p.dial(ctx)
			p.mu.Lock()
			if err != nil {
				p.total--
				p.cond.Broadcast()
				return nil, err
			}
			p.misses++
			return c, nil
		}

		p.waits++
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.timeouts++
			return nil, dberr.NewAcquireTimeoutError(time.Since(start))
		}

		woke := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		go func() { p.cond.Wait(); close(woke) }()
		<-woke
		timer.Stop()

		if p.closed {
			return nil, dberr.NewBadConfigurationError("pool", "pool is closed")
		}
		if time.Now().After(deadline) {
			p.timeouts++
			return nil, dberr.NewAcquireTimeoutError(time.Since(start))
		}
	}
}

// tryPopIdleLocked pops idle connections front-to-back, pinging (and
// discarding on failure) any past long_idle_threshold, until it finds a
// usable one or the idle list is empty. Caller holds p.mu.
func (p *Pool) tryPopIdleLocked(ctx context.Context) (*conn.Connection, bool) {
	for {
		el := p.idle.Front()
		if el == nil {
			return nil, false
		}
		p.idle.Remove(el)
		entry := el.Value.(*idleEntry)

		if time.Since(entry.idleAt) > p.cfg.LongIdleThreshold {
			p.mu.Unlock()
			err := entry.conn.Ping(ctx)
			p.mu.Lock()
			if err != nil {
				p.total--
				_ = entry.conn.Close()
				p.log.Debug("discarding long-idle connection that failed ping")
				continue
			}
		}
		return entry.conn, true
	}
}

func (p *Pool) dial(ctx context.Context) (*conn.Connection, error) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		defer cancel()
	}
	return p.factory(dialCtx)
}

// Release returns a connection to the pool. It validates the connection is
// Idle before pooling it; anything else (still Executing, or Disconnected
// after a wire failure) is closed instead. When connection_cache is false,
// every release closes regardless of state.
func (p *Pool) Release(c *conn.Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if p.closed || !p.cfg.ConnectionCache || c.State() != conn.Idle {
		p.total--
		p.mu.Unlock()
		_ = c.Close()
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}

	p.idle.PushFront(&idleEntry{conn: c, idleAt: time.Now()})
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Stats returns a snapshot of pool counters for the pool_stats diagnostic
// function.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:   p.total - p.idle.Len(),
		Idle:     p.idle.Len(),
		Total:    p.total,
		Hits:     p.hits,
		Misses:   p.misses,
		Waits:    p.waits,
		Timeouts: p.timeouts,
	}
}

// Close closes every idle connection and stops the sweeper. Connections
// currently acquired are closed by their owner's Release once returned; any
// further Acquire/Release fails or closes outright.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for el := p.idle.Front(); el != nil; el = p.idle.Front() {
		p.idle.Remove(el)
		entry := el.Value.(*idleEntry)
		_ = entry.conn.Close()
		p.total--
	}
	return nil
}

// sweepLoop periodically closes idle connections past idle_timeout while
// keeping min_connections alive, matching the background
// sweeper.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

func (p *Pool) sweepOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var keep []*idleEntry
	for el := p.idle.Back(); el != nil; el = p.idle.Back() {
		p.idle.Remove(el)
		entry := el.Value.(*idleEntry)
		if p.total > p.cfg.MinConnections && now.Sub(entry.idleAt) > p.cfg.IdleTimeout {
			p.total--
			_ = entry.conn.Close()
			p.log.Debug("sweeper closed idle connection", log.Duration("idleFor", now.Sub(entry.idleAt)))
			continue
		}
		keep = append(keep, entry)
	}
	for i := len(keep) - 1; i >= 0; i-- {
		p.idle.PushBack(keep[i])
	}
}

// String renders a Config for diagnostics/logging.
func (c Config) String() string {
	return fmt.Sprintf("limit=%d cache=%v connectTimeout=%s idleTimeout=%s min=%d acquireTimeout=%s longIdle=%s",
		c.ConnectionLimit, c.ConnectionCache, c.ConnectionTimeout, c.IdleTimeout, c.MinConnections, c.AcquireTimeout, c.LongIdleThreshold)
}
