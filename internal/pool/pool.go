// Package pool implements the pool-of-pools lifecycle engine for a
// remote key/value store reached over TCP: the per-URL collection of
// connection pools, elastic growth under contention, floor-preserving
// idle shrinking, and background health recovery.
//
// # Design rationale
//
// Backend dial + readiness is not free — a caller holding a lease
// amortises that cost across many commands. A PoolEntry is returned to
// its URL's pool after each lease is released and is only removed when
// it is an elastic entry idle past MaxIdleTime or the whole URL is
// closed. An entry that fails a health check stays in the list, marked
// unhealthy, until a recovery attempt succeeds.
//
// # Pool topology
//
// One ordered list of PoolEntry is maintained per URL. The first Floor
// entries of each list are permanent (created by AddNodePool, never
// removed by cleanup); entries appended afterward by acquire-time
// growth are elastic (eligible for cleanup once idle).
//
// # Concurrency model
//
// Each URL has its own urlState, guarded by a mutex and a channel-based
// broadcast primitive used like a condition variable: a plain sync.Cond
// cannot be waited on with a timeout without a wakeup-loss race once
// the mutex is released, so waiters capture a generation channel while
// still holding the lock and select on it against a timer. Broadcast
// wakes every current waiter, race-free under a budget.
// A single global mutex guards the top-level url→state map and the
// pending-init map. Cross-URL traversals (cleanup, recovery, status,
// shutdown) hold it only to copy the list of URL states, and per-URL
// work (add, acquire, release) takes it only for map lookups and
// updates, never across backend I/O or a wait.
//
// # Invariants
//
//   - len(urlState.entries) >= Floor while the URL is registered.
//   - 0 <= PoolEntry.ActiveCalls() <= Config.MaxConnectionSize.
//   - sum(ActiveCalls) over a URL's entries equals its outstanding leases.
//   - Recovery never changes len(entries); only AddNodePool (initial) and
//     acquire-time growth append.
//   - Cleanup never removes an entry with index < Floor or ActiveCalls > 0.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yokha/redis-manager/internal/backend"
	"github.com/yokha/redis-manager/internal/logging"
	"github.com/yokha/redis-manager/internal/metrics"
)

// Config holds the manager's tunables. Immutable after construction.
type Config struct {
	MaxConnectionSize             int
	UseCluster                    bool
	StartupNodes                  []string
	PoolOptions                   backend.Options
	HealthCheckInterval           time.Duration
	CleanupInterval               time.Duration
	MaxIdleTime                   time.Duration
	ConnectionPoolsPerNodeAtStart int
	DefaultTimeout                time.Duration
}

func (c Config) floor() int {
	if c.ConnectionPoolsPerNodeAtStart <= 0 {
		return 1
	}
	return c.ConnectionPoolsPerNodeAtStart
}

// ClientFactory constructs a backend.ClientHandle. Production code uses
// backend.NewClientHandle; tests substitute a fake so the acquire/
// release/growth/cleanup/recovery state machine can be exercised
// without a live Redis server.
type ClientFactory func(url string, maxConnections int, useCluster bool, startupNodes []string, opts backend.Options) (backend.ClientHandle, error)

// urlState holds everything mutated under this URL's own lock: the
// entry list (cross-URL traversals read it through snapshot, which
// copies it under that lock) and the
// broadcast generation used by AddNodePool/Acquire to wait for a
// convergent init or growth attempt.
type urlState struct {
	url string

	mu      sync.Mutex
	entries []*PoolEntry

	wake atomic.Pointer[chan struct{}]
}

func newURLState(url string) *urlState {
	st := &urlState{url: url}
	ch := make(chan struct{})
	st.wake.Store(&ch)
	return st
}

// waitCh returns the current generation channel. Callers must capture
// it while still holding the lock under which they decided to wait
// (st.mu, or the global mutex for an AddNodePool caller waiting on a
// pending init), so a concurrent broadcast cannot be missed between
// "decide to wait" and "start waiting".
func (st *urlState) waitCh() <-chan struct{} {
	return *st.wake.Load()
}

// broadcast wakes every current waiter and starts a new generation.
// Must be called with st.mu held.
func (st *urlState) broadcast() {
	next := make(chan struct{})
	old := st.wake.Swap(&next)
	close(*old)
}

func (st *urlState) snapshot() []*PoolEntry {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*PoolEntry, len(st.entries))
	copy(out, st.entries)
	return out
}

// Manager maintains a mapping from URL to an ordered list of
// PoolEntry, runs the two background tasks, and implements the
// acquire/release protocol. The zero value is not usable; construct
// with New.
type Manager struct {
	cfg       Config
	sink      metrics.Sink
	newClient ClientFactory

	globalMu sync.Mutex
	urls     map[string]*urlState
	pending  pendingInit

	healthOnce sync.Once
	healthStop chan struct{}
	healthDone chan struct{}

	cleanupMu      sync.Mutex
	cleanupStop    chan struct{}
	cleanupDone    chan struct{}
	cleanupRunning bool
}

// New constructs a Manager and starts the health-recovery loop. The
// idle-cleanup loop does not start until StartCleanup is called.
func New(cfg Config, sink metrics.Sink, newClient ClientFactory) *Manager {
	if cfg.MaxConnectionSize <= 0 {
		cfg.MaxConnectionSize = 50
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 60 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 120 * time.Second
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 180 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if newClient == nil {
		newClient = backend.NewClientHandle
	}

	m := &Manager{
		cfg:        cfg,
		sink:       sink,
		newClient:  newClient,
		urls:       make(map[string]*urlState),
		healthStop: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
	go m.runHealthLoop()
	return m
}

func (m *Manager) getState(url string) (*urlState, bool) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	st, ok := m.urls[url]
	return st, ok
}

func newLeaseID() string { return uuid.New().String() }

func (m *Manager) createEntry(ctx context.Context, url string, budget time.Duration) (*PoolEntry, error) {
	client, err := m.newClient(url, m.cfg.MaxConnectionSize, m.cfg.UseCluster, m.cfg.StartupNodes, m.cfg.PoolOptions)
	if err != nil {
		return nil, errorf(ErrNoHealthyPools, "pool: %s: construct client: %v", url, err)
	}
	entry := newPoolEntry(url, client, m.sink)
	if _, err := entry.waitForReady(ctx, budget, 100*time.Millisecond, 10); err != nil {
		_ = client.Close()
		return nil, err
	}
	m.sink.IncConnectionsCreated(url)
	logging.Op().Info("pool entry ready", "url", url, "connection_duration", entry.ConnectionDuration())
	return entry, nil
}

// selectLeastLoaded picks the healthy entry with the minimum active
// call count, tie-broken by iteration order (first-encountered).
func selectLeastLoaded(entries []*PoolEntry) *PoolEntry {
	var best *PoolEntry
	for _, e := range entries {
		if !e.Healthy() {
			continue
		}
		if best == nil || e.ActiveCalls() < best.ActiveCalls() {
			best = e
		}
	}
	return best
}
