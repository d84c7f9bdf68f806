package pool

import (
	"context"
	"sync"
	"time"

	"github.com/yokha/redis-manager/internal/backend"
	"github.com/yokha/redis-manager/internal/logging"
)

// pending tracks URLs currently being initialized by AddNodePool, so
// concurrent callers for the same new URL converge on one attempt
// instead of racing N parallel initializations.
//
// Lives on Manager as a plain field rather than its own type; declared
// here since it is exercised exclusively by AddNodePool.
type pendingInit = map[string]*urlState

func (m *Manager) pendingMap() pendingInit {
	if m.pending == nil {
		m.pending = make(pendingInit)
	}
	return m.pending
}

// AddNodePool registers url with Config.ConnectionPoolsPerNodeAtStart
// permanent entries. Idempotent: a second call for an already-present
// URL returns immediately. Concurrent callers for a brand-new URL
// converge on a single initialization attempt.
func (m *Manager) AddNodePool(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	// An already-expired budget fails immediately, with the same kind a
	// timed-out wait would produce.
	if err := ctx.Err(); err != nil {
		return errorf(ErrNoHealthyPools, "pool: %s: add_node_pool budget already expired: %v", url, err)
	}
	deadline := time.Now().Add(timeout)

	for {
		if _, ok := m.getState(url); ok {
			return nil
		}

		m.globalMu.Lock()
		if _, ok := m.urls[url]; ok {
			m.globalMu.Unlock()
			return nil
		}
		st, isPending := m.pendingMap()[url]
		if !isPending {
			st = newURLState(url)
			m.pendingMap()[url] = st
			m.globalMu.Unlock()

			entries, err := m.createFloorEntries(ctx, url)
			if err == nil {
				st.mu.Lock()
				st.entries = entries
				st.mu.Unlock()

				m.globalMu.Lock()
				delete(m.pendingMap(), url)
				m.urls[url] = st
				m.globalMu.Unlock()

				st.mu.Lock()
				st.broadcast()
				st.mu.Unlock()
				m.emitPoolMetrics(url, entries)
				return nil
			}

			m.globalMu.Lock()
			delete(m.pendingMap(), url)
			m.globalMu.Unlock()
			st.mu.Lock()
			st.broadcast()
			st.mu.Unlock()

			remaining := time.Until(deadline)
			if remaining <= 0 {
				return err
			}
			wakeCh := st.waitCh()
			select {
			case <-wakeCh:
			case <-time.After(remaining):
				// A concurrent caller may have initialised the URL on a
				// fresh attempt this waiter was not subscribed to.
				if _, ok := m.getState(url); ok {
					return nil
				}
				return errorf(ErrNoHealthyPools, "pool: %s: add_node_pool timed out: %v", url, err)
			case <-ctx.Done():
				return errorf(ErrNoHealthyPools, "pool: %s: add_node_pool cancelled: %v", url, ctx.Err())
			}
			continue
		}
		wakeCh := st.waitCh()
		m.globalMu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errorf(ErrNoHealthyPools, "pool: %s: add_node_pool timed out waiting for concurrent init", url)
		}
		select {
		case <-wakeCh:
		case <-time.After(remaining):
			if _, ok := m.getState(url); ok {
				return nil
			}
			return errorf(ErrNoHealthyPools, "pool: %s: add_node_pool timed out waiting for concurrent init", url)
		case <-ctx.Done():
			return errorf(ErrNoHealthyPools, "pool: %s: add_node_pool cancelled: %v", url, ctx.Err())
		}
	}
}

// createFloorEntries creates Config.floor() entries in parallel, each
// with a 1-second ready budget, and waits for all of them. Any single
// failure fails the whole batch, closing whatever succeeded, so a URL
// is either fully initialised and registered or absent.
func (m *Manager) createFloorEntries(ctx context.Context, url string) ([]*PoolEntry, error) {
	floor := m.cfg.floor()
	entries := make([]*PoolEntry, floor)
	errs := make([]error, floor)

	var wg sync.WaitGroup
	for i := 0; i < floor; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := m.createEntry(ctx, url, 1*time.Second)
			entries[i] = e
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		for _, e := range entries {
			if e != nil {
				_ = e.close()
			}
		}
		return nil, firstErr
	}
	return entries, nil
}

// Lease is a scoped right to use one PoolEntry's client. Release must
// be called exactly once; it is safe to call more than once (later
// calls are no-ops) so callers can defer it unconditionally.
type Lease struct {
	id      string
	mgr     *Manager
	url     string
	entry   *PoolEntry
	started time.Time

	mu       sync.Mutex
	released bool
}

// ID returns the lease's correlation ID, usable to tie together
// "acquired"/"released" log lines for the same checkout.
func (l *Lease) ID() string { return l.id }

// Client returns the entry's current backend.ClientHandle. All backend
// commands are passed through opaquely; the manager never inspects or
// retries them.
func (l *Lease) Client() backend.ClientHandle { return l.entry.Client() }

// Release decrements the entry's active-call count and emits metrics.
// Infallible and idempotent. Release never closes the underlying
// entry; only cleanup and shutdown do that.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()
	logging.Op().Debug("lease released", "lease_id", l.id, "url", l.url, "held", time.Since(l.started))
	l.mgr.release(l.url, l.entry, l.id)
}

// Acquire selects (or grows) a PoolEntry for url and returns a scoped
// Lease. Fails with ErrUnknownURL if url was never registered via
// AddNodePool, or ErrNoHealthyPools if no healthy non-saturated entry
// could be obtained within timeout.
func (m *Manager) Acquire(ctx context.Context, url string, timeout time.Duration) (*Lease, error) {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, errorf(ErrNoHealthyPools, "pool: %s: acquire budget already expired: %v", url, err)
	}
	start := time.Now()
	deadline := start.Add(timeout)

	st, ok := m.getState(url)
	if !ok {
		return nil, errorf(ErrUnknownURL, "pool: %s: not registered", url)
	}

	for {
		if time.Now().After(deadline) {
			return nil, errorf(ErrNoHealthyPools, "pool: %s: acquire timed out", url)
		}

		st.mu.Lock()
		best := selectLeastLoaded(st.entries)
		if best != nil && best.ActiveCalls() < int64(m.cfg.MaxConnectionSize) {
			best.activeCalls.Add(1)
			best.touch()
			entriesSnapshot := append([]*PoolEntry(nil), st.entries...)
			st.mu.Unlock()
			m.emitPoolMetrics(url, entriesSnapshot)
			m.sink.ObserveConnectionLatency(url, time.Since(start))
			return m.newLease(url, best, start), nil
		}

		if best == nil {
			// No healthy entry at all: fail now rather than waiting out
			// the budget. The recovery loop will repair the URL in the
			// background; the caller retries.
			st.mu.Unlock()
			return nil, errorf(ErrNoHealthyPools, "pool: %s: no healthy entries", url)
		}

		// Saturated: attempt growth. createEntry blocks on I/O while
		// st.mu is held; that is the serialization point keeping the
		// growth decision to one caller per URL at a time.
		newEntry, gerr := m.createEntry(ctx, url, 1*time.Second)
		if gerr == nil {
			st.entries = append(st.entries, newEntry)
			newEntry.activeCalls.Add(1)
			newEntry.touch()
			entriesSnapshot := append([]*PoolEntry(nil), st.entries...)
			st.broadcast()
			st.mu.Unlock()
			m.emitPoolMetrics(url, entriesSnapshot)
			m.sink.ObserveConnectionLatency(url, time.Since(start))
			return m.newLease(url, newEntry, start), nil
		}

		// Growth failed: notify_all, then wait for the remaining budget
		// for another caller's release or a recovery to free capacity.
		st.broadcast()
		wakeCh := st.waitCh()
		st.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errorf(ErrNoHealthyPools, "pool: %s: acquire timed out", url)
		}
		select {
		case <-wakeCh:
		case <-time.After(remaining):
			return nil, errorf(ErrNoHealthyPools, "pool: %s: acquire timed out waiting for capacity", url)
		case <-ctx.Done():
			return nil, errorf(ErrNoHealthyPools, "pool: %s: acquire cancelled: %v", url, ctx.Err())
		}
	}
}

func (m *Manager) newLease(url string, entry *PoolEntry, start time.Time) *Lease {
	l := &Lease{id: newLeaseID(), mgr: m, url: url, entry: entry, started: start}
	logging.Op().Debug("lease acquired", "lease_id", l.id, "url", url, "wait", time.Since(start))
	return l
}

// release decrements entry's active-call count and emits metrics. A
// no-op if the entry is no longer present for url (e.g. after a
// targeted close).
func (m *Manager) release(url string, entry *PoolEntry, leaseID string) {
	m.globalMu.Lock()
	st, ok := m.urls[url]
	m.globalMu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	present := false
	for _, e := range st.entries {
		if e == entry {
			present = true
			break
		}
	}
	if present {
		entry.activeCalls.Add(-1)
		// Wake acquirers waiting out a saturated pool; the freed slot is
		// theirs to race for (the wait loop re-checks under st.mu).
		st.broadcast()
	}
	entriesSnapshot := append([]*PoolEntry(nil), st.entries...)
	st.mu.Unlock()

	if present {
		m.emitPoolMetrics(url, entriesSnapshot)
	}
}

func (m *Manager) emitPoolMetrics(url string, entries []*PoolEntry) {
	healthy, unhealthy, active, idle := 0, 0, 0, 0
	for _, e := range entries {
		if e.Healthy() {
			healthy++
		} else {
			unhealthy++
		}
		if e.ActiveCalls() == 0 {
			idle++
		}
		active += int(e.ActiveCalls())
	}
	m.sink.SetPoolSize(url, len(entries))
	m.sink.SetPoolHealthy(url, healthy)
	m.sink.SetPoolUnhealthy(url, unhealthy)
	m.sink.SetPoolActive(url, active)
	m.sink.SetPoolIdle(url, idle)
}
