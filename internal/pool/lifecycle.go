package pool

import (
	"context"
	"time"

	"github.com/yokha/redis-manager/internal/logging"
)

// runHealthLoop drives the periodic health-recovery task. Started
// automatically by New; stopped by CloseAllPools.
func (m *Manager) runHealthLoop() {
	defer close(m.healthDone)
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.healthStop:
			return
		case <-ticker.C:
			m.healthTick(context.Background())
		}
	}
}

// healthTick scans every entry of every URL: one ping each, then a
// replacement attempt for any entry that remains unhealthy. Entries are
// collected under the global lock; pings and replacement dials happen
// outside it so a slow backend cannot stall acquire/release traffic on
// other URLs.
func (m *Manager) healthTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in health check", "panic", r)
		}
	}()

	m.globalMu.Lock()
	states := make([]*urlState, 0, len(m.urls))
	for _, st := range m.urls {
		states = append(states, st)
	}
	m.globalMu.Unlock()

	for _, st := range states {
		entries := st.snapshot()
		recovered := false
		for _, e := range entries {
			e.healthCheck(ctx)
			if e.Healthy() {
				continue
			}
			logging.Op().Warn("unhealthy pool entry, attempting recovery", "url", st.url)
			if m.recoverEntry(ctx, st.url, e) {
				recovered = true
			}
		}
		m.emitPoolMetrics(st.url, entries)
		if recovered {
			// Waiters parked in Acquire may now find a healthy entry.
			st.mu.Lock()
			st.broadcast()
			st.mu.Unlock()
		}
	}
}

// recoverEntry dials a fresh client for url and, once it passes
// readiness, swaps it into e — the entry's identity is preserved, so
// outstanding leases keep working and the next command issued through
// the swapped client reconnects transparently. On failure the entry
// stays unhealthy and the next tick retries. Never grows or shrinks
// the entry list.
func (m *Manager) recoverEntry(ctx context.Context, url string, e *PoolEntry) bool {
	log := logging.WithURL(url)
	client, err := m.newClient(url, m.cfg.MaxConnectionSize, m.cfg.UseCluster, m.cfg.StartupNodes, m.cfg.PoolOptions)
	if err != nil {
		log.Warn("recovery dial failed", "error", err)
		return false
	}
	probe := newPoolEntry(url, client, m.sink)
	if _, err := probe.waitForReady(ctx, 5*time.Second, 1*time.Second, 3); err != nil {
		_ = client.Close()
		log.Warn("recovery readiness failed", "error", err)
		return false
	}

	old := e.adoptClient(client)
	if old != nil {
		_ = old.Close()
	}
	m.sink.IncConnectionsCreated(url)
	log.Info("pool entry recovered")
	return true
}

// HealthCheckRunning reports whether the health-recovery loop is
// still active.
func (m *Manager) HealthCheckRunning() bool {
	select {
	case <-m.healthDone:
		return false
	default:
		return true
	}
}

// CleanupRunning reports whether the idle-cleanup loop is active.
func (m *Manager) CleanupRunning() bool {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	return m.cleanupRunning
}

// StartCleanup launches the idle-cleanup loop. Unlike the health loop
// it only runs when explicitly started. Idempotent.
func (m *Manager) StartCleanup() {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	if m.cleanupRunning {
		return
	}
	m.cleanupRunning = true
	m.cleanupStop = make(chan struct{})
	m.cleanupDone = make(chan struct{})
	go m.runCleanupLoop(m.cleanupStop, m.cleanupDone)
}

// StopCleanup signals the cleanup loop to exit and waits for it. A
// no-op when the loop was never started. Callers tearing the manager
// down call this before CloseAllPools.
func (m *Manager) StopCleanup() {
	m.cleanupMu.Lock()
	if !m.cleanupRunning {
		m.cleanupMu.Unlock()
		return
	}
	m.cleanupRunning = false
	stop, done := m.cleanupStop, m.cleanupDone
	m.cleanupMu.Unlock()

	close(stop)
	<-done
}

func (m *Manager) runCleanupLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.cleanupTick()
		}
	}
}

// cleanupTick evicts elastic entries (index >= floor) that have no
// in-flight calls and have been idle past MaxIdleTime. The first floor
// entries of each URL are permanent and never touched, so the per-URL
// minimum is preserved by construction.
func (m *Manager) cleanupTick() {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in idle cleanup", "panic", r)
		}
	}()

	now := time.Now()
	floor := m.cfg.floor()

	m.globalMu.Lock()
	states := make([]*urlState, 0, len(m.urls))
	for _, st := range m.urls {
		states = append(states, st)
	}
	m.globalMu.Unlock()

	for _, st := range states {
		var evicted []*PoolEntry

		st.mu.Lock()
		kept := make([]*PoolEntry, 0, len(st.entries))
		for i, e := range st.entries {
			if i < floor {
				kept = append(kept, e)
				continue
			}
			if e.ActiveCalls() == 0 && now.Sub(e.LastUsed()) > m.cfg.MaxIdleTime {
				evicted = append(evicted, e)
				continue
			}
			kept = append(kept, e)
		}
		st.entries = kept
		snapshot := append([]*PoolEntry(nil), kept...)
		st.mu.Unlock()

		// Close outside the lock — Close blocks on transport teardown.
		for _, e := range evicted {
			idle := now.Sub(e.LastUsed())
			if err := e.close(); err != nil {
				logging.Op().Warn("idle entry close failed", "url", st.url, "error", err)
			}
			m.sink.IncIdleCleanupEvents(st.url)
			logging.Op().Info("idle pool entry evicted", "url", st.url, "idle", idle.Round(time.Second).String())
		}
		if len(evicted) > 0 {
			m.emitPoolMetrics(st.url, snapshot)
		}
	}
}
