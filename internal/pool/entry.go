package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/yokha/redis-manager/internal/backend"
	"github.com/yokha/redis-manager/internal/logging"
	"github.com/yokha/redis-manager/internal/metrics"
)

// PoolEntry wraps one backend.ClientHandle with lifecycle state: a
// health flag, an in-flight call counter, a last-used timestamp, and a
// circuit breaker guarding its ping attempts.
//
// activeCalls and lastUsed are atomics because they are mutated under
// the URL lock (acquire and release) but read without it by metrics
// emission and status snapshots; an atomic sidesteps the torn-read
// hazard of those unlocked readers.
// healthStatus and the client pointer are guarded together by mu so a
// recovery swap is atomic with respect to readers of either.
type PoolEntry struct {
	url string

	mu                 sync.RWMutex
	client             backend.ClientHandle
	healthStatus       bool
	connectionDuration time.Duration
	breaker            *gobreaker.CircuitBreaker

	activeCalls atomic.Int64
	lastUsedNs  atomic.Int64

	sink metrics.Sink
}

func newPoolEntry(url string, client backend.ClientHandle, sink metrics.Sink) *PoolEntry {
	e := &PoolEntry{url: url, client: client, sink: sink}
	e.touch()
	e.breaker = newPingBreaker(url, sink)
	return e
}

// newPingBreaker builds the breaker guarding one client's pings.
// Recovery installs a fresh one alongside the replacement client, so
// an open breaker from the dead client cannot veto the new one.
func newPingBreaker(url string, sink metrics.Sink) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Op().Warn("pool entry circuit breaker state change", "url", name, "from", from.String(), "to", to.String())
			if sink != nil {
				sink.SetCircuitBreakerState(name, int(to))
				sink.IncCircuitBreakerTrip(name, to.String())
			}
		},
	})
}

// Healthy reports the entry's current health flag.
func (e *PoolEntry) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthStatus
}

// ActiveCalls returns the current in-flight count.
func (e *PoolEntry) ActiveCalls() int64 { return e.activeCalls.Load() }

// LastUsed returns the timestamp of the most recent successful acquire
// (or creation time, before any acquire has happened).
func (e *PoolEntry) LastUsed() time.Time {
	return time.Unix(0, e.lastUsedNs.Load())
}

// ConnectionDuration returns the time from first readiness attempt to
// first success. Observational only.
func (e *PoolEntry) ConnectionDuration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connectionDuration
}

// Client returns the entry's current ClientHandle. Safe to call
// concurrently with a recovery swap.
func (e *PoolEntry) Client() backend.ClientHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

func (e *PoolEntry) touch() {
	e.lastUsedNs.Store(time.Now().UnixNano())
}

// waitForReady repeatedly pings the entry's client, backing off by
// step·2^attempt between attempts. attempt starts at 1, so the first
// sleep is already 2·step. It returns once ping succeeds, or fails
// with ErrNoHealthyPools when either the wall-clock budget or
// maxRetries is exhausted. It never sets healthStatus to true on
// failure.
func (e *PoolEntry) waitForReady(ctx context.Context, budget time.Duration, step time.Duration, maxRetries int) (time.Duration, error) {
	deadline := time.Now().Add(budget)
	start := time.Now()
	for attempt := 1; ; attempt++ {
		pingErr := e.ping(ctx)
		if pingErr == nil {
			elapsed := time.Since(start)
			e.mu.Lock()
			e.healthStatus = true
			e.connectionDuration = elapsed
			e.mu.Unlock()
			return elapsed, nil
		}

		e.sink.IncFailedConnections(e.url)
		logging.Op().Debug("pool entry readiness attempt failed", "url", e.url, "attempt", attempt, "error", pingErr)

		if attempt >= maxRetries {
			return 0, errorf(ErrNoHealthyPools, "pool: %s: readiness exhausted after %d attempts: %v", e.url, attempt, pingErr)
		}
		sleep := step * time.Duration(1<<uint(attempt))
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, errorf(ErrNoHealthyPools, "pool: %s: readiness budget exhausted: %v", e.url, pingErr)
		}
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
		if time.Now().After(deadline) {
			return 0, errorf(ErrNoHealthyPools, "pool: %s: readiness budget exhausted: %v", e.url, pingErr)
		}
	}
}

// healthCheck performs one ping attempt and updates healthStatus
// accordingly. It never reports an error: failures are repaired by the
// recovery loop on its next tick.
func (e *PoolEntry) healthCheck(ctx context.Context) {
	err := e.ping(ctx)
	e.mu.Lock()
	e.healthStatus = err == nil
	e.mu.Unlock()
	if err != nil {
		logging.Op().Debug("pool entry health check failed", "url", e.url, "error", err)
	}
}

func (e *PoolEntry) ping(ctx context.Context) error {
	e.mu.RLock()
	breaker, client := e.breaker, e.client
	e.mu.RUnlock()
	_, err := breaker.Execute(func() (any, error) {
		return nil, client.Ping(ctx)
	})
	return err
}

// adoptClient replaces the entry's inner ClientHandle and marks the
// entry healthy in one critical section, so readers of either field
// never observe a half-applied recovery. Used only by the recovery
// loop; the entry's identity is preserved, so outstanding leases keep
// referencing the same *PoolEntry.
func (e *PoolEntry) adoptClient(c backend.ClientHandle) backend.ClientHandle {
	e.mu.Lock()
	old := e.client
	e.client = c
	e.healthStatus = true
	e.breaker = newPingBreaker(e.url, e.sink)
	e.mu.Unlock()
	return old
}

// close releases the inner client and marks the entry unhealthy.
// Idempotent: backend.ClientHandle.Close is documented idempotent.
func (e *PoolEntry) close() error {
	e.mu.Lock()
	client := e.client
	e.healthStatus = false
	e.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
