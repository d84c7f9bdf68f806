// Package metrics defines the labelled metrics sink the pool manager
// reports to, and a Prometheus-backed implementation.
package metrics

import "time"

// Sink is a push-style counter/gauge/histogram API labelled by URL.
// pool.Manager depends only on this interface so it can be exercised
// in tests with a no-op or recording fake.
type Sink interface {
	SetPoolSize(url string, size int)
	SetPoolActive(url string, active int)
	SetPoolIdle(url string, idle int)
	SetPoolHealthy(url string, healthy int)
	SetPoolUnhealthy(url string, unhealthy int)

	IncConnectionsCreated(url string)
	IncFailedConnections(url string)
	IncIdleCleanupEvents(url string)

	ObserveConnectionLatency(url string, d time.Duration)

	SetCircuitBreakerState(url string, state int)
	IncCircuitBreakerTrip(url, toState string)
}

// NopSink discards every observation. Useful as the default when the
// caller doesn't wire a real sink, and in unit tests that don't care
// about metrics.
type NopSink struct{}

func (NopSink) SetPoolSize(string, int)                        {}
func (NopSink) SetPoolActive(string, int)                      {}
func (NopSink) SetPoolIdle(string, int)                        {}
func (NopSink) SetPoolHealthy(string, int)                     {}
func (NopSink) SetPoolUnhealthy(string, int)                   {}
func (NopSink) IncConnectionsCreated(string)                   {}
func (NopSink) IncFailedConnections(string)                    {}
func (NopSink) IncIdleCleanupEvents(string)                    {}
func (NopSink) ObserveConnectionLatency(string, time.Duration) {}
func (NopSink) SetCircuitBreakerState(string, int)             {}
func (NopSink) IncCircuitBreakerTrip(string, string)           {}
