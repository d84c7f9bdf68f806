package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NameFromEnv returns the environment override for a metric name, or def
// when unset — grounded in the original's METRIC_NAMES dict, which reads
// each metric's name from an env var with a hard-coded default.
func NameFromEnv(envVar, def string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

// PrometheusSink is the default Sink implementation, registering the
// pool gauges, counters, and latency histogram on a private registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	poolSize      *prometheus.GaugeVec
	poolActive    *prometheus.GaugeVec
	poolIdle      *prometheus.GaugeVec
	poolHealthy   *prometheus.GaugeVec
	poolUnhealthy *prometheus.GaugeVec

	connectionsCreated *prometheus.CounterVec
	failedConnections  *prometheus.CounterVec
	idleCleanupEvents  *prometheus.CounterVec

	connectionLatency *prometheus.HistogramVec

	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec
}

// NewPrometheusSink creates and registers a PrometheusSink under namespace.
// The pool metric names are resolved through NameFromEnv so operators can
// rename them without a code change, matching the original's METRIC_NAMES
// table; the two circuit-breaker metrics use fixed names.
func NewPrometheusSink(namespace string) *PrometheusSink {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	s := &PrometheusSink{
		registry: registry,
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_POOL_SIZE_METRIC", "pool_size"),
			Help:      "Total number of connection pools for a URL",
		}, []string{"url"}),
		poolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_POOL_ACTIVE_METRIC", "pool_active"),
			Help:      "Number of active (in-flight) connections for a URL",
		}, []string{"url"}),
		poolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_POOL_IDLE_METRIC", "pool_idle"),
			Help:      "Number of idle connections for a URL",
		}, []string{"url"}),
		poolHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_POOL_HEALTHY_METRIC", "pool_healthy"),
			Help:      "Number of healthy pool entries for a URL",
		}, []string{"url"}),
		poolUnhealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_POOL_UNHEALTHY_METRIC", "pool_unhealthy"),
			Help:      "Number of unhealthy pool entries for a URL",
		}, []string{"url"}),
		connectionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_CONNECTIONS_CREATED_METRIC", "connections_created"),
			Help:      "Total number of pool entries created for a URL",
		}, []string{"url"}),
		failedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_FAILED_CONNECTIONS_METRIC", "failed_connections"),
			Help:      "Total number of failed readiness attempts for a URL",
		}, []string{"url"}),
		idleCleanupEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_IDLE_CLEANUP_METRIC", "idle_cleanup_events"),
			Help:      "Total number of idle entries evicted for a URL",
		}, []string{"url"}),
		connectionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      NameFromEnv("REDIS_CONNECTION_LATENCY_METRIC", "connection_latency_seconds"),
			Help:      "Time to obtain a usable lease, in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"url"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Per-URL entry circuit breaker state (0=closed, 1=half_open, 2=open)",
		}, []string{"url"}),
		circuitBreakerTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker state transitions",
		}, []string{"url", "to_state"}),
	}

	registry.MustRegister(
		s.poolSize, s.poolActive, s.poolIdle, s.poolHealthy, s.poolUnhealthy,
		s.connectionsCreated, s.failedConnections, s.idleCleanupEvents,
		s.connectionLatency, s.circuitBreakerState, s.circuitBreakerTripsTotal,
	)
	return s
}

func (s *PrometheusSink) SetPoolSize(url string, size int)       { s.poolSize.WithLabelValues(url).Set(float64(size)) }
func (s *PrometheusSink) SetPoolActive(url string, active int)   { s.poolActive.WithLabelValues(url).Set(float64(active)) }
func (s *PrometheusSink) SetPoolIdle(url string, idle int)       { s.poolIdle.WithLabelValues(url).Set(float64(idle)) }
func (s *PrometheusSink) SetPoolHealthy(url string, healthy int) { s.poolHealthy.WithLabelValues(url).Set(float64(healthy)) }
func (s *PrometheusSink) SetPoolUnhealthy(url string, unhealthy int) {
	s.poolUnhealthy.WithLabelValues(url).Set(float64(unhealthy))
}

func (s *PrometheusSink) IncConnectionsCreated(url string) { s.connectionsCreated.WithLabelValues(url).Inc() }
func (s *PrometheusSink) IncFailedConnections(url string)  { s.failedConnections.WithLabelValues(url).Inc() }
func (s *PrometheusSink) IncIdleCleanupEvents(url string)  { s.idleCleanupEvents.WithLabelValues(url).Inc() }

func (s *PrometheusSink) ObserveConnectionLatency(url string, d time.Duration) {
	s.connectionLatency.WithLabelValues(url).Observe(d.Seconds())
}

func (s *PrometheusSink) SetCircuitBreakerState(url string, state int) {
	s.circuitBreakerState.WithLabelValues(url).Set(float64(state))
}

func (s *PrometheusSink) IncCircuitBreakerTrip(url, toState string) {
	s.circuitBreakerTripsTotal.WithLabelValues(url, toState).Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for custom collectors.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}
