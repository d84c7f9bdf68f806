package backend

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrInvalidOptions is returned when Options.Extra carries a key outside
// the per-mode allow-list. pool.Manager does not pass it through: its
// callers see this construction failure as pool.ErrNoHealthyPools.
var ErrInvalidOptions = fmt.Errorf("backend: invalid pool option")

// Options is the explicit configuration record called for by the design
// note "represent as a small configuration record... rather than a
// dynamic map". Most tunables are typed fields; Extra exists only for the
// handful of low-traffic redis.Options knobs not worth a dedicated field,
// and is still validated against an allow-list so unknown keys fail
// construction the same way an unknown Python kwarg would.
type Options struct {
	// Single-node + cluster-shared tunables.
	SocketKeepAlive      bool
	SocketConnectTimeout time.Duration // default 5s
	DecodeResponses      bool          // no-op for go-redis (always decoded); kept for parity with the source's option surface
	RetryOnTimeout       bool
	HealthCheckInterval  time.Duration // default 60s

	// Cluster-only tunables.
	Cluster ClusterOptions

	// Extra carries any of the allow-listed keys not already promoted to
	// a typed field above. Keys not in the allow-list fail construction.
	// Of the accepted keys only min_idle_conns (an int) is applied; the
	// others pass validation and have no effect.
	Extra map[string]any
}

// ClusterOptions holds the cluster-only tunables. TLS is an explicit
// *tls.Config rather than a bool defaulting to plaintext: a nil value
// here means plaintext by explicit caller choice, never by a hidden
// default.
type ClusterOptions struct {
	RequireFullCoverage          bool
	ReadFromReplicas             bool
	ReinitializeSteps            int
	ClusterErrorRetryAttempts    int
	ConnectionErrorRetryAttempts int
	TLS                          *tls.Config
}

var singleNodeAllowList = map[string]struct{}{
	"socket_keepalive":         {},
	"socket_keepalive_options": {},
	"decode_responses":         {},
	"retry_on_timeout":         {},
	"health_check_interval":    {},
	"socket_connect_timeout":   {},
	"min_idle_conns":           {},
	"pool_timeout":             {},
	"conn_max_idle_time":       {},
}

var clusterOnlyKeys = map[string]struct{}{
	"require_full_coverage":           {},
	"read_from_replicas":              {},
	"reinitialize_steps":              {},
	"cluster_error_retry_attempts":    {},
	"connection_error_retry_attempts": {},
}

type mergedOptions struct {
	socketConnectTimeout         time.Duration
	healthCheckInterval          time.Duration
	socketKeepAlive              bool
	retryOnTimeout               bool
	minIdleConns                 int
	readFromReplicas             bool
	reinitializeSteps            int
	connectionErrorRetryAttempts int
	tls                          *tls.Config
}

func (o Options) validate(allowList map[string]struct{}) error {
	for k := range o.Extra {
		if _, ok := allowList[k]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidOptions, k)
		}
	}
	return nil
}

// merge validates and merges Options for single-node mode, applying the
// same defaults as the original's DEFAULT_POOL_OPTIONS.
func (o Options) merge() (mergedOptions, error) {
	if err := o.validate(singleNodeAllowList); err != nil {
		return mergedOptions{}, err
	}
	m := mergedOptions{
		socketConnectTimeout: 5 * time.Second,
		healthCheckInterval:  60 * time.Second,
		socketKeepAlive:      true,
	}
	o.applyCommon(&m)
	return m, nil
}

// mergeCluster validates and merges Options for cluster mode: the
// single-node allow-list plus the cluster-only keys.
func (o Options) mergeCluster() (mergedOptions, error) {
	allow := make(map[string]struct{}, len(singleNodeAllowList)+len(clusterOnlyKeys))
	for k := range singleNodeAllowList {
		allow[k] = struct{}{}
	}
	for k := range clusterOnlyKeys {
		allow[k] = struct{}{}
	}
	if err := o.validate(allow); err != nil {
		return mergedOptions{}, err
	}
	m := mergedOptions{
		socketConnectTimeout:         5 * time.Second,
		healthCheckInterval:          60 * time.Second,
		socketKeepAlive:              true,
		readFromReplicas:             o.Cluster.ReadFromReplicas,
		reinitializeSteps:            o.Cluster.ReinitializeSteps,
		connectionErrorRetryAttempts: o.Cluster.ConnectionErrorRetryAttempts,
		tls:                          o.Cluster.TLS,
	}
	o.applyCommon(&m)
	return m, nil
}

func (o Options) applyCommon(m *mergedOptions) {
	if o.SocketConnectTimeout > 0 {
		m.socketConnectTimeout = o.SocketConnectTimeout
	}
	if o.HealthCheckInterval > 0 {
		m.healthCheckInterval = o.HealthCheckInterval
	}
	m.socketKeepAlive = o.SocketKeepAlive
	m.retryOnTimeout = o.RetryOnTimeout
	if v, ok := o.Extra["min_idle_conns"].(int); ok {
		m.minIdleConns = v
	}
}

// applyKeepAlive copies the merged keep-alive and retry tunables onto
// redisOpts. go-redis does not expose per-connection TCP_KEEPIDLE/
// TCP_KEEPINTVL knobs (those are OS-level socket options the driver
// sets directly); MinIdleConns is the nearest go-redis equivalent for
// "keep some connections warm".
func (m mergedOptions) applyKeepAlive(redisOpts *redis.Options) {
	if m.socketKeepAlive && m.minIdleConns == 0 {
		redisOpts.MinIdleConns = 1
	} else {
		redisOpts.MinIdleConns = m.minIdleConns
	}
	if m.retryOnTimeout {
		redisOpts.MaxRetries = 3
	}
}
