// Package backend defines the opaque client-handle contract the pool
// manager relies on, and a concrete Redis-backed implementation.
//
// The pool manager (internal/pool) never talks to Redis directly; it only
// ever sees a ClientHandle. Swapping in a different key/value store means
// writing a new ClientHandle implementation, nothing in internal/pool
// changes.
package backend

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ClientHandle is the opaque object the pool manager acquires, pings, and
// eventually closes. All other backend commands are passed through
// opaquely via Client() — the pool manager never inspects them.
type ClientHandle interface {
	// Ping checks liveness. A non-nil error means the handle is unhealthy.
	Ping(ctx context.Context) error

	// Close releases the underlying transport. Idempotent.
	Close() error

	// Client returns the underlying redis.UniversalClient for issuing
	// commands. The pool manager never calls this itself; it is exposed
	// to callers through the lease.
	Client() redis.UniversalClient
}

// singleHandle wraps a single-node *redis.Client.
type singleHandle struct {
	client *redis.Client
}

func (h *singleHandle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *singleHandle) Close() error {
	return h.client.Close()
}

func (h *singleHandle) Client() redis.UniversalClient {
	return h.client
}

// clusterHandle wraps a *redis.ClusterClient.
type clusterHandle struct {
	client *redis.ClusterClient
}

func (h *clusterHandle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *clusterHandle) Close() error {
	return h.client.Close()
}

func (h *clusterHandle) Client() redis.UniversalClient {
	return h.client
}

// NewClientHandle constructs a ClientHandle for url (single-node mode) or,
// when useCluster is true, for the given startupNodes (cluster mode). It
// materialises the redis.Client/ClusterClient but performs no network I/O
// — the caller drives readiness via ClientHandle.Ping (see pool.PoolEntry.
// WaitForReady).
func NewClientHandle(url string, maxConnections int, useCluster bool, startupNodes []string, opts Options) (ClientHandle, error) {
	if useCluster {
		merged, err := opts.mergeCluster()
		if err != nil {
			return nil, err
		}
		if len(startupNodes) == 0 {
			return nil, fmt.Errorf("backend: cluster mode requires at least one startup node")
		}
		clusterOpts := &redis.ClusterOptions{
			Addrs:              startupNodes,
			MaxRetries:         merged.connectionErrorRetryAttempts,
			PoolSize:           maxConnections,
			ReadOnly:           merged.readFromReplicas,
			MaxRedirects:       merged.reinitializeSteps,
			TLSConfig:          merged.tls,
			DialTimeout:        merged.socketConnectTimeout,
			IdleCheckFrequency: merged.healthCheckInterval,
		}
		return &clusterHandle{client: redis.NewClusterClient(clusterOpts)}, nil
	}

	merged, err := opts.merge()
	if err != nil {
		return nil, err
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		// redis.ParseURL only accepts redis:// / rediss:// schemes; the
		// spec's "url" is an opaque backend identity, so fall back to
		// treating it as a bare address.
		redisOpts = &redis.Options{Addr: url}
	}
	redisOpts.PoolSize = maxConnections
	redisOpts.DialTimeout = merged.socketConnectTimeout
	redisOpts.IdleCheckFrequency = merged.healthCheckInterval
	merged.applyKeepAlive(redisOpts)

	return &singleHandle{client: redis.NewClient(redisOpts)}, nil
}
