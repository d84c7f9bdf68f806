package backend

import (
	"errors"
	"testing"
	"time"
)

func TestMergeDefaults(t *testing.T) {
	m, err := Options{}.merge()
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if m.socketConnectTimeout != 5*time.Second {
		t.Fatalf("socket connect timeout = %v, want 5s", m.socketConnectTimeout)
	}
	if m.healthCheckInterval != 60*time.Second {
		t.Fatalf("health check interval = %v, want 60s", m.healthCheckInterval)
	}
}

func TestMergeOverrides(t *testing.T) {
	opts := Options{
		SocketConnectTimeout: 2 * time.Second,
		HealthCheckInterval:  15 * time.Second,
		Extra:                map[string]any{"min_idle_conns": 4},
	}
	m, err := opts.merge()
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if m.socketConnectTimeout != 2*time.Second {
		t.Fatalf("socket connect timeout = %v, want 2s", m.socketConnectTimeout)
	}
	if m.minIdleConns != 4 {
		t.Fatalf("min idle conns = %d, want 4", m.minIdleConns)
	}
}

func TestMergeRejectsUnknownKey(t *testing.T) {
	opts := Options{Extra: map[string]any{"bogus_knob": true}}
	if _, err := opts.merge(); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
	if _, err := opts.mergeCluster(); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("cluster merge: expected ErrInvalidOptions, got %v", err)
	}
}

func TestClusterKeysRejectedInSingleNodeMode(t *testing.T) {
	for key := range clusterOnlyKeys {
		opts := Options{Extra: map[string]any{key: 1}}
		if _, err := opts.merge(); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("key %q accepted in single-node mode", key)
		}
		if _, err := opts.mergeCluster(); err != nil {
			t.Fatalf("key %q rejected in cluster mode: %v", key, err)
		}
	}
}

func TestMergeClusterCarriesTypedFields(t *testing.T) {
	opts := Options{
		Cluster: ClusterOptions{
			ReadFromReplicas:             true,
			ReinitializeSteps:            7,
			ConnectionErrorRetryAttempts: 3,
		},
	}
	m, err := opts.mergeCluster()
	if err != nil {
		t.Fatalf("mergeCluster failed: %v", err)
	}
	if !m.readFromReplicas || m.reinitializeSteps != 7 || m.connectionErrorRetryAttempts != 3 {
		t.Fatalf("cluster fields not carried through: %+v", m)
	}
}

func TestNewClientHandleInvalidOptions(t *testing.T) {
	// Option validation must fail construction before any network I/O.
	_, err := NewClientHandle("localhost:6379", 10, false, nil, Options{
		Extra: map[string]any{"not_a_real_option": 1},
	})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestNewClientHandleClusterRequiresNodes(t *testing.T) {
	if _, err := NewClientHandle("", 10, true, nil, Options{}); err == nil {
		t.Fatal("cluster mode with no startup nodes must fail")
	}
}
