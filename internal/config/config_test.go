package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Pool.MaxConnectionSize != 50 {
		t.Fatalf("max connection size = %d, want 50", cfg.Pool.MaxConnectionSize)
	}
	if cfg.Pool.UseRedisCluster {
		t.Fatal("cluster mode must default to off")
	}
	if cfg.Pool.HealthCheckInterval.Std() != 60*time.Second {
		t.Fatalf("health check interval = %v, want 60s", cfg.Pool.HealthCheckInterval)
	}
	if cfg.Pool.CleanupInterval.Std() != 120*time.Second {
		t.Fatalf("cleanup interval = %v, want 120s", cfg.Pool.CleanupInterval)
	}
	if cfg.Pool.MaxIdleTime.Std() != 180*time.Second {
		t.Fatalf("max idle time = %v, want 180s", cfg.Pool.MaxIdleTime)
	}
	if cfg.Pool.ConnectionPoolsPerNodeAtStart != 1 {
		t.Fatalf("floor = %d, want 1", cfg.Pool.ConnectionPoolsPerNodeAtStart)
	}
	if cfg.Pool.DefaultAcquireTimeout.Std() != 10*time.Second {
		t.Fatalf("default acquire timeout = %v, want 10s", cfg.Pool.DefaultAcquireTimeout)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"pool": {
			"max_connection_size": 7,
			"health_check_interval": "5s",
			"max_idle_time": 90,
			"nodes": ["redis://a:6379", "redis://b:6379"]
		},
		"daemon": {"http_addr": ":9999"}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Pool.MaxConnectionSize != 7 {
		t.Fatalf("max connection size = %d, want 7", cfg.Pool.MaxConnectionSize)
	}
	if cfg.Pool.HealthCheckInterval.Std() != 5*time.Second {
		t.Fatalf("health check interval = %v, want 5s", cfg.Pool.HealthCheckInterval)
	}
	if cfg.Pool.MaxIdleTime.Std() != 90*time.Second {
		t.Fatalf("bare-number duration = %v, want 90s", cfg.Pool.MaxIdleTime)
	}
	if len(cfg.Pool.Nodes) != 2 {
		t.Fatalf("nodes = %v, want 2 entries", cfg.Pool.Nodes)
	}
	if cfg.Daemon.HTTPAddr != ":9999" {
		t.Fatalf("http addr = %q, want :9999", cfg.Daemon.HTTPAddr)
	}
	// Untouched keys keep their defaults.
	if cfg.Pool.CleanupInterval.Std() != 120*time.Second {
		t.Fatalf("cleanup interval = %v, want default 120s", cfg.Pool.CleanupInterval)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
pool:
  max_connection_size: 12
  cleanup_interval: 45s
  max_idle_time: 300
  use_redis_cluster: true
  startup_nodes:
    - a:6379
    - b:6379
logging:
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Pool.MaxConnectionSize != 12 {
		t.Fatalf("max connection size = %d, want 12", cfg.Pool.MaxConnectionSize)
	}
	if cfg.Pool.CleanupInterval.Std() != 45*time.Second {
		t.Fatalf("cleanup interval = %v, want 45s", cfg.Pool.CleanupInterval)
	}
	if cfg.Pool.MaxIdleTime.Std() != 300*time.Second {
		t.Fatalf("bare-number duration = %v, want 300s", cfg.Pool.MaxIdleTime)
	}
	if !cfg.Pool.UseRedisCluster || len(cfg.Pool.StartupNodes) != 2 {
		t.Fatalf("cluster settings not loaded: %+v", cfg.Pool)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("log format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POOLMGR_MAX_CONNECTION_SIZE", "25")
	t.Setenv("POOLMGR_USE_REDIS_CLUSTER", "true")
	t.Setenv("POOLMGR_HEALTH_CHECK_INTERVAL", "30")
	t.Setenv("POOLMGR_MAX_IDLE_TIME", "2m")
	t.Setenv("POOLMGR_FLOOR", "3")
	t.Setenv("POOLMGR_NODES", "redis://a:6379, redis://b:6379")
	t.Setenv("POOLMGR_HTTP_ADDR", ":7070")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Pool.MaxConnectionSize != 25 {
		t.Fatalf("max connection size = %d, want 25", cfg.Pool.MaxConnectionSize)
	}
	if !cfg.Pool.UseRedisCluster {
		t.Fatal("cluster flag not applied")
	}
	if cfg.Pool.HealthCheckInterval.Std() != 30*time.Second {
		t.Fatalf("health check interval = %v, want 30s", cfg.Pool.HealthCheckInterval)
	}
	if cfg.Pool.MaxIdleTime.Std() != 2*time.Minute {
		t.Fatalf("max idle time = %v, want 2m", cfg.Pool.MaxIdleTime)
	}
	if cfg.Pool.ConnectionPoolsPerNodeAtStart != 3 {
		t.Fatalf("floor = %d, want 3", cfg.Pool.ConnectionPoolsPerNodeAtStart)
	}
	if len(cfg.Pool.Nodes) != 2 || cfg.Pool.Nodes[1] != "redis://b:6379" {
		t.Fatalf("nodes = %v", cfg.Pool.Nodes)
	}
	if cfg.Daemon.HTTPAddr != ":7070" {
		t.Fatalf("http addr = %q, want :7070", cfg.Daemon.HTTPAddr)
	}
}

func TestEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("POOLMGR_MAX_CONNECTION_SIZE", "many")
	t.Setenv("POOLMGR_CLEANUP_INTERVAL", "soon")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Pool.MaxConnectionSize != 50 {
		t.Fatalf("malformed int override applied: %d", cfg.Pool.MaxConnectionSize)
	}
	if cfg.Pool.CleanupInterval.Std() != 120*time.Second {
		t.Fatalf("malformed duration override applied: %v", cfg.Pool.CleanupInterval)
	}
}
