// Package config holds the process-level configuration surface: a
// struct of nested structs loadable from a JSON or YAML file, with
// environment-variable overlays applied on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a Go
// duration string ("90s", "2m") or a bare number of seconds, in both
// JSON and YAML config files. Environment overrides accept the same
// two forms.
type Duration time.Duration

// Std returns the value as a plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x) * time.Second)
		return nil
	case string:
		parsed, err := parseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("config: invalid duration %v", v)
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// PoolConfig holds the pool manager tunables.
type PoolConfig struct {
	MaxConnectionSize             int      `json:"max_connection_size" yaml:"max_connection_size"`
	UseRedisCluster               bool     `json:"use_redis_cluster" yaml:"use_redis_cluster"`
	StartupNodes                  []string `json:"startup_nodes" yaml:"startup_nodes"`
	HealthCheckInterval           Duration `json:"health_check_interval" yaml:"health_check_interval"`
	CleanupInterval               Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	MaxIdleTime                   Duration `json:"max_idle_time" yaml:"max_idle_time"`
	ConnectionPoolsPerNodeAtStart int      `json:"connection_pools_per_node_at_start" yaml:"connection_pools_per_node_at_start"`
	DefaultAcquireTimeout         Duration `json:"default_acquire_timeout" yaml:"default_acquire_timeout"`

	// Nodes are the backend URLs registered at daemon startup. Callers
	// embedding the manager as a library register URLs directly instead.
	Nodes []string `json:"nodes" yaml:"nodes"`

	// Client-level tunables passed through to the backend handle.
	SocketKeepAlive      bool     `json:"socket_keepalive" yaml:"socket_keepalive"`
	SocketConnectTimeout Duration `json:"socket_connect_timeout" yaml:"socket_connect_timeout"`
	RetryOnTimeout       bool     `json:"retry_on_timeout" yaml:"retry_on_timeout"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// Config is the central configuration struct embedding all component
// configs.
type Config struct {
	Pool    PoolConfig    `json:"pool" yaml:"pool"`
	Daemon  DaemonConfig  `json:"daemon" yaml:"daemon"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxConnectionSize:             50,
			UseRedisCluster:               false,
			HealthCheckInterval:           Duration(60 * time.Second),
			CleanupInterval:               Duration(120 * time.Second),
			MaxIdleTime:                   Duration(180 * time.Second),
			ConnectionPoolsPerNodeAtStart: 1,
			DefaultAcquireTimeout:         Duration(10 * time.Second),
			SocketKeepAlive:               true,
			SocketConnectTimeout:          Duration(5 * time.Second),
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "redis_pool",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, selected
// by extension (.yaml/.yml, anything else is treated as JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("POOLMGR_MAX_CONNECTION_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxConnectionSize = n
		}
	}
	if v := os.Getenv("POOLMGR_USE_REDIS_CLUSTER"); v != "" {
		cfg.Pool.UseRedisCluster = parseBool(v)
	}
	if v := os.Getenv("POOLMGR_STARTUP_NODES"); v != "" {
		cfg.Pool.StartupNodes = splitList(v)
	}
	if v := os.Getenv("POOLMGR_HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.Pool.HealthCheckInterval = Duration(d)
		}
	}
	if v := os.Getenv("POOLMGR_CLEANUP_INTERVAL"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.Pool.CleanupInterval = Duration(d)
		}
	}
	if v := os.Getenv("POOLMGR_MAX_IDLE_TIME"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.Pool.MaxIdleTime = Duration(d)
		}
	}
	if v := os.Getenv("POOLMGR_FLOOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.ConnectionPoolsPerNodeAtStart = n
		}
	}
	if v := os.Getenv("POOLMGR_DEFAULT_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.Pool.DefaultAcquireTimeout = Duration(d)
		}
	}
	if v := os.Getenv("POOLMGR_NODES"); v != "" {
		cfg.Pool.Nodes = splitList(v)
	}
	if v := os.Getenv("POOLMGR_SOCKET_CONNECT_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.Pool.SocketConnectTimeout = Duration(d)
		}
	}

	if v := os.Getenv("POOLMGR_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("POOLMGR_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("POOLMGR_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("POOLMGR_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("POOLMGR_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
