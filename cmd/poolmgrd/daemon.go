package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yokha/redis-manager/internal/backend"
	"github.com/yokha/redis-manager/internal/config"
	"github.com/yokha/redis-manager/internal/logging"
	"github.com/yokha/redis-manager/internal/metrics"
	"github.com/yokha/redis-manager/internal/pool"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
		nodes    []string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the pool manager daemon",
		Long:  "Run the pool manager as a daemon exposing /metrics, /status, and health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("node") {
				cfg.Pool.Nodes = nodes
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Daemon.LogLevel)
			return runDaemon(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringSliceVar(&nodes, "node", nil, "Backend URL to manage (repeatable)")
	return cmd
}

func runDaemon(cfg *config.Config) error {
	var sink metrics.Sink = metrics.NopSink{}
	var promSink *metrics.PrometheusSink
	if cfg.Metrics.Enabled {
		promSink = metrics.NewPrometheusSink(cfg.Metrics.Namespace)
		sink = promSink
	}

	mgr := pool.New(pool.Config{
		MaxConnectionSize: cfg.Pool.MaxConnectionSize,
		UseCluster:        cfg.Pool.UseRedisCluster,
		StartupNodes:      cfg.Pool.StartupNodes,
		PoolOptions: backend.Options{
			SocketKeepAlive:      cfg.Pool.SocketKeepAlive,
			SocketConnectTimeout: cfg.Pool.SocketConnectTimeout.Std(),
			RetryOnTimeout:       cfg.Pool.RetryOnTimeout,
		},
		HealthCheckInterval:           cfg.Pool.HealthCheckInterval.Std(),
		CleanupInterval:               cfg.Pool.CleanupInterval.Std(),
		MaxIdleTime:                   cfg.Pool.MaxIdleTime.Std(),
		ConnectionPoolsPerNodeAtStart: cfg.Pool.ConnectionPoolsPerNodeAtStart,
		DefaultTimeout:                cfg.Pool.DefaultAcquireTimeout.Std(),
	}, sink, nil)
	mgr.StartCleanup()

	ctx := context.Background()
	for _, url := range cfg.Pool.Nodes {
		if err := mgr.AddNodePool(ctx, url, cfg.Pool.DefaultAcquireTimeout.Std()); err != nil {
			logging.Op().Error("register node failed", "url", url, "error", err)
		} else {
			logging.Op().Info("node registered", "url", url)
		}
	}

	mux := http.NewServeMux()
	if promSink != nil {
		mux.Handle("/metrics", promSink.Handler())
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mgr.FetchPoolStatus())
	})
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		// Ready once every registered URL has at least one healthy entry.
		for url, st := range mgr.FetchPoolStatus() {
			if st.HealthyPools == 0 {
				http.Error(w, fmt.Sprintf("no healthy pools for %s", url), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logging.Op().Info("daemon listening", "addr", cfg.Daemon.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Op().Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logging.Op().Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Op().Warn("http shutdown", "error", err)
	}

	// Cleanup loop first, then the manager: CloseAllPools requires the
	// cleanup task to be stopped by its caller.
	mgr.StopCleanup()
	mgr.CloseAllPools()
	logging.Op().Info("daemon stopped")
	return nil
}
