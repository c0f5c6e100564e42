/*
main.go - HTTP server entry point

PURPOSE:
  Boots the girvi engine behind the HTTP API. Reads GIRVI_* configuration,
  opens the configured store and lock backend, and serves until SIGINT or
  SIGTERM.

STARTUP SEQUENCE:
  1. Load .env (dev) and GIRVI_* variables
  2. Build the logger and the Prometheus registry
  3. Open the store (memory | sqlite | postgres)
  4. Build the locker (local | redis)
  5. Build the engine, item factory and HTTP handler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store and the Redis client
  4. Exit

EXAMPLES:
  # Embedded database
  GIRVI_STORE_DRIVER=sqlite GIRVI_SQLITE_PATH=./data/girvi.db ./server

  # Two replicas on one Postgres with a shared Redis lock
  GIRVI_STORE_DRIVER=postgres GIRVI_POSTGRES_DSN=postgres://... \
  GIRVI_LOCK_BACKEND=redis GIRVI_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: every variable and its default
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/girvi-engine/api"
	"github.com/warp/girvi-engine/config"
	"github.com/warp/girvi-engine/factory"
	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/lock"
	"github.com/warp/girvi-engine/logging"
	"github.com/warp/girvi-engine/metrics"
	"github.com/warp/girvi-engine/pledge"
	memstore "github.com/warp/girvi-engine/pledge/store"
	"github.com/warp/girvi-engine/store/postgres"
	"github.com/warp/girvi-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		ServiceName: "girvi-engine",
		Level:       logging.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := context.Background()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "server failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize store
	st, resetter, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	// Initialize locker
	locker, closeLocker, err := newLocker(ctx, cfg.Lock)
	if err != nil {
		return fmt.Errorf("initialize lock backend: %w", err)
	}
	defer closeLocker()

	rate, err := cfg.Defaults.Rate()
	if err != nil {
		return err
	}

	eng := girvi.New(st,
		girvi.WithLocker(locker),
		girvi.WithLogger(logger),
		girvi.WithMetrics(metrics.New(reg)),
		girvi.WithParallelism(cfg.Defaults.Parallelism),
	)

	opts := []api.HandlerOption{
		api.WithLogger(logger),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}
	if resetter != nil && cfg.App.IsDev() {
		opts = append(opts, api.WithResetter(resetter))
	}
	handler := api.NewHandler(eng, factory.NewItemFactory(rate, pledge.Compounding(cfg.Defaults.Compounding)), opts...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.InfoFields(ctx, "server starting", map[string]any{
			"port":  cfg.App.Port,
			"store": cfg.Store.Driver,
			"lock":  cfg.Lock.Backend,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info(ctx, "server stopped")
	return nil
}

// openStore returns the configured store, its Resetter when the backend
// supports demo scenarios, and a close function.
func openStore(ctx context.Context, cfg config.StoreConfig) (pledge.Store, api.Resetter, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		mem := memstore.NewMemory()
		return mem, mem, func() {}, nil

	case config.DriverSQLite:
		st, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, closer(st), nil

	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := st.SetPool(cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime); err != nil {
			st.Close()
			return nil, nil, nil, err
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, nil, nil, err
		}
		return st, nil, closer(st), nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func newLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func(), error) {
	if cfg.Backend != config.LockRedis {
		return lock.Bounded{Locker: lock.NewKeyed(), Wait: cfg.Wait}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	locker := lock.NewRedis(client, cfg.LeaseTTL, cfg.Retry)
	return lock.Bounded{Locker: locker, Wait: cfg.Wait}, closer(client), nil
}

func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
