// Command authorityd runs the authorization server: it loads config and
// key material, wires the storage, cache, and rate-limit layers, and
// serves the protocol endpoints until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mainhub/authority"
	"github.com/mainhub/authority/cache"
	"github.com/mainhub/authority/instrumentation"
	"github.com/mainhub/authority/ratelimit"
	"github.com/mainhub/authority/security"
	"github.com/mainhub/authority/storage"
	"github.com/mainhub/authority/storage/gormstore"
	"github.com/mainhub/authority/storage/memstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	config, err := authority.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	keys, err := loadKeys()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, apps, closeStore, err := openStore(config, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	counters, closeCounters, err := openCounters(ctx, config, logger)
	if err != nil {
		return err
	}
	defer closeCounters()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "authority",
	})
	if err != nil {
		return err
	}

	auditor := security.NewAuditor(logger, config.Audit)
	tokenCache := cache.New(tokens, apps, config.CacheConfigValue(), logger, inst.Metrics())
	defer tokenCache.Close()

	limiter := ratelimit.New(counters, config.LimiterConfigValue(), logger, inst.Metrics())

	server, err := authority.NewServer(keys, tokenCache, config, logger, auditor, inst.Metrics())
	if err != nil {
		return err
	}
	defer server.Close()

	handler := authority.NewHandler(server, limiter, headerResolver{}, config, logger)
	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", config.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// loadKeys reads the three symmetric keys from the environment. They
// are never part of the config file.
func loadKeys() (authority.Keys, error) {
	keys := authority.Keys{}
	for _, item := range []struct {
		env string
		dst *[]byte
	}{
		{"IP_CODE_SECRET", &keys.Code},
		{"IP_ACCESS_SECRET", &keys.Access},
		{"IP_REFRESH_SECRET", &keys.Refresh},
	} {
		value := os.Getenv(item.env)
		if value == "" {
			return keys, fmt.Errorf("%s is not set", item.env)
		}
		key, err := security.KeyFromBase64(value)
		if err != nil {
			return keys, fmt.Errorf("%s: %w", item.env, err)
		}
		*item.dst = key
	}
	return keys, nil
}

// openStore wires the relational store, falling back to the in-memory
// store when no DSN is configured.
func openStore(config *authority.Config, logger *slog.Logger) (storage.TokenStore, storage.ApplicationStore, func(), error) {
	if config.Database.DSN == "" {
		logger.Warn("no database configured, tokens will not survive restarts")
		store := memstore.New()
		return store, store, func() {}, nil
	}

	db, err := gormstore.Open(config.Database.Driver, config.Database.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	store := gormstore.New(db, logger)
	if err := store.Migrate(); err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return store, store, closeFn, nil
}

// openCounters wires the Redis counter store, falling back to
// in-process counters when no address is configured.
func openCounters(ctx context.Context, config *authority.Config, logger *slog.Logger) (ratelimit.CounterStore, func(), error) {
	if config.Redis.Addr == "" {
		logger.Warn("no redis configured, rate limits are per-process only")
		return ratelimit.NewMemoryCounters(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return ratelimit.NewRedisCounters(client), func() { _ = client.Close() }, nil
}

// headerResolver trusts the X-Account-Id header set by the fronting
// session layer. The login system itself lives outside this service.
type headerResolver struct{}

func (headerResolver) AccountID(r *http.Request) (int64, bool) {
	value := r.Header.Get("X-Account-Id")
	if value == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
