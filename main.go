package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/config"
	"github.com/room4-2/CaterConverse/dialogue"
	"github.com/room4-2/CaterConverse/logging"
	"github.com/room4-2/CaterConverse/server"
	"github.com/room4-2/CaterConverse/session"
)

const geocodeCacheTTL = 24 * time.Hour

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	rdb := connectRedis(cfg, logger)

	geocoder, err := newGeocoder(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("failed to create geocoder", zap.Error(err))
	}

	providers, err := catalog.LoadProviders(cfg.CatalogFile)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}
	cat, err := catalog.New(providers, geocoder, logger)
	if err != nil {
		logger.Fatal("failed to build catalog", zap.Error(err))
	}

	var mirror session.Mirror
	if rdb != nil {
		mirror = session.NewRedisMirror(rdb, cfg.SessionTimeout)
	}
	store := session.NewStore(mirror, cfg.SessionTimeout, logger)

	engine, err := dialogue.New(store, cat, geocoder, dialogue.Options{
		SearchRadius:      cfg.SearchRadius,
		LookupTimeout:     cfg.LookupTimeout,
		MaxUtteranceBytes: cfg.MaxUtteranceBytes,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create dialogue engine", zap.Error(err))
	}

	// Start cleanup routine
	ctx, cancel := context.WithCancel(context.Background())
	go store.StartCleanupRoutine(ctx)

	srv := server.NewServer(cfg, engine, cat, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		store.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	<-stopped

	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("server stopped")
}

// connectRedis returns nil when redis cannot be reached; the service then
// runs without the session mirror and the shared geocode cache.
func connectRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, continuing without it",
			zap.String("addr", cfg.RedisURL),
			zap.Error(err),
		)
		_ = rdb.Close()
		return nil
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisURL))
	return rdb
}

// newGeocoder consults the static gazetteer first and, in nominatim mode,
// falls back to the remote service. Results are cached.
func newGeocoder(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (catalog.Geocoder, error) {
	gazetteer := catalog.NewGazetteer(catalog.ServiceAreas)
	if cfg.Geocoder == config.GeocoderStatic {
		return gazetteer, nil
	}

	remote, err := catalog.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderRPS,
		&http.Client{Timeout: cfg.LookupTimeout})
	if err != nil {
		return nil, err
	}
	chain := catalog.Chain{gazetteer, remote}

	// A nil *redis.Client must not reach the cache as a non-nil interface.
	if rdb == nil {
		return catalog.NewCachedGeocoder(chain, nil, geocodeCacheTTL, cfg.LookupTimeout, logger), nil
	}
	return catalog.NewCachedGeocoder(chain, rdb, geocodeCacheTTL, cfg.LookupTimeout, logger), nil
}
