package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/room4-2/CaterConverse/logging"
)

const (
	geocodeKeyPrefix     = "geocode:"
	negativeEntry        = "-"
	defaultLookupTimeout = 10 * time.Second
)

// redisKV is the subset of *redis.Client used by the geocode cache.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type cacheEntry struct {
	coords Coordinates
	found  bool
}

// CachedGeocoder memoizes another Geocoder in process and, when a redis
// client is supplied, across processes. Misses are cached too; errors are not.
//
// Concurrent lookups of one place share a single call to next. That call runs
// detached from every caller's context and is bounded by its own timeout, so
// one caller giving up never fails the others.
type CachedGeocoder struct {
	next    Geocoder
	redis   redisKV
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	local map[string]cacheEntry
}

// NewCachedGeocoder wraps next. rdb may be nil. lookupTimeout bounds each
// shared call to next; zero picks a default.
func NewCachedGeocoder(next Geocoder, rdb redisKV, ttl, lookupTimeout time.Duration, logger *zap.Logger) *CachedGeocoder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	return &CachedGeocoder{
		next:    next,
		redis:   rdb,
		ttl:     ttl,
		timeout: lookupTimeout,
		logger:  logging.OrNop(logger),
		local:   make(map[string]cacheEntry),
	}
}

// Geocode implements Geocoder.
func (g *CachedGeocoder) Geocode(ctx context.Context, place string) (Coordinates, bool, error) {
	key := normalizePlace(place)
	if key == "" {
		return Coordinates{}, false, nil
	}

	g.mu.RLock()
	e, ok := g.local[key]
	g.mu.RUnlock()
	if ok {
		return e.coords, e.found, nil
	}

	flight := g.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.lookup(fctx, key, place)
	})

	select {
	case <-ctx.Done():
		return Coordinates{}, false, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return Coordinates{}, false, res.Err
		}
		e = res.Val.(cacheEntry)
		return e.coords, e.found, nil
	}
}

func (g *CachedGeocoder) lookup(ctx context.Context, key, place string) (cacheEntry, error) {
	if e, ok := g.fromRedis(ctx, key); ok {
		g.remember(key, e)
		return e, nil
	}
	c, found, err := g.next.Geocode(ctx, place)
	if err != nil {
		return cacheEntry{}, err
	}
	e := cacheEntry{coords: c, found: found}
	g.remember(key, e)
	g.toRedis(ctx, key, e)
	return e, nil
}

func (g *CachedGeocoder) remember(key string, e cacheEntry) {
	g.mu.Lock()
	g.local[key] = e
	g.mu.Unlock()
}

func (g *CachedGeocoder) fromRedis(ctx context.Context, key string) (cacheEntry, bool) {
	if g.redis == nil {
		return cacheEntry{}, false
	}
	raw, err := g.redis.Get(ctx, geocodeKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("geocode cache read failed", zap.String("place", key), zap.Error(err))
		}
		return cacheEntry{}, false
	}
	e, err := decodeEntry(raw)
	if err != nil {
		g.logger.Warn("geocode cache entry corrupt", zap.String("place", key), zap.Error(err))
		return cacheEntry{}, false
	}
	return e, true
}

func (g *CachedGeocoder) toRedis(ctx context.Context, key string, e cacheEntry) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, geocodeKeyPrefix+key, encodeEntry(e), g.ttl).Err(); err != nil {
		g.logger.Warn("geocode cache write failed", zap.String("place", key), zap.Error(err))
	}
}

func encodeEntry(e cacheEntry) string {
	if !e.found {
		return negativeEntry
	}
	return strconv.FormatFloat(e.coords.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(e.coords.Lon, 'f', -1, 64)
}

func decodeEntry(raw string) (cacheEntry, error) {
	if raw == negativeEntry {
		return cacheEntry{}, nil
	}
	lat, lon, ok := strings.Cut(raw, ",")
	if !ok {
		return cacheEntry{}, fmt.Errorf("malformed entry %q", raw)
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return cacheEntry{}, err
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return cacheEntry{}, err
	}
	return cacheEntry{coords: Coordinates{Lat: la, Lon: lo}, found: true}, nil
}
