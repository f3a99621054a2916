package geocode

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// KV：*redis.Client 的最小子集
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cached：Redis 缓存层，命中直接返回，未命中回源后写回
// 约束：缓存读写失败只记日志不影响结果；查无结果不缓存，下次仍会回源
type Cached struct {
	Next   Geocoder
	KV     KV
	TTL    time.Duration
	Prefix string
}

// NewCached：kv 为 nil 时直接返回 next
func NewCached(next Geocoder, kv KV, ttl time.Duration) Geocoder {
	if kv == nil {
		return next
	}
	return &Cached{Next: next, KV: kv, TTL: ttl, Prefix: "geocode:"}
}

func (c *Cached) key(query string) string { return c.Prefix + NormalizeQuery(query) }

func (c *Cached) Geocode(ctx context.Context, query string) (Point, error) {
	k := c.key(query)
	v, err := c.KV.Get(ctx, k).Result()
	if err == nil {
		if p, ok := decodePoint(v); ok {
			metrics.GeocodeCacheHitsTotal.WithLabelValues("redis").Inc()
			return p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.L().Warn("geocode_cache_get_error", "err", err)
	}
	p, err := c.Next.Geocode(ctx, query)
	if err != nil {
		return p, err
	}
	if err := c.KV.Set(ctx, k, encodePoint(p), c.TTL).Err(); err != nil {
		logger.L().Warn("geocode_cache_set_error", "err", err)
	}
	return p, nil
}

func encodePoint(p Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

func decodePoint(s string) (Point, bool) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, false
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil {
		return Point{}, false
	}
	return Point{Lat: la, Lon: lo}, true
}
