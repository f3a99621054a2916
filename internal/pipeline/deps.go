package pipeline

import (
	"fmt"
	"time"

	"gis-fillers/internal/config"
	"gis-fillers/internal/geocode"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/resolver"

	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
)

// GeocodeCacheTTL：地理编码结果在 Redis 中的保留时间
const GeocodeCacheTTL = 30 * 24 * time.Hour

// NewDeps：按配置构建解析依赖
// 参数：rdb 为 nil 时不加 Redis 缓存层（cached_addresses 表缓存始终生效）
// 返回：release 释放 GeoIP 库文件句柄，调用方在作业结束后调用
func NewDeps(cfg config.Config, rdb *redis.Client) (deps resolver.Deps, release func(), err error) {
	release = func() {}
	var g geocode.Geocoder
	switch cfg.Geocoder {
	case "", "nominatim":
		g = geocode.NewNominatim(cfg.NominatimURL, cfg.NominatimUserAgent, cfg.GeocodeRPS)
	case "amap":
		if cfg.AMapKey == "" {
			return deps, release, fmt.Errorf("GEOCODER=amap: %w", geocode.ErrMissingKey)
		}
		g = geocode.NewAMap(cfg.AMapKey, cfg.GeocodeRPS)
	case "none":
	default:
		return deps, release, fmt.Errorf("unknown GEOCODER %q", cfg.Geocoder)
	}
	if g != nil && rdb != nil {
		g = geocode.NewCached(g, rdb, GeocodeCacheTTL)
	}
	deps.Geocoder = g
	if cfg.GeoIPDB != "" {
		r, err := geoip2.Open(cfg.GeoIPDB)
		if err != nil {
			return deps, release, fmt.Errorf("open GEOIP_DB: %w", err)
		}
		deps.GeoIP = r
		release = func() { _ = r.Close() }
	}
	logger.L().Debug("resolver_deps", "geocoder", cfg.Geocoder, "redis_cache", rdb != nil, "geoip", cfg.GeoIPDB != "")
	return deps, release, nil
}
