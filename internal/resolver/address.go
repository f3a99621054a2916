package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gis-fillers/internal/geocode"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"
)

// AddressResolver：地址文本 → 坐标
// 背景：地理编码服务慢且有配额，先查 cached_addresses 表，再查（可带 Redis 缓存的）
// 地理编码后端，新结果写回表缓存；同一批内重复地址只解析一次
// 约束：Skippable 时后端错误降级为未解析，否则中止
type AddressResolver struct {
	DB        *sql.DB
	Geocoder  geocode.Geocoder
	Skippable bool
	Backend   string
}

func newAddressStrategy(db *sql.DB, deps Deps, args map[string]any, skippable bool) (Strategy, error) {
	if deps.Geocoder == nil {
		return nil, fmt.Errorf("%w: geocoder for address resolution", ErrMissingArg)
	}
	return &AddressResolver{DB: db, Geocoder: deps.Geocoder, Skippable: skippable, Backend: argString(args, "backend", "geocoder")}, nil
}

func (a *AddressResolver) Resolve(ctx context.Context, locs []Location) ([]Result, error) {
	out := make([]Result, len(locs))
	memo := make(map[string]Result)
	for i, l := range locs {
		q := l.Text(", ")
		if q == "" {
			continue
		}
		key := geocode.NormalizeQuery(q)
		if r, ok := memo[key]; ok {
			out[i] = r
			continue
		}
		r, err := a.resolveOne(ctx, key, q)
		if err != nil {
			return nil, err
		}
		memo[key] = r
		out[i] = r
	}
	return out, nil
}

func (a *AddressResolver) resolveOne(ctx context.Context, key, q string) (Result, error) {
	var lat, lon float64
	err := a.DB.QueryRowContext(ctx, `SELECT latitude, longitude FROM cached_addresses WHERE address=$1`, key).Scan(&lat, &lon)
	if err == nil {
		metrics.GeocodeCacheHitsTotal.WithLabelValues("table").Inc()
		return Found(lat, lon), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("address cache: %w", err)
	}
	p, err := a.Geocoder.Geocode(ctx, q)
	if errors.Is(err, geocode.ErrNoResult) {
		logger.L().Debug("address_unresolved", "address", q)
		return Result{}, nil
	}
	if err != nil {
		if a.Skippable {
			logger.L().Warn("address_geocode_skipped", "address", q, "err", err)
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("geocode %q: %w", q, err)
	}
	if _, err := a.DB.ExecContext(ctx, `INSERT INTO cached_addresses(address, latitude, longitude, backend) VALUES($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		key, p.Lat, p.Lon, a.Backend); err != nil {
		return Result{}, fmt.Errorf("address cache insert: %w", err)
	}
	return Found(p.Lat, p.Lon), nil
}
