package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// CityReader：geoip2.Reader 的最小子集
type CityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

// GeoIPResolver：IP 地址 → MaxMind 城市库坐标
// 约束：无法解析的 IP、库中无记录或坐标为 (0,0) 视为未解析
type GeoIPResolver struct {
	Reader CityReader
}

func newGeoIPStrategy(_ *sql.DB, deps Deps, args map[string]any, _ bool) (Strategy, error) {
	if deps.GeoIP != nil {
		return &GeoIPResolver{Reader: deps.GeoIP}, nil
	}
	path := argString(args, "geoip_db", "")
	if path == "" {
		return nil, fmt.Errorf("%w: geoip_db for ip resolution", ErrMissingArg)
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	return &GeoIPResolver{Reader: r}, nil
}

func (g *GeoIPResolver) Resolve(_ context.Context, locs []Location) ([]Result, error) {
	out := make([]Result, len(locs))
	for i, l := range locs {
		ip := net.ParseIP(l.Field(0))
		if ip == nil {
			continue
		}
		rec, err := g.Reader.City(ip)
		if err != nil || rec == nil {
			continue
		}
		if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
			continue
		}
		out[i] = Found(rec.Location.Latitude, rec.Location.Longitude)
	}
	return out, nil
}
