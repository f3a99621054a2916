package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"

	"golang.org/x/time/rate"
)

// Nominatim：OSM Nominatim 搜索接口客户端
// 背景：公共实例要求每秒不超过 1 次请求且必须携带可识别的 User-Agent
type Nominatim struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	limiter   *rate.Limiter
}

type nominatimHit struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// NewNominatim：rps<=0 时不限速（自建实例）
func NewNominatim(baseURL, userAgent string, rps float64) *Nominatim {
	n := &Nominatim{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
	if rps > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return n
}

// Geocode：查询单条地址，取相关度最高的一条
func (n *Nominatim) Geocode(ctx context.Context, query string) (Point, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return Point{}, err
		}
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Point{}, err
	}
	req.Header.Set("User-Agent", n.UserAgent)
	t0 := time.Now()
	metrics.GeocodeRequestsTotal.WithLabelValues("nominatim").Inc()
	logger.L().Debug("geocode_req", "backend", "nominatim", "query", query)
	resp, err := n.Client.Do(req)
	if err != nil {
		logger.L().Error("geocode_http_error", "backend", "nominatim", "err", err)
		metrics.GeocodeFailTotal.WithLabelValues("nominatim").Inc()
		return Point{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.GeocodeFailTotal.WithLabelValues("nominatim").Inc()
		return Point{}, fmt.Errorf("nominatim status %d", resp.StatusCode)
	}
	var hits []nominatimHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		logger.L().Error("geocode_decode_error", "backend", "nominatim", "err", err)
		metrics.GeocodeFailTotal.WithLabelValues("nominatim").Inc()
		return Point{}, err
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeocodeDurationMs.WithLabelValues("nominatim").Observe(float64(dur))
	if len(hits) == 0 {
		logger.L().Debug("geocode_empty", "backend", "nominatim", "query", query, "duration_ms", dur)
		return Point{}, ErrNoResult
	}
	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err := errors.Join(err1, err2); err != nil {
		metrics.GeocodeFailTotal.WithLabelValues("nominatim").Inc()
		return Point{}, fmt.Errorf("nominatim coordinates: %w", err)
	}
	logger.L().Debug("geocode_resp", "backend", "nominatim", "query", query, "lat", lat, "lon", lon, "duration_ms", dur)
	return Point{Lat: lat, Lon: lon}, nil
}
