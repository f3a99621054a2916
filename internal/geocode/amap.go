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

// 文档注释：高德地理编码响应结构
// 背景：只解析 status/info/geocodes.location 三个字段；location 为 "经度,纬度" 文本
type amapResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Infocode string `json:"infocode"`
	Count    string `json:"count"`
	Geocodes []struct {
		Location string `json:"location"`
	} `json:"geocodes"`
}

// AMap：高德 Web 服务地理编码客户端，适用于中国境内地址
type AMap struct {
	BaseURL string
	Key     string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewAMap：key 为高德 Web 服务密钥；rps<=0 时不限速
func NewAMap(key string, rps float64) *AMap {
	a := &AMap{BaseURL: "https://restapi.amap.com", Key: key, Client: &http.Client{Timeout: 5 * time.Second}}
	if rps > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return a
}

// 文档注释：查询单条地址的坐标（REST）
// 参数：
// - ctx：请求上下文，用于控制超时与取消；
// - query：结构化地址文本（省市区+街道门牌）。
// 返回：status!="1" 返回错误；count 为 0 返回 ErrNoResult。
func (a *AMap) Geocode(ctx context.Context, query string) (Point, error) {
	if a.Key == "" {
		return Point{}, ErrMissingKey
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return Point{}, err
		}
	}
	q := url.Values{}
	q.Set("key", a.Key)
	q.Set("address", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(a.BaseURL, "/")+"/v3/geocode/geo?"+q.Encode(), nil)
	if err != nil {
		return Point{}, err
	}
	t0 := time.Now()
	metrics.GeocodeRequestsTotal.WithLabelValues("amap").Inc()
	logger.L().Debug("geocode_req", "backend", "amap", "query", query)
	resp, err := a.Client.Do(req)
	if err != nil {
		logger.L().Error("geocode_http_error", "backend", "amap", "err", err)
		metrics.GeocodeFailTotal.WithLabelValues("amap").Inc()
		return Point{}, err
	}
	defer resp.Body.Close()
	var r amapResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		logger.L().Error("geocode_decode_error", "backend", "amap", "err", err)
		metrics.GeocodeFailTotal.WithLabelValues("amap").Inc()
		return Point{}, err
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeocodeDurationMs.WithLabelValues("amap").Observe(float64(dur))
	logger.L().Debug("geocode_resp", "backend", "amap", "status", r.Status, "infocode", r.Infocode, "count", r.Count, "duration_ms", dur)
	if r.Status != "1" {
		metrics.GeocodeFailTotal.WithLabelValues("amap").Inc()
		return Point{}, fmt.Errorf("amap error: %s (%s)", r.Info, r.Infocode)
	}
	if len(r.Geocodes) == 0 {
		return Point{}, ErrNoResult
	}
	return parseLonLat(r.Geocodes[0].Location)
}

func parseLonLat(s string) (Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, errors.New("amap location malformed")
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, err
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: lat, Lon: lon}, nil
}
