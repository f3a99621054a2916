// 包 geocode：地址地理编码后端
package geocode

import (
	"context"
	"errors"
	"strings"
)

// Point：WGS84 经纬度
type Point struct {
	Lat float64
	Lon float64
}

// Geocoder：把一条地址文本解析为坐标
// 约束：查无结果返回 ErrNoResult；网络或服务错误原样返回，由调用方决定是否降级
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Point, error)
}

var (
	ErrNoResult   = errors.New("geocoder returned no result")
	ErrMissingKey = errors.New("missing geocoder key")
)

// NormalizeQuery：合并空白并转小写，作为缓存键
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
