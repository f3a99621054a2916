// 包 resolver：位置解析策略与位置解析填充单元
// 背景：业务表中带有文本位置（地址、区域编码、邮编、IP）而几何列为空的行，
// 由可插拔策略解析为坐标后回写；策略按标签从静态表选择，或由调用方直接提供
package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gis-fillers/internal/geocode"
)

var (
	ErrUnknownStrategy = errors.New("unknown location resolution strategy")
	ErrResultMismatch  = errors.New("strategy returned a different number of results than locations")
	ErrMissingArg      = errors.New("missing required argument")
)

// Location：一行的位置描述，字段顺序与配置的位置列一致
type Location struct {
	Fields []string
}

// Field：第 i 个字段，越界返回空串
func (l Location) Field(i int) string {
	if i < 0 || i >= len(l.Fields) {
		return ""
	}
	return strings.TrimSpace(l.Fields[i])
}

// Text：非空字段以 sep 连接
func (l Location) Text(sep string) string {
	parts := make([]string, 0, len(l.Fields))
	for _, f := range l.Fields {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

// Result：解析结果；OK 为 false 表示未解析
type Result struct {
	Lat float64
	Lon float64
	OK  bool
}

func Found(lat, lon float64) Result { return Result{Lat: lat, Lon: lon, OK: true} }

// Strategy：解析能力
// 约束：返回与输入等长、同序的结果；按位置回写依赖这一点
type Strategy interface {
	Resolve(ctx context.Context, locs []Location) ([]Result, error)
}

// Deps：策略的外部依赖
type Deps struct {
	Geocoder geocode.Geocoder
	GeoIP    CityReader
}

type strategyCtor func(db *sql.DB, deps Deps, args map[string]any, skippable bool) (Strategy, error)

// 标签到实现的静态映射
var strategies = map[string]strategyCtor{
	"address": newAddressStrategy,
	"area":    newAreaStrategy,
	"zipcode": newZipStrategy,
	"ip":      newGeoIPStrategy,
}

// Tags：全部可用标签，按字母序
func Tags() []string {
	out := make([]string, 0, len(strategies))
	for k := range strategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build：按标签构建策略
func Build(tag string, db *sql.DB, deps Deps, args map[string]any, skippable bool) (Strategy, error) {
	ctor, ok := strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStrategy, tag, strings.Join(Tags(), ", "))
	}
	return ctor(db, deps, args, skippable)
}

func argString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
