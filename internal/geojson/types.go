// 包 geojson：读取区域、标注点与道路的 GeoJSON 源文件
// 背景：几何本体原样保留为 JSON 文本交给 PostGIS（ST_GeomFromGeoJSON）解析，
// 这里只负责拆分要素、读取属性与做轻量校验
package geojson

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Feature：单个要素；Geometry 保留原始 JSON
type Feature struct {
	Props    map[string]any
	Geometry json.RawMessage
	geomType string
}

// BBox：minLon, minLat, maxLon, maxLat
type BBox [4]float64

// GeometryType：小写几何类型（polygon/multipolygon/linestring/point 等）
func (f Feature) GeometryType() string { return f.geomType }

// Prop：按键读取属性文本；数值按最短十进制表示，整数不带小数点
func (f Feature) Prop(key string) string {
	v, ok := f.Props[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// PropInt：属性转整数，用于按位编码的区域编号
func (f Feature) PropInt(key string) (int64, bool) {
	s := f.Prop(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Point：Point 几何的经纬度
func (f Feature) Point() (lon, lat float64, ok bool) {
	if f.geomType != "point" {
		return 0, 0, false
	}
	var g struct {
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(f.Geometry, &g); err != nil || len(g.Coordinates) < 2 {
		return 0, 0, false
	}
	return g.Coordinates[0], g.Coordinates[1], true
}

// IsAreal：面要素才能作为区域几何
func (f Feature) IsAreal() bool {
	return f.geomType == "polygon" || f.geomType == "multipolygon"
}

// IsLinear：线要素用于道路
func (f Feature) IsLinear() bool {
	return f.geomType == "linestring" || f.geomType == "multilinestring"
}
