package geojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrNotGeoJSON = errors.New("not a GeoJSON Feature or FeatureCollection")

type rawFeature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type rawDoc struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
	rawFeature
}

// ReadFile：读取 GeoJSON 文件，支持 FeatureCollection 与单个 Feature
func ReadFile(path string) ([]Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Read：从流中解析要素；几何为空的要素被跳过
func Read(r io.Reader) ([]Feature, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc rawDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	var raws []rawFeature
	switch strings.ToLower(doc.Type) {
	case "featurecollection":
		raws = doc.Features
	case "feature":
		raws = []rawFeature{doc.rawFeature}
	default:
		return nil, ErrNotGeoJSON
	}
	out := make([]Feature, 0, len(raws))
	for _, rf := range raws {
		if len(rf.Geometry) == 0 || string(rf.Geometry) == "null" {
			continue
		}
		var g struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(rf.Geometry, &g); err != nil {
			return nil, err
		}
		props := rf.Properties
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, Feature{Props: props, Geometry: rf.Geometry, geomType: strings.ToLower(g.Type)})
	}
	return out, nil
}

// Bounds：要素集合的外包框；用于导入前的坐标范围校验（WGS84）
func Bounds(fs []Feature) (BBox, bool) {
	b := BBox{180, 90, -180, -90}
	seen := false
	for _, f := range fs {
		var g struct {
			Coordinates json.RawMessage `json:"coordinates"`
		}
		if err := json.Unmarshal(f.Geometry, &g); err != nil {
			continue
		}
		var coords any
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			continue
		}
		walk(coords, func(lon, lat float64) {
			seen = true
			if lon < b[0] {
				b[0] = lon
			}
			if lat < b[1] {
				b[1] = lat
			}
			if lon > b[2] {
				b[2] = lon
			}
			if lat > b[3] {
				b[3] = lat
			}
		})
	}
	return b, seen
}

// walk：递归遍历任意嵌套深度的坐标数组
func walk(v any, fn func(lon, lat float64)) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	if x, ok := arr[0].(float64); ok {
		if len(arr) >= 2 {
			if y, ok := arr[1].(float64); ok {
				fn(x, y)
			}
		}
		return
	}
	for _, it := range arr {
		walk(it, fn)
	}
}

// Valid：外包框是否落在经纬度合法范围内
func (b BBox) Valid() bool {
	return b[0] >= -180 && b[2] <= 180 && b[1] >= -90 && b[3] <= 90 && b[0] <= b[2] && b[1] <= b[3]
}
