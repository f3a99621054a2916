package zones

import (
	"fmt"
	"strconv"

	"gis-fillers/internal/geojson"
)

// sourceZone：源文件中的一个区域
type sourceZone struct {
	ID    int64
	Code  string
	Name  string
	Geom  string
	Value string
}

// Columns：CSV 源的列号（从 0 开始）与 GeoJSON 源的属性名
type Columns struct {
	Code  int `yaml:"code"`
	Name  int `yaml:"name"`
	Geom  int `yaml:"geom"`
	Value int `yaml:"value"`

	CodeProperty  string `yaml:"code_property"`
	NameProperty  string `yaml:"name_property"`
	ValueProperty string `yaml:"value_property"`
}

// DefaultColumns：name,code,wkt 三列；GeoJSON 取 id/name 属性
func DefaultColumns() Columns {
	return Columns{Name: 0, Code: 1, Geom: 2, Value: -1, CodeProperty: "id", NameProperty: "name"}
}

// loadZones：按格式读取区域列表
// 约束：编号规则见 assignIDs；非面几何的 GeoJSON 要素被跳过
func loadZones(path string, k Knobs, cols Columns, header bool) ([]sourceZone, error) {
	var out []sourceZone
	switch k.Format {
	case "", FormatGeoJSON:
		fs, err := geojson.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, f := range fs {
			if !f.IsAreal() {
				continue
			}
			z := sourceZone{Code: f.Prop(cols.CodeProperty), Name: f.Prop(cols.NameProperty), Geom: string(f.Geometry)}
			if cols.ValueProperty != "" {
				z.Value = f.Prop(cols.ValueProperty)
			}
			out = append(out, z)
		}
	case FormatCSV:
		recs, err := readCSV(path, ',', header)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, sourceZone{Code: column(r, cols.Code), Name: column(r, cols.Name), Geom: column(r, cols.Geom), Value: column(r, cols.Value)})
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadFormat, k.Format)
	}
	assignIDs(out)
	for i := range out {
		if out[i].Name == "" {
			out[i].Name = out[i].Code
		}
	}
	return out, nil
}

// assignIDs：全部编码都是互不相同的整数时直接作为区域编号，否则整个文件按顺序编号（从 1 开始）
// 约束：同一文件内不混用两种编号；顺序编号与整数编码撞号时后写入的区域会被冲突跳过
func assignIDs(zs []sourceZone) {
	ids := make([]int64, len(zs))
	seen := make(map[int64]bool, len(zs))
	numeric := true
	for i, z := range zs {
		n, err := strconv.ParseInt(z.Code, 10, 64)
		if err != nil || seen[n] {
			numeric = false
			break
		}
		seen[n] = true
		ids[i] = n
	}
	for i := range zs {
		if numeric {
			zs[i].ID = ids[i]
		} else {
			zs[i].ID = int64(i + 1)
		}
	}
}
