package zones

import (
	"context"
	"fmt"
	"strconv"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/geojson"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/store"
)

// RoadsConfig：道路线要素 GeoJSON（例如 OSM 导出）
type RoadsConfig struct {
	File         string `yaml:"file"`
	URL          string `yaml:"url"`
	IDProperty   string `yaml:"id_property"`
	KindProperty string `yaml:"kind_property"`
	NameProperty string `yaml:"name_property"`
	// Kind：要素缺少类型属性时使用的默认类型
	Kind string `yaml:"kind"`
}

// RoadsFiller：线要素写入 batch_roads；非线要素跳过，坐标超出经纬度范围的文件整体拒绝
type RoadsFiller struct {
	filler.Base
	cfg      RoadsConfig
	dl       Downloader
	features []geojson.Feature
}

func NewRoads(cfg RoadsConfig, opts filler.Options) (*RoadsFiller, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("roads filler: file is required")
	}
	if cfg.IDProperty == "" {
		cfg.IDProperty = "osmid"
	}
	if cfg.KindProperty == "" {
		cfg.KindProperty = "highway"
	}
	if cfg.NameProperty == "" {
		cfg.NameProperty = "name"
	}
	if cfg.Kind == "" {
		cfg.Kind = "drive"
	}
	if opts.Name == "" {
		opts.Name = "roads_" + cfg.Kind
	}
	f := &RoadsFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"file": cfg.File, "kind": cfg.Kind})
	return f, nil
}

func (f *RoadsFiller) marker() string { return markerKey("roads", f.cfg.Kind) }

// Prepare：道路分批提交，只有随最后一批提交的完成标记表示文件已全部写入
func (f *RoadsFiller) Prepare(ctx context.Context) error {
	ok, err := store.Filled(ctx, f.DB(), f.marker())
	if err != nil {
		return err
	}
	if ok {
		f.SetDone()
		return nil
	}
	if err := ensureSource(ctx, f.dl, &f.Base, f.cfg.File, f.cfg.URL); err != nil {
		return err
	}
	all, err := geojson.ReadFile(f.Path(f.cfg.File))
	if err != nil {
		return err
	}
	if bb, ok := geojson.Bounds(all); ok && !bb.Valid() {
		return fmt.Errorf("%s: bounds %v are not WGS84 lon/lat", f.cfg.File, bb)
	}
	f.features = f.features[:0]
	for _, ft := range all {
		if ft.IsLinear() {
			f.features = append(f.features, ft)
		}
	}
	return nil
}

func (f *RoadsFiller) Apply(ctx context.Context) error {
	if err := f.RecordFile(ctx, f.cfg.File, "roads_"+f.cfg.Kind); err != nil {
		return err
	}
	b, err := store.NewBatch(ctx, f.DB(), "batch_roads", 0)
	if err != nil {
		return err
	}
	defer b.Rollback()
	for i, ft := range f.features {
		id := ft.Prop(f.cfg.IDProperty)
		if id == "" {
			id = f.cfg.Kind + "_" + strconv.Itoa(i)
		}
		kind := ft.Prop(f.cfg.KindProperty)
		if kind == "" {
			kind = f.cfg.Kind
		}
		if err := b.Exec(ctx, `INSERT INTO batch_roads(road_id, kind, name, geom)
			VALUES($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326))
			ON CONFLICT DO NOTHING`, id, kind, ft.Prop(f.cfg.NameProperty), string(ft.Geometry)); err != nil {
			return fmt.Errorf("road %s: %w", id, err)
		}
	}
	if err := store.MarkFilled(ctx, b.Tx(), f.marker(), "batch_roads"); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}
	logger.L().Info("roads_filled", "filler", f.Name(), "rows", b.Count())
	return nil
}

// RoadLengthConfig：按区域汇总道路长度
type RoadLengthConfig struct {
	Level   string `yaml:"level"`
	GisType string `yaml:"gis_type"`
}

// RoadLengthFiller：每个区域内各类道路的球面长度（米）
type RoadLengthFiller struct {
	filler.Base
	cfg RoadLengthConfig
}

func NewRoadLength(cfg RoadLengthConfig, opts filler.Options) *RoadLengthFiller {
	if cfg.Level == "" {
		cfg.Level = "zaehlsprengel"
	}
	if cfg.GisType == "" {
		cfg.GisType = cfg.Level
	}
	if opts.Name == "" {
		opts.Name = "road_lengths_" + cfg.Level
	}
	f := &RoadLengthFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"level": cfg.Level, "gis_type": cfg.GisType})
	return f
}

func (f *RoadLengthFiller) Prepare(ctx context.Context) error {
	ok, err := store.QueryBool(ctx, f.DB(), `SELECT EXISTS (
		SELECT 1 FROM road_lengths rl
		JOIN zone_levels zl ON zl.id = rl.zone_level AND zl.name = $1
		JOIN gis_types gt ON gt.id = rl.gis_type AND gt.name = $2)`, f.cfg.Level, f.cfg.GisType)
	if err != nil {
		return err
	}
	if ok {
		f.SetDone()
	}
	return nil
}

const roadLengthSQL = `INSERT INTO road_lengths(zone_level, zone, gis_type, kind, length_m)
SELECT gd.zone_level, gd.zone_id, gd.gis_type, br.kind,
	SUM(ST_Length(ST_Intersection(gd.geom, br.geom)::geography))
FROM gis_data gd
JOIN batch_roads br ON ST_Intersects(gd.geom, br.geom)
WHERE gd.zone_level = $1 AND gd.gis_type = $2
GROUP BY gd.zone_level, gd.zone_id, gd.gis_type, br.kind
ON CONFLICT DO NOTHING`

func (f *RoadLengthFiller) Apply(ctx context.Context) error {
	tx, err := f.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	level, err := store.LevelID(ctx, tx, f.cfg.Level)
	if err != nil {
		return fmt.Errorf("level %s: %w", f.cfg.Level, err)
	}
	gisType, err := store.GisTypeID(ctx, tx, f.cfg.GisType)
	if err != nil {
		return fmt.Errorf("gis type %s: %w", f.cfg.GisType, err)
	}
	res, err := tx.ExecContext(ctx, roadLengthSQL, level, gisType)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("road_lengths_filled", "filler", f.Name(), "rows", n)
	return nil
}
