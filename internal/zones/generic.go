package zones

import (
	"context"
	"fmt"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/hierarchy"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/store"
)

// ZonesConfig：通用区域文件的填充参数
type ZonesConfig struct {
	Knobs       `yaml:",inline"`
	Columns     Columns `yaml:"columns"`
	Header      bool    `yaml:"header"`
	URL         string  `yaml:"url"`
	Level       string  `yaml:"level"`
	LevelPretty string  `yaml:"level_pretty"`
	// ChildLevels：以本层为父、按几何重叠推导边的子层级
	ChildLevels []string `yaml:"child_levels"`
	// ParentLevels：以本层为子、按几何重叠推导边的父层级
	ParentLevels []string `yaml:"parent_levels"`
}

// ZonesFiller：任意层级的区域与几何，边按几何重叠推导
// 背景：网格、统计区等与行政边界不嵌套的层级，一个子区域可以有多个父区域，
// 份额为交集面积占子区域面积的比例
type ZonesFiller struct {
	filler.Base
	cfg   ZonesConfig
	dl    Downloader
	zones []sourceZone
}

func NewZones(cfg ZonesConfig, opts filler.Options) (*ZonesFiller, error) {
	if cfg.Level == "" {
		return nil, fmt.Errorf("zones filler: level is required")
	}
	if cfg.GisType == "" {
		cfg.GisType = "zaehlsprengel"
	}
	if cfg.FileTemplate == "" {
		return nil, fmt.Errorf("zones filler %s: file_template is required", cfg.Level)
	}
	if _, err := cfg.geomFormat(); err != nil {
		return nil, err
	}
	if cfg.Columns == (Columns{}) {
		cfg.Columns = DefaultColumns()
	}
	if cfg.ChildLevels == nil && cfg.Level != "zaehlsprengel" {
		cfg.ChildLevels = []string{"zaehlsprengel"}
	}
	if opts.Name == "" {
		opts.Name = "generic_" + cfg.Level
	}
	f := &ZonesFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"level": cfg.Level, "gis_type": cfg.GisType, "file": cfg.File(0), "format": cfg.Format})
	return f, nil
}

func (f *ZonesFiller) marker() string { return markerKey("zones", f.cfg.Level, f.cfg.GisType) }

// Prepare：完成标记与区域几何写在不同事务里，只有标记（随边一同提交）表示整个单元已完成
func (f *ZonesFiller) Prepare(ctx context.Context) error {
	ok, err := store.Filled(ctx, f.DB(), f.marker())
	if err != nil {
		return err
	}
	if ok {
		f.SetDone()
		return nil
	}
	file := f.cfg.File(0)
	if err := ensureSource(ctx, f.dl, &f.Base, file, f.cfg.URL); err != nil {
		return err
	}
	f.zones, err = loadZones(f.Path(file), f.cfg.Knobs, f.cfg.Columns, f.cfg.Header)
	return err
}

func (f *ZonesFiller) Apply(ctx context.Context) error {
	file := f.cfg.File(0)
	if err := f.RecordFile(ctx, file, "zones_"+f.cfg.Level); err != nil {
		return err
	}
	db := f.DB()
	level, err := store.EnsureLevel(ctx, db, f.cfg.Level, f.cfg.LevelPretty)
	if err != nil {
		return err
	}
	gisType, err := store.EnsureGisType(ctx, db, f.cfg.GisType)
	if err != nil {
		return err
	}
	geomFmt, _ := f.cfg.geomFormat()
	b, err := store.NewBatch(ctx, db, "gis_data", 0)
	if err != nil {
		return err
	}
	defer b.Rollback()
	for _, z := range f.zones {
		if err := store.InsertZone(ctx, b.Tx(), store.Zone{Level: level, ID: z.ID, Code: z.Code, Name: z.Name}); err != nil {
			return fmt.Errorf("zone %s: %w", z.Code, err)
		}
		if err := store.InsertGis(ctx, b.Tx(), level, gisType, z.ID, geomFmt, z.Geom, nil); err != nil {
			return fmt.Errorf("gis %s: %w", z.Code, err)
		}
		if err := b.Step(ctx); err != nil {
			return err
		}
	}
	if err := b.Commit(); err != nil {
		return err
	}
	logger.L().Info("zones_filled", "filler", f.Name(), "level", f.cfg.Level, "zones", len(f.zones))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, name := range f.cfg.ChildLevels {
		child, err := store.LevelID(ctx, tx, name)
		if err != nil {
			logger.L().Warn("overlap_level_missing", "filler", f.Name(), "level", name, "err", err)
			continue
		}
		if _, err := OverlapEdges(ctx, tx, level, child, gisType); err != nil {
			return err
		}
	}
	for _, name := range f.cfg.ParentLevels {
		parent, err := store.LevelID(ctx, tx, name)
		if err != nil {
			logger.L().Warn("overlap_level_missing", "filler", f.Name(), "level", name, "err", err)
			continue
		}
		if _, err := OverlapEdges(ctx, tx, parent, level, gisType); err != nil {
			return err
		}
	}
	if err := store.MarkFilled(ctx, tx, f.marker(), "zones"); err != nil {
		return err
	}
	return tx.Commit()
}

const overlapSQL = `SELECT gdp.zone_id, gdc.zone_id,
	ST_Area(ST_Intersection(gdc.geom, gdp.geom)::geography),
	ST_Area(gdc.geom::geography)
FROM gis_data gdp
JOIN gis_data gdc ON gdc.gis_type = gdp.gis_type AND gdc.zone_level = $2 AND ST_Intersects(gdc.geom, gdp.geom)
WHERE gdp.zone_level = $1 AND gdp.gis_type = $3
ORDER BY gdp.zone_id, gdc.zone_id`

// OverlapEdges：按几何重叠推导两层级之间的边并冲突跳过写入，返回新写入条数
// 约束：份额 = 交集面积 / 子区域面积（球面面积）；只接触边界、份额为 0 的相交对不产生边
func OverlapEdges(ctx context.Context, q store.Querier, parentLevel, childLevel, gisType int64) (int, error) {
	rows, err := q.QueryContext(ctx, overlapSQL, parentLevel, childLevel, gisType)
	if err != nil {
		return 0, fmt.Errorf("overlap %d/%d: %w", parentLevel, childLevel, err)
	}
	var edges []hierarchy.Edge
	for rows.Next() {
		var parent, child int64
		var inter, area float64
		if err := rows.Scan(&parent, &child, &inter, &area); err != nil {
			rows.Close()
			return 0, err
		}
		share := hierarchy.OverlapShare(inter, area)
		if share <= 0 {
			continue
		}
		edges = append(edges, hierarchy.Edge{ParentLevel: parentLevel, Parent: parent, ChildLevel: childLevel, Child: child, Share: share})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	n, err := store.InsertEdges(ctx, q, edges)
	if err != nil {
		return n, err
	}
	logger.L().Info("overlap_edges", "parent_level", parentLevel, "child_level", childLevel, "candidates", len(edges), "inserted", n)
	return n, nil
}
