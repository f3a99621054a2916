package zones

import (
	"context"
	"fmt"
	"strconv"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/hierarchy"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/store"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LevelDivisor：由叶子编号整除得到的上级层级
type LevelDivisor struct {
	Name    string `yaml:"name"`
	Pretty  string `yaml:"pretty"`
	Divisor int64  `yaml:"divisor"`
}

// AustrianLevels：统计局编码 zaehlsprengel(9 位) → gemeinde → bezirk → bundesland
func AustrianLevels() []LevelDivisor {
	return []LevelDivisor{
		{Name: "gemeinde", Pretty: "Gemeinde", Divisor: 1000},
		{Name: "bezirk", Pretty: "Bezirk", Divisor: 100000},
		{Name: "bundesland", Pretty: "Bundesland", Divisor: 10000000},
	}
}

// PrefixConfig：按位编码层级的填充参数
type PrefixConfig struct {
	Knobs      `yaml:",inline"`
	Columns    Columns        `yaml:"columns"`
	Header     bool           `yaml:"header"`
	Year       int            `yaml:"year"`
	URL        string         `yaml:"url"`
	LeafLevel  string         `yaml:"leaf_level"`
	LeafPretty string         `yaml:"leaf_pretty"`
	Levels     []LevelDivisor `yaml:"levels"`
	// NamesFile：可选 CSV（level,id,name），为上级层级提供名称
	NamesFile string `yaml:"names_file"`
	// Attribute：非空时把 Columns.Value 写为叶子属性
	Attribute string `yaml:"attribute"`
	// Country：ISO 代码；非空时在最上层之上再挂一个国家区域
	Country string `yaml:"country"`
}

func (c *PrefixConfig) defaults() {
	if c.GisType == "" {
		c.GisType = "zaehlsprengel"
	}
	if c.FileTemplate == "" {
		c.FileTemplate = "STATISTIK_AUSTRIA_ZSP_{year}0101_{gis_type}.geojson"
	}
	if c.Year == 0 {
		c.Year = 2023
	}
	if c.LeafLevel == "" {
		c.LeafLevel = "zaehlsprengel"
		c.LeafPretty = "Zählsprengel"
	}
	if c.Levels == nil {
		c.Levels = AustrianLevels()
	}
	if c.Columns == (Columns{}) {
		c.Columns = Columns{Name: 1, Code: 0, Geom: 2, Value: -1, CodeProperty: "g_id", NameProperty: "g_name"}
	}
}

// PrefixHierarchyFiller：叶子层来自源文件，上级层级按编号整除推导
// 背景：叶子编号按位编码了各级上级编号，父子边份额恒为 1；上级几何为子几何的并集
type PrefixHierarchyFiller struct {
	filler.Base
	cfg    PrefixConfig
	dl     Downloader
	leaves []sourceZone
	names  map[string]map[int64]string
}

// NewPrefixHierarchy：上级层级除数必须为正且逐级递增
func NewPrefixHierarchy(cfg PrefixConfig, opts filler.Options) (*PrefixHierarchyFiller, error) {
	cfg.defaults()
	if _, err := cfg.geomFormat(); err != nil {
		return nil, err
	}
	var prev int64 = 1
	for _, l := range cfg.Levels {
		if l.Divisor <= 0 {
			return nil, fmt.Errorf("level %s: %w", l.Name, hierarchy.ErrBadDivisor)
		}
		if l.Divisor <= prev {
			return nil, fmt.Errorf("level %s: divisor %d must exceed %d", l.Name, l.Divisor, prev)
		}
		prev = l.Divisor
	}
	if cfg.Country != "" {
		if _, err := language.ParseRegion(cfg.Country); err != nil {
			return nil, fmt.Errorf("country %q: %w", cfg.Country, err)
		}
	}
	if opts.Name == "" {
		opts.Name = cfg.GisType
	}
	f := &PrefixHierarchyFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"gis_type": cfg.GisType, "file": cfg.File(cfg.Year), "leaf_level": cfg.LeafLevel, "year": cfg.Year})
	return f, nil
}

func (f *PrefixHierarchyFiller) marker() string {
	return markerKey("prefix_hierarchy", f.cfg.LeafLevel, f.cfg.GisType)
}

// Prepare：最后一个事务写入的完成标记存在（且配置的叶子属性存在）则完成；
// 否则确保源文件就绪并读入内存
// 约束：叶子编码必须是互不相同的整数，上级编号由其整除得到
func (f *PrefixHierarchyFiller) Prepare(ctx context.Context) error {
	ok, err := store.Filled(ctx, f.DB(), f.marker())
	if err != nil {
		return err
	}
	if ok && f.cfg.Attribute != "" {
		if ok, err = attributePresent(ctx, f.DB(), f.cfg.LeafLevel, f.cfg.Attribute); err != nil {
			return err
		}
	}
	if ok {
		f.SetDone()
		return nil
	}
	file := f.cfg.File(f.cfg.Year)
	if err := ensureSource(ctx, f.dl, &f.Base, file, f.cfg.URL); err != nil {
		return err
	}
	f.leaves, err = loadZones(f.Path(file), f.cfg.Knobs, f.cfg.Columns, f.cfg.Header)
	if err != nil {
		return err
	}
	for _, z := range f.leaves {
		if _, err := strconv.ParseInt(z.Code, 10, 64); err != nil {
			return fmt.Errorf("%s: %w: %q", file, ErrNonNumericCode, z.Code)
		}
	}
	// 全部为整数但编号不等于编码时，说明存在重复编码
	for _, z := range f.leaves {
		if n, _ := strconv.ParseInt(z.Code, 10, 64); n != z.ID {
			return fmt.Errorf("%s: %w: duplicate code %q", file, ErrNonNumericCode, z.Code)
		}
	}
	f.names = map[string]map[int64]string{}
	if f.cfg.NamesFile != "" {
		recs, err := readCSV(f.Path(f.cfg.NamesFile), ',', true)
		if err != nil {
			return err
		}
		for _, r := range recs {
			id, err := strconv.ParseInt(column(r, 1), 10, 64)
			if err != nil {
				continue
			}
			lvl := column(r, 0)
			if f.names[lvl] == nil {
				f.names[lvl] = map[int64]string{}
			}
			f.names[lvl][id] = column(r, 2)
		}
	}
	logger.L().Info("prefix_source_loaded", "filler", f.Name(), "zones", len(f.leaves))
	return nil
}

// Apply：写叶子区域与几何，再逐级写上级区域、份额为 1 的边与并集几何
func (f *PrefixHierarchyFiller) Apply(ctx context.Context) error {
	file := f.cfg.File(f.cfg.Year)
	if err := f.RecordFile(ctx, file, f.cfg.GisType); err != nil {
		return err
	}
	db := f.DB()
	if f.cfg.URL != "" {
		if err := store.RecordSource(ctx, db, f.cfg.GisType, f.cfg.URL); err != nil {
			return err
		}
	}
	leafLevel, err := store.EnsureLevel(ctx, db, f.cfg.LeafLevel, f.cfg.LeafPretty)
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
	ids := make([]int64, 0, len(f.leaves))
	for _, z := range f.leaves {
		if err := store.InsertZone(ctx, b.Tx(), store.Zone{Level: leafLevel, ID: z.ID, Code: z.Code, Name: z.Name}); err != nil {
			return fmt.Errorf("zone %d: %w", z.ID, err)
		}
		if err := store.InsertGis(ctx, b.Tx(), leafLevel, gisType, z.ID, geomFmt, z.Geom, nil); err != nil {
			return fmt.Errorf("gis %d: %w", z.ID, err)
		}
		if err := b.Step(ctx); err != nil {
			return err
		}
		ids = append(ids, z.ID)
	}
	if err := b.Commit(); err != nil {
		return err
	}
	if f.cfg.Attribute != "" {
		if err := f.fillLeafAttribute(ctx, leafLevel); err != nil {
			return err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var levels []builtLevel
	for _, l := range f.cfg.Levels {
		lvl, err := store.EnsureLevel(ctx, tx, l.Name, l.Pretty)
		if err != nil {
			return err
		}
		parents := hierarchy.PrefixParents(ids, l.Divisor)
		for _, p := range parents {
			if err := store.InsertZone(ctx, tx, store.Zone{Level: lvl, ID: p, Code: strconv.FormatInt(p, 10), Name: f.name(l.Name, p)}); err != nil {
				return err
			}
		}
		edges, err := hierarchy.PrefixEdges(leafLevel, ids, lvl, l.Divisor)
		if err != nil {
			return err
		}
		// 上级之间的边：除数整除时 (id/d1)/(d2/d1) == id/d2
		for _, lower := range levels {
			if l.Divisor%lower.divisor != 0 {
				continue
			}
			up, err := hierarchy.PrefixEdges(lower.level, lower.ids, lvl, l.Divisor/lower.divisor)
			if err != nil {
				return err
			}
			edges = append(edges, up...)
		}
		if _, err := store.InsertEdges(ctx, tx, edges); err != nil {
			return err
		}
		if err := unionGeometry(ctx, tx, lvl, leafLevel, gisType); err != nil {
			return err
		}
		levels = append(levels, builtLevel{level: lvl, divisor: l.Divisor, ids: parents})
		logger.L().Info("prefix_level_filled", "filler", f.Name(), "level", l.Name, "zones", len(parents))
	}
	if f.cfg.Country != "" {
		if err := f.fillCountry(ctx, tx, leafLevel, gisType, ids, levels); err != nil {
			return err
		}
	}
	if err := store.MarkFilled(ctx, tx, f.marker(), "zones"); err != nil {
		return err
	}
	return tx.Commit()
}

func (f *PrefixHierarchyFiller) name(level string, id int64) string {
	if n := f.names[level][id]; n != "" {
		return n
	}
	return strconv.FormatInt(id, 10)
}

func (f *PrefixHierarchyFiller) fillLeafAttribute(ctx context.Context, leafLevel int64) error {
	tx, err := f.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	attr, err := store.EnsureAttributeType(ctx, tx, f.cfg.Attribute)
	if err != nil {
		return err
	}
	vals := make(map[int64]int64, len(f.leaves))
	for _, z := range f.leaves {
		v, err := parseCount(z.Value)
		if err != nil {
			continue
		}
		vals[z.ID] = v
	}
	if _, err := store.InsertAttributes(ctx, tx, leafLevel, attr, vals); err != nil {
		return err
	}
	return tx.Commit()
}

// fillCountry：国家区域以 ISO 3166 数字码为编号，叶子与各上级区域都挂在其下
func (f *PrefixHierarchyFiller) fillCountry(ctx context.Context, q store.Querier, leafLevel, gisType int64, leafIDs []int64, levels []builtLevel) error {
	region, err := language.ParseRegion(f.cfg.Country)
	if err != nil {
		return err
	}
	lvl, err := store.EnsureLevel(ctx, q, "country", "Country")
	if err != nil {
		return err
	}
	id := int64(region.M49())
	name := display.English.Regions().Name(region)
	if err := store.InsertZone(ctx, q, store.Zone{Level: lvl, ID: id, Code: region.String(), Name: name}); err != nil {
		return err
	}
	edges := make([]hierarchy.Edge, 0, len(leafIDs))
	for _, c := range leafIDs {
		edges = append(edges, hierarchy.Edge{ParentLevel: lvl, Parent: id, ChildLevel: leafLevel, Child: c, Share: 1})
	}
	for _, l := range levels {
		for _, c := range l.ids {
			edges = append(edges, hierarchy.Edge{ParentLevel: lvl, Parent: id, ChildLevel: l.level, Child: c, Share: 1})
		}
	}
	if _, err := store.InsertEdges(ctx, q, edges); err != nil {
		return err
	}
	return unionGeometry(ctx, q, lvl, leafLevel, gisType)
}

type builtLevel struct {
	level   int64
	divisor int64
	ids     []int64
}

// unionGeometry：上级几何取其叶子几何的并集，中心点取面内点
const unionGeometrySQL = `WITH u AS (
	SELECT zp.parent, ST_Union(gd.geom) AS g
	FROM zone_parents zp
	JOIN gis_data gd ON gd.zone_id = zp.child AND gd.zone_level = zp.child_level AND gd.gis_type = $3
	WHERE zp.parent_level = $1 AND zp.child_level = $2
	GROUP BY zp.parent
)
INSERT INTO gis_data(zone_id, zone_level, gis_type, geom, center)
SELECT u.parent, $1, $3, ST_Multi(u.g), ST_PointOnSurface(u.g) FROM u
ON CONFLICT DO NOTHING`

func unionGeometry(ctx context.Context, q store.Querier, parentLevel, leafLevel, gisType int64) error {
	if _, err := q.ExecContext(ctx, unionGeometrySQL, parentLevel, leafLevel, gisType); err != nil {
		return fmt.Errorf("union geometry for level %d: %w", parentLevel, err)
	}
	return nil
}
