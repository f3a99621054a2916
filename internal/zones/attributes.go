package zones

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/hierarchy"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"
	"gis-fillers/internal/store"
)

// parseCount：人口类计数，允许千分位空格与撇号
func parseCount(s string) (int64, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", "'", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(v)), nil
}

func attributePresent(ctx context.Context, q store.Querier, level, attribute string) (bool, error) {
	return store.QueryBool(ctx, q, `SELECT EXISTS (
		SELECT 1 FROM zone_attributes za
		JOIN zone_levels zl ON zl.id = za.zone_level AND zl.name = $1
		JOIN zone_attribute_types t ON t.id = za.attribute AND t.name = $2)`, level, attribute)
}

// AttributeConfig：叶子属性 CSV（编码,取值）
type AttributeConfig struct {
	Level       string `yaml:"level"`
	Attribute   string `yaml:"attribute"`
	File        string `yaml:"file"`
	URL         string `yaml:"url"`
	Header      bool   `yaml:"header"`
	Delimiter   string `yaml:"delimiter"`
	CodeColumn  int    `yaml:"code_column"`
	ValueColumn int    `yaml:"value_column"`
	// ByCode：按 zones.code 匹配；否则编码列即区域编号
	ByCode bool `yaml:"by_code"`
}

// AttributeFiller：把权威的叶子属性值写入 zone_attributes
type AttributeFiller struct {
	filler.Base
	cfg  AttributeConfig
	dl   Downloader
	recs [][]string
}

func NewAttribute(cfg AttributeConfig, opts filler.Options) (*AttributeFiller, error) {
	if cfg.Level == "" || cfg.Attribute == "" || cfg.File == "" {
		return nil, fmt.Errorf("attribute filler: level, attribute and file are required")
	}
	if cfg.CodeColumn == cfg.ValueColumn {
		cfg.ValueColumn = cfg.CodeColumn + 1
	}
	if opts.Name == "" {
		opts.Name = cfg.Level + "_" + cfg.Attribute
	}
	f := &AttributeFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"level": cfg.Level, "attribute": cfg.Attribute, "file": cfg.File})
	return f, nil
}

func (f *AttributeFiller) Prepare(ctx context.Context) error {
	ok, err := attributePresent(ctx, f.DB(), f.cfg.Level, f.cfg.Attribute)
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
	f.recs, err = readCSV(f.Path(f.cfg.File), commaOf(f.cfg.Delimiter), f.cfg.Header)
	return err
}

// Apply：无法解析的行跳过并计数；按编码匹配时找不到的编码同样跳过
func (f *AttributeFiller) Apply(ctx context.Context) error {
	if err := f.RecordFile(ctx, f.cfg.File, f.cfg.Level+"_"+f.cfg.Attribute); err != nil {
		return err
	}
	tx, err := f.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	level, err := store.LevelID(ctx, tx, f.cfg.Level)
	if err != nil {
		return fmt.Errorf("level %s must be filled before its attributes: %w", f.cfg.Level, err)
	}
	attr, err := store.EnsureAttributeType(ctx, tx, f.cfg.Attribute)
	if err != nil {
		return err
	}
	var codes map[string]int64
	if f.cfg.ByCode {
		if codes, err = store.ZoneCodes(ctx, tx, level); err != nil {
			return err
		}
	}
	vals := make(map[int64]int64, len(f.recs))
	skipped := 0
	for _, r := range f.recs {
		key := column(r, f.cfg.CodeColumn)
		v, err := parseCount(column(r, f.cfg.ValueColumn))
		if err != nil {
			skipped++
			continue
		}
		var id int64
		if f.cfg.ByCode {
			var ok bool
			if id, ok = codes[key]; !ok {
				skipped++
				continue
			}
		} else if id, err = strconv.ParseInt(key, 10, 64); err != nil {
			skipped++
			continue
		}
		vals[id] = v
	}
	n, err := store.InsertAttributes(ctx, tx, level, attr, vals)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("attributes_filled", "filler", f.Name(), "inserted", n, "skipped", skipped)
	return nil
}

// RollupConfig：叶子属性汇总到上级层级
type RollupConfig struct {
	LeafLevel string   `yaml:"leaf_level"`
	Levels    []string `yaml:"levels"`
	Attribute string   `yaml:"attribute"`
	// Tolerance：份额和偏离 1 的容差，超出时告警
	Tolerance float64 `yaml:"tolerance"`
}

// RollupFiller：上级值 = Σ 叶子值 × 边份额
// 约束：只从叶子层推导，不逐级叠加；没有叶子边的上级区域不写入；
// 份额和异常（重叠导致重复计数、覆盖不足或叶子没有任何边）只告警，不阻止写入
type RollupFiller struct {
	filler.Base
	cfg RollupConfig
}

func NewRollup(cfg RollupConfig, opts filler.Options) (*RollupFiller, error) {
	if cfg.LeafLevel == "" {
		cfg.LeafLevel = "zaehlsprengel"
	}
	if cfg.Attribute == "" || len(cfg.Levels) == 0 {
		return nil, fmt.Errorf("rollup filler: attribute and levels are required")
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-6
	}
	if opts.Name == "" {
		opts.Name = "rollup_" + cfg.Attribute
	}
	f := &RollupFiller{Base: filler.NewBase(opts), cfg: cfg}
	f.SetArgs(map[string]any{"leaf_level": cfg.LeafLevel, "levels": cfg.Levels, "attribute": cfg.Attribute})
	return f, nil
}

// Prepare：所有目标层级都已有该属性时完成
func (f *RollupFiller) Prepare(ctx context.Context) error {
	for _, l := range f.cfg.Levels {
		ok, err := attributePresent(ctx, f.DB(), l, f.cfg.Attribute)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	f.SetDone()
	return nil
}

func (f *RollupFiller) Apply(ctx context.Context) error {
	tx, err := f.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	leafLevel, err := store.LevelID(ctx, tx, f.cfg.LeafLevel)
	if err != nil {
		return fmt.Errorf("leaf level %s: %w", f.cfg.LeafLevel, err)
	}
	attr, err := store.EnsureAttributeType(ctx, tx, f.cfg.Attribute)
	if err != nil {
		return err
	}
	leaf, err := store.LoadAttributes(ctx, tx, leafLevel, attr)
	if err != nil {
		return err
	}
	leafIDs, err := store.ZoneIDs(ctx, tx, leafLevel)
	if err != nil {
		return err
	}
	leafKeys := make([]hierarchy.ZoneKey, len(leafIDs))
	for i, id := range leafIDs {
		leafKeys[i] = hierarchy.ZoneKey{Level: leafLevel, ID: id}
	}
	for _, name := range f.cfg.Levels {
		level, err := store.LevelID(ctx, tx, name)
		if err != nil {
			return fmt.Errorf("level %s: %w", name, err)
		}
		edges, err := store.LoadEdges(ctx, tx, level, leafLevel)
		if err != nil {
			return err
		}
		if bad := hierarchy.CheckCoverage(leafKeys, level, edges, f.cfg.Tolerance); len(bad) > 0 {
			metrics.ShareViolationsTotal.Add(float64(len(bad)))
			logger.L().Warn("share_sum_violation", "filler", f.Name(), "level", name, "children", len(bad), "first", bad[0].String())
		}
		vals := hierarchy.RoundValues(hierarchy.Rollup(edges, leafLevel, leaf))
		n, err := store.InsertAttributes(ctx, tx, level, attr, vals)
		if err != nil {
			return err
		}
		logger.L().Info("rollup_level", "filler", f.Name(), "level", name, "zones", len(vals), "inserted", n)
	}
	return tx.Commit()
}
