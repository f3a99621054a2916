package resolver

import (
	"context"
	"fmt"
	"strings"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"
	"gis-fillers/internal/store"

	"gopkg.in/yaml.v3"
)

// Config：位置解析单元参数，对应 loc_resolver_args 的一项
type Config struct {
	Table        string         `yaml:"table"`
	IDColumns    []string       `yaml:"id_columns"`
	LocColumns   []string       `yaml:"location_columns"`
	GeomColumn   string         `yaml:"geom_column"`
	Strategy     string         `yaml:"strategy"`
	Skippable    bool           `yaml:"skippable"`
	StrategyArgs map[string]any `yaml:"strategy_args"`
}

// ConfigFromArgs：把松散的参数映射解码为 Config
func ConfigFromArgs(args map[string]any) (Config, error) {
	var cfg Config
	b, err := yaml.Marshal(args)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("loc_resolver_args: %w", err)
	}
	return cfg, nil
}

// LocationResolver：为几何列为空的行解析并回写坐标
type LocationResolver struct {
	filler.Base
	cfg  Config
	deps Deps
	impl Strategy

	table   string
	idCols  []string
	locCols []string
	geomCol string
}

// New：按标签选择策略
// 异常：未知标签、缺少参数、非法标识符在构造时即返回错误
func New(cfg Config, deps Deps, opts filler.Options) (*LocationResolver, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = "address"
	}
	if _, ok := strategies[cfg.Strategy]; !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStrategy, cfg.Strategy, strings.Join(Tags(), ", "))
	}
	if cfg.Strategy == "address" && deps.Geocoder == nil {
		return nil, fmt.Errorf("%w: geocoder for address resolution", ErrMissingArg)
	}
	return newResolver(cfg, deps, nil, opts)
}

// NewWithStrategy：直接提供策略实现，忽略 cfg.Strategy
func NewWithStrategy(cfg Config, s Strategy, opts filler.Options) (*LocationResolver, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: strategy", ErrMissingArg)
	}
	return newResolver(cfg, Deps{}, s, opts)
}

func newResolver(cfg Config, deps Deps, impl Strategy, opts filler.Options) (*LocationResolver, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("%w: table", ErrMissingArg)
	}
	if len(cfg.LocColumns) == 0 {
		return nil, fmt.Errorf("%w: location_columns", ErrMissingArg)
	}
	if len(cfg.IDColumns) == 0 {
		cfg.IDColumns = []string{"id"}
	}
	if cfg.GeomColumn == "" {
		cfg.GeomColumn = "geom"
	}
	table, err := store.SafeIdent(cfg.Table)
	if err != nil {
		return nil, err
	}
	idCols, err := store.SafeIdents(cfg.IDColumns)
	if err != nil {
		return nil, err
	}
	locCols, err := store.SafeIdents(cfg.LocColumns)
	if err != nil {
		return nil, err
	}
	geomCol, err := store.SafeIdent(cfg.GeomColumn)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "LocationResolver_" + cfg.Table
	}
	opts.LocResolve = false
	r := &LocationResolver{
		Base:    filler.NewBase(opts),
		cfg:     cfg,
		deps:    deps,
		impl:    impl,
		table:   table,
		idCols:  idCols,
		locCols: locCols,
		geomCol: geomCol,
	}
	r.SetArgs(map[string]any{
		"table":            cfg.Table,
		"id_columns":       cfg.IDColumns,
		"location_columns": cfg.LocColumns,
		"geom_column":      cfg.GeomColumn,
		"strategy":         r.strategyName(),
		"skippable":        cfg.Skippable,
	})
	return r, nil
}

// Factory：供 filler.Options.NewResolver 使用
func Factory(deps Deps) filler.ResolverFactory {
	return func(args map[string]any) (filler.Filler, error) {
		cfg, err := ConfigFromArgs(args)
		if err != nil {
			return nil, err
		}
		return New(cfg, deps, filler.Options{})
	}
}

func (r *LocationResolver) strategyName() string {
	if r.impl != nil {
		return fmt.Sprintf("%T", r.impl)
	}
	return r.cfg.Strategy
}

// Prepare：没有待解析的行即视为完成
func (r *LocationResolver) Prepare(ctx context.Context) error {
	if !r.Attached() {
		return filler.ErrNoHost
	}
	pending, err := store.QueryBool(ctx, r.DB(), `SELECT EXISTS (SELECT 1 FROM `+r.table+` WHERE `+r.geomCol+` IS NULL)`)
	if err != nil {
		return err
	}
	if !pending {
		r.SetDone()
	}
	return nil
}

// Apply：读出待解析行、调用策略、按标识列回写
// 约束：回写条件带 geom IS NULL，期间已被其他解析写入的行不被覆盖；
// 结果条数与请求不一致视为正确性错误，直接中止
func (r *LocationResolver) Apply(ctx context.Context) error {
	keys, locs, err := r.pendingRows(ctx)
	if err != nil {
		return err
	}
	if len(locs) == 0 {
		return nil
	}
	strat := r.impl
	if strat == nil {
		strat, err = Build(r.cfg.Strategy, r.DB(), r.deps, r.cfg.StrategyArgs, r.cfg.Skippable)
		if err != nil {
			return err
		}
	}
	logger.L().Info("resolve_start", "table", r.cfg.Table, "strategy", r.strategyName(), "rows", len(locs))
	results, err := strat.Resolve(ctx, locs)
	if err != nil {
		if r.cfg.Skippable {
			logger.L().Warn("resolve_skipped", "table", r.cfg.Table, "err", err)
			return nil
		}
		return err
	}
	if len(results) != len(locs) {
		return fmt.Errorf("%w: %d locations, %d results", ErrResultMismatch, len(locs), len(results))
	}
	return r.writeBack(ctx, keys, results)
}

func (r *LocationResolver) pendingRows(ctx context.Context) ([][]any, []Location, error) {
	cols := make([]string, 0, len(r.idCols)+len(r.locCols))
	cols = append(cols, r.idCols...)
	for _, c := range r.locCols {
		cols = append(cols, c+"::text")
	}
	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + r.table + ` WHERE ` + r.geomCol + ` IS NULL ORDER BY ` + strings.Join(r.idCols, ", ")
	rows, err := r.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var keys [][]any
	var locs []Location
	for rows.Next() {
		ids := make([]any, len(r.idCols))
		texts := make([]*string, len(r.locCols))
		dest := make([]any, 0, len(ids)+len(texts))
		for i := range ids {
			dest = append(dest, &ids[i])
		}
		for i := range texts {
			dest = append(dest, &texts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		for i, v := range ids {
			if b, ok := v.([]byte); ok {
				ids[i] = string(b)
			}
		}
		loc := Location{Fields: make([]string, len(texts))}
		for i, t := range texts {
			if t != nil {
				loc.Fields[i] = *t
			}
		}
		keys = append(keys, ids)
		locs = append(locs, loc)
	}
	return keys, locs, rows.Err()
}

func (r *LocationResolver) writeBack(ctx context.Context, keys [][]any, results []Result) error {
	where := make([]string, len(r.idCols))
	for i, c := range r.idCols {
		where[i] = fmt.Sprintf("%s=$%d", c, i+3)
	}
	query := `UPDATE ` + r.table + ` SET ` + r.geomCol + `=ST_SetSRID(ST_MakePoint($1, $2), 4326) WHERE ` +
		strings.Join(where, " AND ") + ` AND ` + r.geomCol + ` IS NULL`
	tx, err := r.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	resolved, updated := 0, int64(0)
	for i, res := range results {
		if !res.OK {
			continue
		}
		resolved++
		args := append([]any{res.Lon, res.Lat}, keys[i]...)
		out, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", r.cfg.Table, err)
		}
		if n, _ := out.RowsAffected(); n > 0 {
			updated += n
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.RowsWrittenTotal.WithLabelValues(r.cfg.Table).Add(float64(updated))
	logger.L().Info("resolve_done", "table", r.cfg.Table, "rows", len(results), "resolved", resolved, "updated", updated)
	return nil
}
