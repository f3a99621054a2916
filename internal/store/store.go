// 包 store：空间库的数据访问层，封装层级、区域、几何、父子边与属性的读写
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"gis-fillers/internal/hierarchy"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"

	"github.com/lib/pq"
)

// Querier：*sql.DB 与 *sql.Tx 的公共子集，写入函数同时可用于事务内外
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var ErrUnsafeIdentifier = errors.New("unsafe sql identifier")

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SafeIdent：动态表名/列名的白名单校验与引用
// 约束：只允许字母、数字、下划线；通过校验后再用 pq.QuoteIdentifier 包裹
func SafeIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeIdentifier, name)
	}
	return pq.QuoteIdentifier(name), nil
}

// SafeIdents：批量校验，任一失败即返回错误
func SafeIdents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := SafeIdent(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Exists：表存在且至少有一行时返回 true
// 背景：填充器的低成本后置条件检查；表尚未创建视为空
func Exists(ctx context.Context, q Querier, table string) (bool, error) {
	qt, err := SafeIdent(table)
	if err != nil {
		return false, err
	}
	var present bool
	if err := q.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&present); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !present {
		return false, nil
	}
	var has bool
	err = q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+qt+` LIMIT 1)`).Scan(&has)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return has, err
}

// QueryBool：执行返回单个布尔值的查询；无结果行视为 false
func QueryBool(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var b bool
	err := q.QueryRowContext(ctx, query, args...).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return b, err
}

// EnsureLevel：按名称获取层级编号，不存在则创建
func EnsureLevel(ctx context.Context, q Querier, name, pretty string) (int64, error) {
	if pretty == "" {
		pretty = name
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO zone_levels(name, pretty_name) VALUES($1, $2) ON CONFLICT (name) DO NOTHING`, name, pretty); err != nil {
		return 0, fmt.Errorf("ensure zone level %s: %w", name, err)
	}
	return lookupID(ctx, q, `SELECT id FROM zone_levels WHERE name=$1`, name)
}

// LevelID：只读查询层级编号；不存在时返回 sql.ErrNoRows
func LevelID(ctx context.Context, q Querier, name string) (int64, error) {
	return lookupID(ctx, q, `SELECT id FROM zone_levels WHERE name=$1`, name)
}

func EnsureGisType(ctx context.Context, q Querier, name string) (int64, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO gis_types(name) VALUES($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return 0, fmt.Errorf("ensure gis type %s: %w", name, err)
	}
	return lookupID(ctx, q, `SELECT id FROM gis_types WHERE name=$1`, name)
}

func GisTypeID(ctx context.Context, q Querier, name string) (int64, error) {
	return lookupID(ctx, q, `SELECT id FROM gis_types WHERE name=$1`, name)
}

func EnsureAttributeType(ctx context.Context, q Querier, name string) (int64, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO zone_attribute_types(name) VALUES($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return 0, fmt.Errorf("ensure attribute type %s: %w", name, err)
	}
	return lookupID(ctx, q, `SELECT id FROM zone_attribute_types WHERE name=$1`, name)
}

func lookupID(ctx context.Context, q Querier, query, name string) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup %q: %w", name, err)
	}
	return id, nil
}

// Zone：一条区域记录
type Zone struct {
	Level int64
	ID    int64
	Code  string
	Name  string
}

// InsertZone：冲突跳过写入区域；Code 为空时写入 NULL
func InsertZone(ctx context.Context, q Querier, z Zone) error {
	var code any
	if z.Code != "" {
		code = z.Code
	}
	_, err := q.ExecContext(ctx, `INSERT INTO zones(level, id, code, name) VALUES($1, $2, $3, $4) ON CONFLICT DO NOTHING`, z.Level, z.ID, code, z.Name)
	return err
}

// GeomFormat：几何文本的编码格式
type GeomFormat string

const (
	GeomGeoJSON GeomFormat = "geojson"
	GeomWKT     GeomFormat = "wkt"
)

func geomExpr(f GeomFormat, placeholder string) string {
	if f == GeomWKT {
		return "ST_GeomFromText(" + placeholder + ", 4326)"
	}
	return "ST_SetSRID(ST_GeomFromGeoJSON(" + placeholder + "), 4326)"
}

// InsertGis：写入一条几何；center 为空时取 ST_PointOnSurface 保证落在面内
func InsertGis(ctx context.Context, q Querier, level, gisType, zoneID int64, f GeomFormat, geom string, center *[2]float64) error {
	g := geomExpr(f, "$4")
	query := `INSERT INTO gis_data(zone_id, zone_level, gis_type, geom, center)
		SELECT $1, $2, $3, ST_Multi(g), ST_PointOnSurface(g) FROM (SELECT ` + g + ` AS g) s
		ON CONFLICT DO NOTHING`
	args := []any{zoneID, level, gisType, geom}
	if center != nil {
		query = `INSERT INTO gis_data(zone_id, zone_level, gis_type, geom, center)
		VALUES($1, $2, $3, ST_Multi(` + g + `), ST_SetSRID(ST_MakePoint($5, $6), 4326))
		ON CONFLICT DO NOTHING`
		args = append(args, center[0], center[1])
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// InsertEdges：冲突跳过写入父子边，返回写入条数
// 约束：份额一经写入不再更新（DO NOTHING 而非 DO UPDATE）
func InsertEdges(ctx context.Context, q Querier, edges []hierarchy.Edge) (int, error) {
	n := 0
	for _, e := range edges {
		res, err := q.ExecContext(ctx, `INSERT INTO zone_parents(parent_level, parent, child_level, child, share) VALUES($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
			e.ParentLevel, e.Parent, e.ChildLevel, e.Child, e.Share)
		if err != nil {
			return n, fmt.Errorf("insert edge %d/%d -> %d/%d: %w", e.ChildLevel, e.Child, e.ParentLevel, e.Parent, err)
		}
		if c, _ := res.RowsAffected(); c > 0 {
			n += int(c)
		}
	}
	metrics.RowsWrittenTotal.WithLabelValues("zone_parents").Add(float64(n))
	return n, nil
}

// LoadEdges：读取某一层级对之间的全部边
func LoadEdges(ctx context.Context, q Querier, parentLevel, childLevel int64) ([]hierarchy.Edge, error) {
	rows, err := q.QueryContext(ctx, `SELECT parent_level, parent, child_level, child, share FROM zone_parents WHERE parent_level=$1 AND child_level=$2`, parentLevel, childLevel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []hierarchy.Edge
	for rows.Next() {
		var e hierarchy.Edge
		if err := rows.Scan(&e.ParentLevel, &e.Parent, &e.ChildLevel, &e.Child, &e.Share); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadAttributes：读取某层级某属性的全部取值，键为区域编号
func LoadAttributes(ctx context.Context, q Querier, level, attribute int64) (map[int64]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT zone, int_value FROM zone_attributes WHERE zone_level=$1 AND attribute=$2 AND int_value IS NOT NULL`, level, attribute)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]int64)
	for rows.Next() {
		var id, v int64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

// InsertAttributes：冲突跳过写入属性值，按编号升序写入
func InsertAttributes(ctx context.Context, q Querier, level, attribute int64, vals map[int64]int64) (int, error) {
	n := 0
	for _, id := range hierarchy.SortedKeys(vals) {
		res, err := q.ExecContext(ctx, `INSERT INTO zone_attributes(zone, zone_level, attribute, int_value) VALUES($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			id, level, attribute, vals[id])
		if err != nil {
			return n, fmt.Errorf("insert attribute for zone %d: %w", id, err)
		}
		if c, _ := res.RowsAffected(); c > 0 {
			n += int(c)
		}
	}
	metrics.RowsWrittenTotal.WithLabelValues("zone_attributes").Add(float64(n))
	return n, nil
}

// ZoneCodes：层级内 code → id 映射，用于按外部编码匹配属性文件
func ZoneCodes(ctx context.Context, q Querier, level int64) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT code, id FROM zones WHERE level=$1 AND code IS NOT NULL`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

// ZoneIDs：层级内全部区域编号，升序
func ZoneIDs(ctx context.Context, q Querier, level int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM zones WHERE level=$1 ORDER BY id`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordSource：登记数据文件的下载来源
func RecordSource(ctx context.Context, q Querier, filecode, url string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO data_sources(filecode, url) VALUES($1, $2) ON CONFLICT (filecode) DO NOTHING`, filecode, url)
	if err != nil {
		return err
	}
	logger.L().Debug("source_recorded", "filecode", filecode, "url", url)
	return nil
}

// MarkFilled：写入单元完成标记
// 约束：必须在单元最后一个写事务内调用，与最后一批数据一同提交；
// target 为单元写入的主表，重置该表时标记随之清除
func MarkFilled(ctx context.Context, q Querier, key, target string) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO fill_markers(key, target_table) VALUES($1, $2) ON CONFLICT (key) DO NOTHING`, key, target); err != nil {
		return fmt.Errorf("mark %s filled: %w", key, err)
	}
	return nil
}

// Filled：完成标记是否存在
func Filled(ctx context.Context, q Querier, key string) (bool, error) {
	return QueryBool(ctx, q, `SELECT EXISTS (SELECT 1 FROM fill_markers WHERE key = $1)`, key)
}

// ClearMarkers：删除写入指定表的单元的完成标记，返回删除条数
func ClearMarkers(ctx context.Context, q Querier, tables []string) (int64, error) {
	if len(tables) == 0 {
		return 0, nil
	}
	res, err := q.ExecContext(ctx, `DELETE FROM fill_markers WHERE target_table = ANY($1)`, pq.Array(tables))
	if err != nil {
		return 0, fmt.Errorf("clear fill markers: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
