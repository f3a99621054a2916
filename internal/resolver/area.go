package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gis-fillers/internal/logger"
)

// AreaResolver：在区域几何内取一个随机点
// 背景：只知道所属区域（如统计区编码）的记录，用区域内随机点作为代表位置
// 参数：Fields[0] 为区域编码，Fields[1]（可选）为层级名，缺省用 Level
type AreaResolver struct {
	DB      *sql.DB
	Level   string
	GisType string
	Seed    int
}

const areaPointSQL = `SELECT ST_Y(p.geom), ST_X(p.geom) FROM (
	SELECT (ST_Dump(ST_GeneratePoints(gd.geom, 1, $4))).geom AS geom
	FROM gis_data gd
	JOIN zones z ON z.id = gd.zone_id AND z.level = gd.zone_level
	JOIN zone_levels zl ON zl.id = z.level
	JOIN gis_types gt ON gt.id = gd.gis_type
	WHERE zl.name = $1 AND z.code = $2 AND ($3 = '' OR gt.name = $3)
	ORDER BY gt.id
	LIMIT 1
) p`

func newAreaStrategy(db *sql.DB, _ Deps, args map[string]any, _ bool) (Strategy, error) {
	return &AreaResolver{
		DB:      db,
		Level:   argString(args, "zone_level", ""),
		GisType: argString(args, "gis_type", ""),
		Seed:    argInt(args, "seed", 1),
	}, nil
}

func (a *AreaResolver) Resolve(ctx context.Context, locs []Location) ([]Result, error) {
	out := make([]Result, len(locs))
	for i, l := range locs {
		code := l.Field(0)
		level := l.Field(1)
		if level == "" {
			level = a.Level
		}
		if code == "" {
			continue
		}
		if level == "" {
			return nil, fmt.Errorf("%w: zone_level for area resolution", ErrMissingArg)
		}
		var lat, lon float64
		err := a.DB.QueryRowContext(ctx, areaPointSQL, level, code, a.GisType, a.Seed).Scan(&lat, &lon)
		if errors.Is(err, sql.ErrNoRows) {
			logger.L().Debug("area_unresolved", "level", level, "code", code)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("area point for %s/%s: %w", level, code, err)
		}
		out[i] = Found(lat, lon)
	}
	return out, nil
}
