// 包 migrate：空间库的基线结构与脚本切分
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gis-fillers/internal/logger"
)

// Execer：*sql.DB 与 *sql.Tx 的公共子集
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BaselineSchema：区域层级、几何、溯源与执行日志的建表语句
// 背景：所有填充器依赖同一组稳定表名；首次运行自动创建，重复执行无副作用
// 约束：全部使用 IF NOT EXISTS；几何统一 SRID 4326
func BaselineSchema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS zone_levels (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			pretty_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS zones (
			id BIGINT NOT NULL,
			level INT NOT NULL REFERENCES zone_levels(id) ON DELETE CASCADE,
			code TEXT,
			name TEXT,
			PRIMARY KEY (level, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS zones_level_code_idx ON zones(level, code)`,
		`CREATE TABLE IF NOT EXISTS gis_types (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS gis_data (
			zone_id BIGINT NOT NULL,
			zone_level INT NOT NULL,
			gis_type INT NOT NULL REFERENCES gis_types(id) ON DELETE CASCADE,
			geom geometry(MultiPolygon, 4326),
			center geometry(Point, 4326),
			PRIMARY KEY (zone_id, zone_level, gis_type),
			FOREIGN KEY (zone_level, zone_id) REFERENCES zones(level, id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS gis_data_geom_idx ON gis_data USING GIST (geom)`,
		`CREATE TABLE IF NOT EXISTS zone_parents (
			parent_level INT NOT NULL,
			parent BIGINT NOT NULL,
			child_level INT NOT NULL,
			child BIGINT NOT NULL,
			share DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			PRIMARY KEY (parent_level, parent, child_level, child),
			FOREIGN KEY (parent_level, parent) REFERENCES zones(level, id) ON DELETE CASCADE,
			FOREIGN KEY (child_level, child) REFERENCES zones(level, id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS zone_parents_child_idx ON zone_parents(child_level, child)`,
		`CREATE TABLE IF NOT EXISTS zone_attribute_types (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS zone_attributes (
			zone BIGINT NOT NULL,
			zone_level INT NOT NULL,
			attribute INT NOT NULL REFERENCES zone_attribute_types(id) ON DELETE CASCADE,
			int_value BIGINT,
			PRIMARY KEY (zone, zone_level, attribute)
		)`,
		`CREATE TABLE IF NOT EXISTS file_hash (
			filecode TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			hash TEXT NOT NULL,
			hash_algo TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS data_sources (
			filecode TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS fill_markers (
			key TEXT PRIMARY KEY,
			target_table TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS _exec_info (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			program TEXT NOT NULL,
			content TEXT,
			content_hash TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS _fillers_info (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			filler_class TEXT NOT NULL,
			filler_name TEXT NOT NULL,
			filler_args TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS cached_addresses (
			address TEXT PRIMARY KEY,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			backend TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS geonames_zipcodes (
			country_code TEXT NOT NULL,
			zip_code TEXT NOT NULL,
			place_name TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			geom geometry(Point, 4326),
			PRIMARY KEY (country_code, zip_code)
		)`,
		`CREATE TABLE IF NOT EXISTS plz_gemeinde (
			plz TEXT NOT NULL,
			gemeinde_id BIGINT NOT NULL,
			PRIMARY KEY (plz, gemeinde_id)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_roads (
			road_id TEXT PRIMARY KEY,
			kind TEXT,
			name TEXT,
			geom geometry(Geometry, 4326)
		)`,
		`CREATE INDEX IF NOT EXISTS batch_roads_geom_idx ON batch_roads USING GIST (geom)`,
		`CREATE TABLE IF NOT EXISTS road_lengths (
			zone_level INT NOT NULL,
			zone BIGINT NOT NULL,
			gis_type INT NOT NULL,
			kind TEXT NOT NULL,
			length_m DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (zone_level, zone, gis_type, kind)
		)`,
	}
}

// LogTables：执行日志两张表，编排器在每次运行前单独确认存在
func LogTables() []string {
	all := BaselineSchema()
	var out []string
	for _, s := range all {
		if strings.Contains(s, "_exec_info") || strings.Contains(s, "_fillers_info") {
			out = append(out, s)
		}
	}
	return out
}

// SplitScript：切分外部 SQL 脚本
// 约束：以 "--" 开头的行整体视为注释丢弃；按 ";" 切分；空片段忽略。
// 语句内部的字符串字面量若含 ";" 会被错误切开，脚本作者需自行避免
func SplitScript(script string) []string {
	lines := strings.Split(script, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimLeft(l, " \t"), "--") {
			continue
		}
		kept = append(kept, l)
	}
	var out []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnsureSchema：依次执行 pre 语句、基线结构、post 语句
// 异常：任一语句失败立即返回，附带阶段与序号
func EnsureSchema(ctx context.Context, db Execer, pre, post []string) error {
	stages := []struct {
		name  string
		stmts []string
	}{
		{"pre", pre},
		{"baseline", BaselineSchema()},
		{"post", post},
	}
	for _, st := range stages {
		for i, s := range st.stmts {
			logger.L().Debug("schema_exec", "stage", st.name, "idx", i)
			if _, err := db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("schema %s[%d]: %w", st.name, i, err)
			}
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
