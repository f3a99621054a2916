package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gis-fillers/internal/logger"
	"gis-fillers/internal/migrate"
	"gis-fillers/internal/store"
)

var ErrSecretInSource = errors.New("program source contains a credential-like string; refusing to record it")

// 凭据特征：关键字后紧跟 = 或 :
var secretRe = regexp.MustCompile(`(?i)(password|passwd|secret|token|api_key|apikey)\s*[:=]`)

// InitSchema：执行 pre 脚本、基线结构、post 脚本；随后记录驱动程序来源（可关闭）
// 参数：pre/post 为原始脚本文本，按语句切分并去掉注释行
func (d *Database) InitSchema(ctx context.Context, pre, post string) error {
	if err := migrate.EnsureSchema(ctx, d.db, migrate.SplitScript(pre), migrate.SplitScript(post)); err != nil {
		return err
	}
	d.logsReady = true
	if !d.execInfo {
		logger.L().Debug("exec_info_disabled")
		return nil
	}
	return d.recordExecInfo(ctx)
}

func (d *Database) recordExecInfo(ctx context.Context) error {
	program := d.program
	content := d.programContent
	if program == "" {
		program = strings.Join(os.Args, " ")
	}
	if secretRe.Match(content) || secretRe.MatchString(program) {
		return ErrSecretInSource
	}
	var hash any
	if len(content) > 0 {
		h, err := hashBytes(d.hashAlgo, content)
		if err != nil {
			return err
		}
		hash = h
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO _exec_info(run_id, program, content, content_hash) VALUES($1, $2, $3, $4)`,
		d.runID, program, string(content), hash)
	if err != nil {
		return fmt.Errorf("record exec info: %w", err)
	}
	logger.L().Info("exec_info_recorded", "run_id", d.runID, "program", program)
	return nil
}

// 地理表：preserveGeo 时保留
var geoTables = []string{"zones", "zone_parents", "zone_levels", "gis_data", "gis_types", "geonames_zipcodes", "batch_roads", "fill_markers"}

// 其余可变领域表与溯源表；执行日志与地址缓存不在重置范围内
var domainTables = []string{"plz_gemeinde", "data_sources", "zone_attribute_types", "zone_attributes", "road_lengths", "file_hash"}

// ResetSchema：删除可变领域表
// 参数：
// - preserveGeo：保留区域、层级、几何与父子边；
// - keep：额外保留的表名，需通过标识符校验。
// 返回：实际删除的表名
func (d *Database) ResetSchema(ctx context.Context, preserveGeo bool, keep []string) ([]string, error) {
	skip := map[string]bool{}
	for _, k := range keep {
		if _, err := store.SafeIdent(k); err != nil {
			return nil, err
		}
		skip[k] = true
	}
	targets := append([]string{}, domainTables...)
	if !preserveGeo {
		targets = append(targets, geoTables...)
	} else {
		logger.L().Info("reset_preserve_geo")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var dropped []string
	for _, t := range targets {
		if skip[t] {
			continue
		}
		qt, err := store.SafeIdent(t)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+qt+` CASCADE`); err != nil {
			return nil, fmt.Errorf("drop %s: %w", t, err)
		}
		dropped = append(dropped, t)
	}
	// 保留的完成标记若指向已删除的表，一并清除，重跑时对应单元重新执行
	if !slices.Contains(dropped, "fill_markers") {
		if ok, err := store.Exists(ctx, tx, "fill_markers"); err != nil {
			return nil, err
		} else if ok {
			n, err := store.ClearMarkers(ctx, tx, dropped)
			if err != nil {
				return nil, err
			}
			logger.L().Info("reset_markers_cleared", "markers", n)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logger.L().Info("reset_done", "dropped", dropped)
	return dropped, nil
}
