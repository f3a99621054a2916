// 包 database：填充流水线编排器
// 背景：持有唯一的空间库连接、数据目录与有序的填充单元列表；按注册顺序驱动每个单元的
// Prepare/Apply，两阶段前后各写一条执行记录；任一单元失败即终止整次运行，不做重试，
// 恢复方式是整体重跑，依赖各单元自身的存在性检查跳过已完成部分
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gis-fillers/internal/filler"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"
	"gis-fillers/internal/migrate"
	"gis-fillers/internal/store"

	"github.com/google/uuid"
)

// 执行记录状态
const (
	StatusInitPrepare = "init_prepare"
	StatusEndPrepare  = "end_prepare"
	StatusInitApply   = "init_apply"
	StatusEndApply    = "end_apply"
)

// Database：编排器
type Database struct {
	db         *sql.DB
	dataFolder string
	fillers    []filler.Filler
	unique     map[string]bool
	runID      string

	hashAlgo       string
	execInfo       bool
	program        string
	programContent []byte
	logsReady      bool
}

// Option：构造选项
type Option func(*Database)

// WithHashAlgo：源文件哈希算法，sha256 或 blake3
func WithHashAlgo(algo string) Option { return func(d *Database) { d.hashAlgo = algo } }

// WithExecInfo：是否在 InitSchema 时记录驱动程序来源
func WithExecInfo(on bool) Option { return func(d *Database) { d.execInfo = on } }

// WithProgram：驱动本次运行的程序描述（流水线文件名与内容）
func WithProgram(name string, content []byte) Option {
	return func(d *Database) {
		d.program = name
		d.programContent = content
	}
}

// WithRunID：固定运行编号，测试与外部调度关联时使用
func WithRunID(id string) Option { return func(d *Database) { d.runID = id } }

// New：创建编排器；每个实例一个运行编号（UUID）
func New(db *sql.DB, dataFolder string, opts ...Option) *Database {
	d := &Database{
		db:         db,
		dataFolder: dataFolder,
		unique:     map[string]bool{},
		hashAlgo:   HashSHA256,
		execInfo:   true,
	}
	for _, o := range opts {
		o(d)
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	return d
}

func (d *Database) DB() *sql.DB        { return d.db }
func (d *Database) DataFolder() string { return d.dataFolder }
func (d *Database) RunID() string      { return d.runID }

// Fillers：已注册单元的快照
func (d *Database) Fillers() []filler.Filler {
	out := make([]filler.Filler, len(d.fillers))
	copy(out, d.fillers)
	return out
}

// Exists：表存在且非空
func (d *Database) Exists(ctx context.Context, table string) (bool, error) {
	return store.Exists(ctx, d.db, table)
}

// Add：注册填充单元
// 约束：
//   - 已有同名单元以 unique_name 注册时，后来者被拒绝（仅告警，不返回错误）；
//     后来者自身的 unique_name 只约束再往后的同名单元；
//   - 注册成功后立即同步调用 AfterInsert，其追加的单元排在本单元之后。
func (d *Database) Add(ctx context.Context, f filler.Filler) error {
	core := f.Core()
	core.DefaultName(f)
	name := core.Name()
	if d.unique[name] {
		logger.L().Warn("filler_duplicate_name", "filler", name)
		return nil
	}
	if err := core.Attach(d); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	d.fillers = append(d.fillers, f)
	if core.Unique() {
		d.unique[name] = true
	}
	logger.L().Debug("filler_added", "filler", name, "position", len(d.fillers)-1)
	if err := f.AfterInsert(ctx); err != nil {
		return fmt.Errorf("after_insert %s: %w", name, err)
	}
	return nil
}

// Run：按位置遍历（运行中可增长的）单元列表，每个未完成单元先 Prepare，
// 仍未完成则 Apply 并标记完成
// 异常：任一阶段失败立即返回，已提交的前序单元写入保留
func (d *Database) Run(ctx context.Context) error {
	if err := d.ensureLogTables(ctx); err != nil {
		return err
	}
	logger.L().Info("fill_start", "run_id", d.runID, "fillers", len(d.fillers))
	t0 := time.Now()
	for i := 0; i < len(d.fillers); i++ {
		f := d.fillers[i]
		core := f.Core()
		if core.Done() {
			metrics.FillersSkippedTotal.WithLabelValues(core.Name()).Inc()
			continue
		}
		if err := d.phase(ctx, f, "prepare", StatusInitPrepare, StatusEndPrepare, f.Prepare); err != nil {
			return err
		}
		if core.Done() {
			logger.L().Info("filler_skip", "filler", core.Name())
			metrics.FillersSkippedTotal.WithLabelValues(core.Name()).Inc()
			continue
		}
		if err := d.phase(ctx, f, "apply", StatusInitApply, StatusEndApply, func(ctx context.Context) error {
			if err := f.Apply(ctx); err != nil {
				return err
			}
			core.SetDone()
			return nil
		}); err != nil {
			return err
		}
	}
	logger.L().Info("fill_done", "run_id", d.runID, "fillers", len(d.fillers), "duration_ms", time.Since(t0).Milliseconds())
	return nil
}

func (d *Database) phase(ctx context.Context, f filler.Filler, phase, initStatus, endStatus string, fn func(context.Context) error) error {
	name := f.Core().Name()
	if err := d.logFiller(ctx, f, initStatus); err != nil {
		return err
	}
	logger.L().Info("filler_"+phase+"_start", "filler", name)
	metrics.FillerRunsTotal.WithLabelValues(name, phase).Inc()
	t0 := time.Now()
	if err := fn(ctx); err != nil {
		metrics.FillerFailTotal.WithLabelValues(name, phase).Inc()
		logger.L().Error("filler_"+phase+"_error", "filler", name, "err", err)
		return fmt.Errorf("%s %s: %w", phase, name, err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.FillerDurationMs.WithLabelValues(name, phase).Observe(float64(dur))
	logger.L().Info("filler_"+phase+"_end", "filler", name, "duration_ms", dur)
	return d.logFiller(ctx, f, endStatus)
}

func (d *Database) ensureLogTables(ctx context.Context) error {
	if d.logsReady {
		return nil
	}
	for _, s := range migrate.LogTables() {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure log tables: %w", err)
		}
	}
	d.logsReady = true
	return nil
}

// logFiller：写一条 _fillers_info 记录（自动提交，独立于单元自身事务）
func (d *Database) logFiller(ctx context.Context, f filler.Filler, status string) error {
	core := f.Core()
	args := "{}"
	if a := core.Args(); len(a) > 0 {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode args of %s: %w", core.Name(), err)
		}
		args = string(b)
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO _fillers_info(run_id, filler_class, filler_name, filler_args, status) VALUES($1, $2, $3, $4, $5)`,
		d.runID, className(f), core.Name(), args, status)
	if err != nil {
		return fmt.Errorf("log %s %s: %w", core.Name(), status, err)
	}
	return nil
}

func className(f filler.Filler) string {
	return fmt.Sprintf("%T", f)
}
