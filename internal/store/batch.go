package store

import (
	"context"
	"database/sql"

	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"
)

// Batch：分批提交的写入事务
// 背景：大文件导入按固定行数提交，降低锁持有与 WAL 压力；中途失败时已提交批次保留，
// 重跑依赖冲突跳过写入补齐剩余部分；单元是否完成由随最后一批提交的完成标记（store.MarkFilled）判断
type Batch struct {
	db    *sql.DB
	tx    *sql.Tx
	size  int
	n     int
	table string
}

// NewBatch：开启第一批事务；size<=0 时取 5000
func NewBatch(ctx context.Context, db *sql.DB, table string, size int) (*Batch, error) {
	if size <= 0 {
		size = 5000
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Batch{db: db, tx: tx, size: size, table: table}, nil
}

// Tx：当前批次事务，供需要在同一事务内查询的调用方使用
func (b *Batch) Tx() *sql.Tx { return b.tx }

// Count：已执行的写入条数
func (b *Batch) Count() int { return b.n }

// Exec：执行一条写入，满一批自动提交并开启下一批
func (b *Batch) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := b.tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return b.Step(ctx)
}

// Step：记一条写入；满一批自动提交并开启下一批
func (b *Batch) Step(ctx context.Context) error {
	b.n++
	if b.n%b.size != 0 {
		return nil
	}
	logger.L().Info("batch_progress", "table", b.table, "count", b.n)
	if err := b.tx.Commit(); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		b.tx = nil
		return err
	}
	b.tx = tx
	return nil
}

// Commit：提交最后一批
func (b *Batch) Commit() error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Commit()
	b.tx = nil
	metrics.RowsWrittenTotal.WithLabelValues(b.table).Add(float64(b.n))
	return err
}

// Rollback：放弃未提交的当前批次；已提交的批次不受影响
func (b *Batch) Rollback() {
	if b.tx != nil {
		_ = b.tx.Rollback()
		b.tx = nil
	}
}
