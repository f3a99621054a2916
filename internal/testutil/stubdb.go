// 包 testutil：记录型 database/sql 驱动桩，供需要发 SQL 的包在没有 PostGIS 的环境下测试
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Stmt：驱动收到的一条语句及其绑定参数（空白已归一化）
type Stmt struct {
	Query string
	Args  []any
}

// Rule：查询文本包含 Match 时返回的脚本化结果
// 约束：Times 为生效次数上限，0 表示不限；多条规则按添加顺序匹配
type Rule struct {
	Match string
	Cols  []string
	Rows  [][]any
	Err   error
	Times int

	used int
}

// StubConn：记录经过驱动的全部语句、提交与回滚次数
type StubConn struct {
	mu        sync.Mutex
	Execs     []Stmt
	Queries   []Stmt
	Commits   int
	Rollbacks int

	rules    []*Rule
	failExec map[string]error
}

var seq atomic.Int64

// NewStubDB：注册一个独立的驱动实例并在其上打开 *sql.DB
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{failExec: map[string]error{}}
	name := fmt.Sprintf("stubpg%d", seq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// OnQuery：为包含 match 的查询添加结果规则；未命中任何规则的查询返回空结果集
func (c *StubConn) OnQuery(match string, cols []string, rows ...[]any) *Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &Rule{Match: Normalize(match), Cols: cols, Rows: rows}
	c.rules = append(c.rules, r)
	return r
}

// OnQueryErr：包含 match 的查询返回 err
func (c *StubConn) OnQueryErr(match string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &Rule{Match: Normalize(match), Err: err})
}

// FailExec：包含 match 的写语句返回 err（语句仍被记录）
func (c *StubConn) FailExec(match string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failExec[Normalize(match)] = err
}

// PassExec：撤销 FailExec，模拟故障排除后的重跑
func (c *StubConn) PassExec(match string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failExec, Normalize(match))
}

// ExecsMatching：已记录写语句中包含 match 的部分
func (c *StubConn) ExecsMatching(match string) []Stmt {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Normalize(match)
	var out []Stmt
	for _, s := range c.Execs {
		if strings.Contains(s.Query, m) {
			out = append(out, s)
		}
	}
	return out
}

// Normalize：合并空白，多行 SQL 可按片段匹配
func Normalize(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

type stubDriver struct{ conn *StubConn }

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return &stubStmt{conn: c, query: query}, nil
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return &stubTx{conn: c}, nil
}

func (c *StubConn) Ping(context.Context) error { return nil }

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := Normalize(query)
	c.Execs = append(c.Execs, Stmt{Query: q, Args: values(args)})
	for m, err := range c.failExec {
		if strings.Contains(q, m) {
			return nil, err
		}
	}
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := Normalize(query)
	c.Queries = append(c.Queries, Stmt{Query: q, Args: values(args)})
	for _, r := range c.rules {
		if !strings.Contains(q, r.Match) {
			continue
		}
		if r.Times > 0 && r.used >= r.Times {
			continue
		}
		r.used++
		if r.Err != nil {
			return nil, r.Err
		}
		rows := make([][]driver.Value, len(r.Rows))
		for i, row := range r.Rows {
			vals := make([]driver.Value, len(row))
			for j, v := range row {
				vals[j] = v
			}
			rows[i] = vals
		}
		return &stubRows{cols: r.Cols, rows: rows}, nil
	}
	return &stubRows{}, nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

type stubStmt struct {
	conn  *StubConn
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.ExecContext(context.Background(), s.query, named(args))
}

func (s *stubStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.QueryContext(context.Background(), s.query, named(args))
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

type stubTx struct{ conn *StubConn }

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	t.conn.Commits++
	t.conn.mu.Unlock()
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.Rollbacks++
	t.conn.mu.Unlock()
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
