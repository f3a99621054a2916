// 包 filler：数据填充单元（Filler）的契约与公共基座
// 背景：每个填充单元负责把一个逻辑数据集写入空间库；两阶段执行（Prepare/Apply），
// 由编排器按注册顺序驱动，依靠自身的存在性检查实现幂等
package filler

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
)

// Host：编排器向填充单元提供的共享能力
type Host interface {
	DB() *sql.DB
	DataFolder() string
	Add(ctx context.Context, f Filler) error
	RecordFile(ctx context.Context, filename, filecode, folder string) error
	Exists(ctx context.Context, table string) (bool, error)
}

// Filler：填充单元契约
// 约束：
// - Prepare 可重复调用；只做存在性检查与准备工作（下载、解析），不写共享领域表；
// - Apply 仅在 Prepare 未标记完成时执行，使用冲突跳过写入并自行提交；
// - AfterInsert 在注册时同步调用，可借 Host.Add 追加依赖单元。
type Filler interface {
	Core() *Base
	Prepare(ctx context.Context) error
	Apply(ctx context.Context) error
	AfterInsert(ctx context.Context) error
}

var (
	ErrNoHost        = errors.New("filler is not attached to a database")
	ErrAlreadyHosted = errors.New("filler is already attached to a database")
	ErrNoResolver    = errors.New("loc_resolve set but no resolver factory configured")
)

// ResolverFactory：由解析器包提供，按参数构建位置解析单元
type ResolverFactory func(args map[string]any) (Filler, error)

// Options：所有填充单元共用的构造参数
type Options struct {
	Name            string           `yaml:"name"`
	DataFolder      string           `yaml:"data_folder"`
	UniqueName      bool             `yaml:"unique_name"`
	LocResolve      bool             `yaml:"loc_resolve"`
	LocResolverArgs []map[string]any `yaml:"loc_resolver_args"`

	NewResolver ResolverFactory `yaml:"-"`
}

// Base：填充单元的公共字段，具体单元以值嵌入
// 约束：host 由编排器在注册时设置一次，之后不再变更；done 只会从 false 变为 true
type Base struct {
	name string
	opts Options
	args map[string]any
	host Host
	done bool
}

// NewBase：以选项构建基座；名称为空时由编排器在注册时补为类型名
func NewBase(opts Options) Base {
	return Base{name: opts.Name, opts: opts}
}

func (b *Base) Core() *Base { return b }

func (b *Base) Name() string         { return b.name }
func (b *Base) Unique() bool         { return b.opts.UniqueName }
func (b *Base) Done() bool           { return b.done }
func (b *Base) SetDone()             { b.done = true }
func (b *Base) Options() Options     { return b.opts }
func (b *Base) Host() Host           { return b.host }
func (b *Base) Attached() bool       { return b.host != nil }
func (b *Base) Args() map[string]any { return b.args }

// SetArgs：记录与执行日志相关的构造参数，写入 _fillers_info
func (b *Base) SetArgs(args map[string]any) { b.args = args }

// DefaultName：名称为空时使用具体类型名
func (b *Base) DefaultName(f Filler) {
	if b.name != "" {
		return
	}
	t := reflect.TypeOf(f)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	b.name = t.Name()
}

// Attach：绑定编排器；重复绑定返回 ErrAlreadyHosted
func (b *Base) Attach(h Host) error {
	if b.host != nil {
		return ErrAlreadyHosted
	}
	b.host = h
	return nil
}

// DB：编排器持有的连接；未绑定时为 nil
func (b *Base) DB() *sql.DB {
	if b.host == nil {
		return nil
	}
	return b.host.DB()
}

// DataFolder：选项中的覆盖目录优先，否则使用编排器的数据目录
func (b *Base) DataFolder() string {
	if b.opts.DataFolder != "" {
		return b.opts.DataFolder
	}
	if b.host == nil {
		return "."
	}
	return b.host.DataFolder()
}

// Path：数据目录下的文件路径
func (b *Base) Path(name string) string { return filepath.Join(b.DataFolder(), name) }

// RecordFile：登记源文件哈希，目录默认为本单元的数据目录
func (b *Base) RecordFile(ctx context.Context, filename, filecode string) error {
	if b.host == nil {
		return ErrNoHost
	}
	return b.host.RecordFile(ctx, filename, filecode, b.DataFolder())
}

func (b *Base) Prepare(ctx context.Context) error { return nil }
func (b *Base) Apply(ctx context.Context) error   { return nil }

// AfterInsert：loc_resolve 开启时，为每组 loc_resolver_args 追加一个位置解析单元
func (b *Base) AfterInsert(ctx context.Context) error {
	if !b.opts.LocResolve {
		return nil
	}
	if b.host == nil {
		return ErrNoHost
	}
	if b.opts.NewResolver == nil {
		return ErrNoResolver
	}
	for _, args := range b.opts.LocResolverArgs {
		r, err := b.opts.NewResolver(args)
		if err != nil {
			return err
		}
		if err := b.host.Add(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
