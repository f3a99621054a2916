// 包 pipeline：YAML 流水线定义到填充单元列表的装配
// 背景：一次填充作业由若干有序的填充单元组成；单元类型按名称从静态表选择，
// 类型专属参数放在 args 下，公共选项（name/data_folder/unique_name/loc_resolve）与之平级
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gis-fillers/internal/filler"

	"gopkg.in/yaml.v3"
)

var ErrUnknownKind = errors.New("unknown filler kind")

// Entry：流水线中的一个填充单元
type Entry struct {
	Kind           string `yaml:"kind"`
	filler.Options `yaml:",inline"`
	Args           yaml.Node `yaml:"args"`
}

// File：流水线文件
type File struct {
	DataFolder string  `yaml:"data_folder"`
	Fillers    []Entry `yaml:"fillers"`
}

// Load：读取流水线文件，同时返回原始内容供执行记录使用
func Load(path string) (File, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, nil, err
	}
	f, err := Parse(b)
	if err != nil {
		return File{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, b, nil
}

// Parse：严格解析，未知字段报错
func Parse(b []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, err
	}
	for i, e := range f.Fillers {
		if strings.TrimSpace(e.Kind) == "" {
			return File{}, fmt.Errorf("fillers[%d]: kind is required", i)
		}
	}
	return f, nil
}

// decodeArgs：args 为空时保持零值配置
func decodeArgs(e Entry, out any) error {
	if e.Args.Kind == 0 {
		return nil
	}
	if err := e.Args.Decode(out); err != nil {
		return fmt.Errorf("%s args: %w", e.Kind, err)
	}
	return nil
}

// Kinds：全部可用的填充单元类型，按字母序
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build：按文件顺序构建填充单元；loc_resolve 单元的解析器工厂绑定到 deps
func Build(f File, b Builder) ([]filler.Filler, error) {
	out := make([]filler.Filler, 0, len(f.Fillers))
	for i, e := range f.Fillers {
		ctor, ok := kinds[e.Kind]
		if !ok {
			return nil, fmt.Errorf("fillers[%d]: %w: %q (known: %s)", i, ErrUnknownKind, e.Kind, strings.Join(Kinds(), ", "))
		}
		opts := e.Options
		if opts.LocResolve {
			opts.NewResolver = b.resolverFactory()
		}
		fl, err := ctor(b, e, opts)
		if err != nil {
			return nil, fmt.Errorf("fillers[%d] (%s): %w", i, e.Kind, err)
		}
		out = append(out, fl)
	}
	return out, nil
}
