// 包 hierarchy：区域层级的纯内存模型，包含父子边、前缀推导、份额校验与属性汇总
package hierarchy

import "errors"

// ZoneKey：区域的实际寻址方式（层级 + 编号）
type ZoneKey struct {
	Level int64
	ID    int64
}

// Edge：有向重叠边，Share 为子区域面积落在父区域内的比例
// 约束：0 < Share <= 1；写入后不再修改
type Edge struct {
	ParentLevel int64
	Parent      int64
	ChildLevel  int64
	Child       int64
	Share       float64
}

func (e Edge) ParentKey() ZoneKey { return ZoneKey{Level: e.ParentLevel, ID: e.Parent} }
func (e Edge) ChildKey() ZoneKey  { return ZoneKey{Level: e.ChildLevel, ID: e.Child} }

var ErrBadDivisor = errors.New("prefix divisor must be positive")

// PrefixParent：编号按位前缀编码上级时，用整除得到父编号
func PrefixParent(id, divisor int64) int64 { return id / divisor }

// PrefixEdges：按整除关系推导一组精确划分边，份额恒为 1
// 参数：ids 为子层级全部编号；同一子编号只产生一条边
func PrefixEdges(childLevel int64, ids []int64, parentLevel int64, divisor int64) ([]Edge, error) {
	if divisor <= 0 {
		return nil, ErrBadDivisor
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]Edge, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Edge{
			ParentLevel: parentLevel,
			Parent:      PrefixParent(id, divisor),
			ChildLevel:  childLevel,
			Child:       id,
			Share:       1,
		})
	}
	return out, nil
}

// PrefixParents：子编号集合对应的去重父编号，保持首次出现顺序
func PrefixParents(ids []int64, divisor int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, id := range ids {
		p := PrefixParent(id, divisor)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// OverlapShare：交集面积 / 子区域面积
// 约束：子区域面积非正时返回 0（调用方据此丢弃该边）；结果截断到 1，吸收浮点误差
func OverlapShare(interArea, childArea float64) float64 {
	if childArea <= 0 || interArea <= 0 {
		return 0
	}
	s := interArea / childArea
	if s > 1 {
		return 1
	}
	return s
}
