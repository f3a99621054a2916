package hierarchy

import (
	"fmt"
	"sort"
)

// ShareReport：某子区域在某父层级上的份额合计
type ShareReport struct {
	Child       ZoneKey
	ParentLevel int64
	Sum         float64
	Parents     int
}

// Over：份额合计超过 1，说明父区域互相重叠，汇总会重复计数
func (r ShareReport) Over(tol float64) bool { return r.Sum > 1+tol }

// Under：份额合计不足 1，说明父层级未完全覆盖子区域，汇总会少计
func (r ShareReport) Under(tol float64) bool { return r.Sum < 1-tol }

func (r ShareReport) String() string {
	return fmt.Sprintf("child %d/%d parent_level %d: sum=%.6f over %d parents", r.Child.Level, r.Child.ID, r.ParentLevel, r.Sum, r.Parents)
}

// ShareSums：按 (子区域, 父层级) 分组累计份额，结果按子区域排序
func ShareSums(edges []Edge) []ShareReport {
	type key struct {
		child       ZoneKey
		parentLevel int64
	}
	acc := make(map[key]*ShareReport)
	for _, e := range edges {
		k := key{child: e.ChildKey(), parentLevel: e.ParentLevel}
		r, ok := acc[k]
		if !ok {
			r = &ShareReport{Child: k.child, ParentLevel: k.parentLevel}
			acc[k] = r
		}
		r.Sum += e.Share
		r.Parents++
	}
	out := make([]ShareReport, 0, len(acc))
	for _, r := range acc {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Child.Level != b.Child.Level {
			return a.Child.Level < b.Child.Level
		}
		if a.Child.ID != b.Child.ID {
			return a.Child.ID < b.Child.ID
		}
		return a.ParentLevel < b.ParentLevel
	})
	return out
}

// CheckShares：返回份额合计偏离 1 超过 tol 的子区域
// 背景：重叠推导不保证同一子区域的份额合计为 1；偏离会让汇总重复计数或少计，
// 这里只报告，不修正
func CheckShares(edges []Edge, tol float64) []ShareReport {
	var bad []ShareReport
	for _, r := range ShareSums(edges) {
		if r.Over(tol) || r.Under(tol) {
			bad = append(bad, r)
		}
	}
	return bad
}

// CheckCoverage：在 CheckShares 基础上，把 children 中在 parentLevel 上没有任何边的子区域
// 以合计 0 报告；结果按子区域排序
// 参数：children 为子层级的全部区域；edges 为该层级对之间的边
func CheckCoverage(children []ZoneKey, parentLevel int64, edges []Edge, tol float64) []ShareReport {
	bad := CheckShares(edges, tol)
	covered := make(map[ZoneKey]bool, len(edges))
	for _, e := range edges {
		if e.ParentLevel == parentLevel {
			covered[e.ChildKey()] = true
		}
	}
	for _, c := range children {
		if !covered[c] {
			covered[c] = true
			bad = append(bad, ShareReport{Child: c, ParentLevel: parentLevel})
		}
	}
	sort.SliceStable(bad, func(i, j int) bool {
		a, b := bad[i].Child, bad[j].Child
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.ID < b.ID
	})
	return bad
}
