package hierarchy

import (
	"math"
	"sort"
)

// Rollup：将叶子层属性按边份额加权汇总到父区域
// 背景：父区域的值只由叶子层直接推导，不逐级叠加，避免多路径重复计数
// 约束：只使用 child 为叶子的边；没有任何子边的父区域不出现在结果中（缺失而非 0）；
// 叶子缺少属性值的边被忽略
func Rollup(edges []Edge, leafLevel int64, leaf map[int64]int64) map[int64]float64 {
	out := make(map[int64]float64)
	for _, e := range edges {
		if e.ChildLevel != leafLevel {
			continue
		}
		v, ok := leaf[e.Child]
		if !ok {
			continue
		}
		out[e.Parent] += float64(v) * e.Share
	}
	return out
}

// RoundValues：汇总结果写入 int_value 前四舍五入
func RoundValues(vals map[int64]float64) map[int64]int64 {
	out := make(map[int64]int64, len(vals))
	for k, v := range vals {
		out[k] = int64(math.Round(v))
	}
	return out
}

// SortedKeys：按编号升序返回键，保证写入顺序稳定
func SortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
