package service

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"SalesSync/internal/model"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Match 单个查询值的匹配结果
type Match struct {
	Query string `json:"query"`
	Label string `json:"label"` // 命中的字典标签
	Value string `json:"value"` // 标签对应的取值
	Score int    `json:"score"` // 0-100
}

// MatchCatalog 为每个不同的查询值在有序字典中找相似度最高的标签，返回其对应取值。
// 分数相同取字典中先出现的一项，结果与 map 遍历顺序无关。
// 全量两两比较，复杂度 O(len(queries)×len(catalog))，适用于几百条规模的批量对账；
// 字典到上万条时需要先做候选索引。字典为空时返回空结果。
func MatchCatalog(queries []string, catalog []model.CatalogEntry) map[string]Match {
	result := make(map[string]Match, len(queries))
	if len(catalog) == 0 {
		return result
	}

	keys := make([][]rune, len(catalog))
	for i, entry := range catalog {
		keys[i] = []rune(tokenSortKey(entry.Label))
	}

	for _, q := range queries {
		if _, done := result[q]; done {
			continue
		}
		qk := []rune(tokenSortKey(q))
		best := Match{Query: q, Score: -1}
		for i, entry := range catalog {
			score := ratio(qk, keys[i])
			if score > best.Score {
				best.Label, best.Value, best.Score = entry.Label, entry.Value, score
			}
		}
		result[q] = best
	}
	return result
}

// TokenSortRatio 与词序无关的相似度（0-100）：分词、排序、重新拼接后计算编辑距离比
func TokenSortRatio(a, b string) int {
	return ratio([]rune(tokenSortKey(a)), []rune(tokenSortKey(b)))
}

// ratio 归一化编辑距离比：(len(a)+len(b)-distance)/(len(a)+len(b))，替换代价为2。
// 任一侧为空时为0；四舍五入到偶数
func ratio(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	r := levenshtein.RatioForStrings(a, b, levenshtein.DefaultOptions)
	return int(math.RoundToEven(r * 100))
}

// tokenSortKey 小写、非字母数字替换为空格、按词排序后用单个空格拼接
func tokenSortKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return ' '
	}, s)
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
