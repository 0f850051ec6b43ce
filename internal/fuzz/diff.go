package fuzz

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// maxDiffRunes 参与编辑距离计算的最大字符数，超出部分截断
const maxDiffRunes = 10000

// Similarity 基于编辑距离的相似度百分比，相同为 100，任一为空且不同为 0
func Similarity(a, b string) float64 {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	a, b = truncateRunes(a, maxDiffRunes), truncateRunes(b, maxDiffRunes)
	if a == b {
		return 100
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	dist := levenshtein.ComputeDistance(a, b)
	return float64(longest-dist) / float64(longest) * 100
}

// DiffScore 与基线的差异度 round(100 - similarity)，0 表示相同
func DiffScore(baseline, body []byte) int {
	return int(math.Round(100 - Similarity(string(baseline), string(body))))
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// LineOp 行级差异类型
type LineOp string

const (
	LineEqual  LineOp = "equal"
	LineAdd    LineOp = "add"
	LineDelete LineOp = "delete"
)

// DiffLine 行级差异
type DiffLine struct {
	Op      LineOp `json:"type"`
	Content string `json:"content"`
	Line    int    `json:"lineNum"`
}

// LineDiff 按行号逐行对比两段文本
func LineDiff(a, b string) []DiffLine {
	la, lb := strings.Split(a, "\n"), strings.Split(b, "\n")
	n := max(len(la), len(lb))
	out := make([]DiffLine, 0, n)
	for i := 0; i < n; i++ {
		var x, y string
		if i < len(la) {
			x = la[i]
		}
		if i < len(lb) {
			y = lb[i]
		}
		switch {
		case x == y:
			out = append(out, DiffLine{Op: LineEqual, Content: x, Line: i + 1})
		case y == "":
			out = append(out, DiffLine{Op: LineDelete, Content: x, Line: i + 1})
		case x == "":
			out = append(out, DiffLine{Op: LineAdd, Content: y, Line: i + 1})
		default:
			out = append(out,
				DiffLine{Op: LineDelete, Content: x, Line: i + 1},
				DiffLine{Op: LineAdd, Content: y, Line: i + 1},
			)
		}
	}
	return out
}
