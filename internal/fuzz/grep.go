package fuzz

import (
	"strings"

	"github.com/tidwall/gjson"

	"repplus/internal/regexcache"
)

// jsonPrefix 提取规则以该前缀开头时按 gjson 路径取值
const jsonPrefix = "json:"

// GrepRule 单条分类规则，停用的规则保留在配置中但不参与计算
type GrepRule struct {
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
}

// Rules 由模式列表构造全部启用的规则
func Rules(patterns ...string) []GrepRule {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]GrepRule, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, GrepRule{Pattern: p, Enabled: true})
	}
	return out
}

// GrepRules 结果分类规则
type GrepRules struct {
	// Match 子串存在性判断
	Match []GrepRule `json:"match,omitempty"`
	// Extract 正则（忽略大小写）取首个捕获组或整体匹配
	Extract []GrepRule `json:"extract,omitempty"`
}

func enabledPatterns(rules []GrepRule) []string {
	var out []string
	for _, r := range rules {
		if r.Enabled && r.Pattern != "" {
			out = append(out, r.Pattern)
		}
	}
	return out
}

// MatchPatterns 启用的子串规则
func (g GrepRules) MatchPatterns() []string { return enabledPatterns(g.Match) }

// ExtractPatterns 启用的提取规则
func (g GrepRules) ExtractPatterns() []string { return enabledPatterns(g.Extract) }

// ApplyMatch 对响应体逐条做子串判断
func (g GrepRules) ApplyMatch(body string) map[string]bool {
	patterns := g.MatchPatterns()
	if len(patterns) == 0 {
		return nil
	}
	out := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		out[p] = strings.Contains(body, p)
	}
	return out
}

// ApplyExtract 对响应体逐条提取，无匹配或模式无效时为空串
func (g GrepRules) ApplyExtract(body string) map[string]string {
	patterns := g.ExtractPatterns()
	if len(patterns) == 0 {
		return nil
	}
	out := make(map[string]string, len(patterns))
	for _, p := range patterns {
		out[p] = Extract(p, body)
	}
	return out
}

// Extract 执行单条提取规则
func Extract(pattern, body string) string {
	if path, ok := strings.CutPrefix(pattern, jsonPrefix); ok {
		if !gjson.Valid(body) {
			return ""
		}
		r := gjson.Get(body, strings.TrimSpace(path))
		if !r.Exists() {
			return ""
		}
		return r.String()
	}

	re, err := regexcache.Get("(?i)" + pattern)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}
