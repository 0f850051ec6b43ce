package fuzz

import (
	"regexp"
	"strings"
)

// Marker 注入位置的定界符
const Marker = "§"

var positionRe = regexp.MustCompile(`§([^§]*)§`)

// Position 模板中的一个注入位置，Start/End 为包含定界符的字节偏移
type Position struct {
	Index       int    `json:"index"`
	Placeholder string `json:"placeholder"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

// ParsePositions 按出现顺序提取模板中的全部位置；模板变化后必须重新调用
func ParsePositions(template string) []Position {
	locs := positionRe.FindAllStringSubmatchIndex(template, -1)
	out := make([]Position, 0, len(locs))
	for i, loc := range locs {
		out = append(out, Position{
			Index:       i,
			Placeholder: template[loc[2]:loc[3]],
			Start:       loc[0],
			End:         loc[1],
		})
	}
	return out
}

// BuildRequest 依次将每个位置的首个 §placeholder§ 替换为对应载荷，缺失载荷视为空串
func BuildRequest(template string, positions []Position, payloads []string) string {
	out := template
	for i, p := range positions {
		v := ""
		if i < len(payloads) {
			v = payloads[i]
		}
		out = strings.Replace(out, Marker+p.Placeholder+Marker, v, 1)
	}
	return out
}

// ClearMarkers 去掉模板中所有定界符
func ClearMarkers(template string) string {
	return strings.ReplaceAll(template, Marker, "")
}

var (
	jsonStringRe = regexp.MustCompile(`:\s*"([^"§]+)"`)
	jsonNumberRe = regexp.MustCompile(`:\s*(\d+)`)
	paramRe      = regexp.MustCompile(`=([^&\s§]+)`)
	segmentRe    = regexp.MustCompile(`/([a-zA-Z0-9_-]+)`)
)

// AutoMark 自动标记请求行中的路径段、查询参数值，以及请求体中的 JSON 值或表单参数值。
// 头部不做标记。
func AutoMark(template string) string {
	lineEnd := strings.IndexByte(template, '\n')
	if lineEnd < 0 {
		return markRequestLine(template)
	}
	first := markRequestLine(template[:lineEnd])
	rest := template[lineEnd:]

	// 头部与正文以首个空行分隔
	sep := "\n\n"
	idx := strings.Index(rest, sep)
	if crlf := strings.Index(rest, "\r\n\r\n"); crlf >= 0 && (idx < 0 || crlf < idx) {
		idx, sep = crlf, "\r\n\r\n"
	}
	if idx < 0 {
		return first + rest
	}
	head := rest[:idx+len(sep)]
	body := rest[idx+len(sep):]
	return first + head + markBody(body)
}

func markRequestLine(line string) string {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return line
	}
	target := parts[1]
	path, query, hasQuery := strings.Cut(target, "?")

	prefix := ""
	if i := strings.Index(path, "://"); i >= 0 {
		// 绝对形式：只标记主机之后的路径
		rest := path[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			prefix, path = path, ""
		} else {
			prefix, path = path[:i+3+slash], rest[slash:]
		}
	}
	path = segmentRe.ReplaceAllString(path, "/§${1}§")
	target = prefix + path
	if hasQuery {
		target += "?" + paramRe.ReplaceAllString(query, "=§${1}§")
	}
	parts[1] = target
	return strings.Join(parts, " ")
}

func markBody(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return body
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		body = jsonStringRe.ReplaceAllString(body, `: "§${1}§"`)
		return jsonNumberRe.ReplaceAllString(body, ": §${1}§")
	}
	return paramRe.ReplaceAllString(body, "=§${1}§")
}
