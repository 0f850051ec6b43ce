package fuzz

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PayloadSet 有序的载荷列表
type PayloadSet []string

// maxGenerated 数字生成器的上限
const maxGenerated = 100000

// ParseList 按行拆分载荷文本，忽略空白行，行内容原样保留
func ParseList(text string) PayloadSet {
	lines := strings.Split(text, "\n")
	out := make(PayloadSet, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// NumberRange 生成 from..to（含）之间步长为 step 的数字
func NumberRange(from, to, step int) (PayloadSet, error) {
	if step == 0 {
		return nil, &ConfigError{Reason: "step must not be zero", Err: ErrInvalidPayloads}
	}
	if (step > 0 && from > to) || (step < 0 && from < to) {
		return PayloadSet{}, nil
	}
	n := (to-from)/step + 1
	if n > maxGenerated {
		return nil, &ConfigError{Reason: fmt.Sprintf("range produces %d payloads, limit is %d", n, maxGenerated), Err: ErrInvalidPayloads}
	}
	out := make(PayloadSet, 0, n)
	for i := from; (step > 0 && i <= to) || (step < 0 && i >= to); i += step {
		out = append(out, strconv.Itoa(i))
	}
	return out, nil
}

// LoadFile 从文本文件读取载荷
func LoadFile(path string) (PayloadSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload file %s: %w", path, err)
	}
	return ParseList(string(data)), nil
}
