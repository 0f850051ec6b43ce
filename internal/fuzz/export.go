package fuzz

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/tidwall/sjson"
)

// ExportCSV 导出结果表格，分类规则各占一列
func ExportCSV(w io.Writer, results []Result, grep GrepRules) error {
	cw := csv.NewWriter(w)
	header := []string{"#", "Payload", "Status", "Length", "Time(ms)", "Diff(%)"}
	matches, extracts := grep.MatchPatterns(), grep.ExtractPatterns()
	header = append(header, matches...)
	for _, p := range extracts {
		header = append(header, "Extract:"+p)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		status := strconv.Itoa(r.Status)
		if r.Failed() {
			status = "Error"
		}
		row := []string{
			strconv.Itoa(r.Ordinal),
			r.PayloadDisplay,
			status,
			strconv.Itoa(r.Length),
			strconv.FormatInt(r.ElapsedMS, 10),
			strconv.Itoa(r.DiffScore),
		}
		for _, p := range matches {
			if r.GrepMatches[p] {
				row = append(row, "YES")
			} else {
				row = append(row, "NO")
			}
		}
		for _, p := range extracts {
			row = append(row, r.GrepExtracts[p])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON 导出结果数组，包含攻击标识与进度信息
func ExportJSON(attackID string, progress Progress, results []Result) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		out, err = sjson.SetBytes(out, path, v)
	}

	set("attack", attackID)
	set("state", string(progress.State))
	set("completed", progress.Completed)
	set("total", progress.Total)
	set("results", []any{})
	for i, r := range results {
		p := fmt.Sprintf("results.%d.", i)
		set(p+"ordinal", r.Ordinal)
		set(p+"payload", r.PayloadDisplay)
		set(p+"payloads", r.Payloads)
		set(p+"status", r.Status)
		set(p+"length", r.Length)
		set(p+"elapsedMs", r.ElapsedMS)
		set(p+"diff", r.DiffScore)
		set(p+"request", r.RequestText)
		if len(r.GrepMatches) > 0 {
			set(p+"grepMatches", r.GrepMatches)
		}
		if len(r.GrepExtracts) > 0 {
			set(p+"grepExtracts", r.GrepExtracts)
		}
		if r.Error != "" {
			set(p+"error", r.Error)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("export results: %w", err)
	}
	return out, nil
}
