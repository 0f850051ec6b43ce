package fuzz

import (
	"fmt"
	"strings"
)

// Mode 攻击模式
type Mode string

const (
	ModeSniper       Mode = "sniper"
	ModeBatteringRam Mode = "battering-ram"
	ModePitchfork    Mode = "pitchfork"
	ModeClusterBomb  Mode = "cluster-bomb"
)

// ParseMode 解析模式名，空串视为 sniper
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSniper, nil
	case ModeSniper, ModeBatteringRam, ModePitchfork, ModeClusterBomb:
		return m, nil
	default:
		return "", &ConfigError{Reason: fmt.Sprintf("unknown attack mode %q", s), Err: ErrUnknownMode}
	}
}

// RequiredSets 该模式在 positions 个位置下需要的载荷集数量
func RequiredSets(mode Mode, positions int) int {
	switch mode {
	case ModeSniper:
		if positions > 0 {
			return 1
		}
		return 0
	case ModePitchfork, ModeClusterBomb:
		return positions
	default:
		return 1
	}
}

// Combination 一次请求使用的载荷组合，Ordinal 从 1 开始
type Combination struct {
	Ordinal  int      `json:"ordinal"`
	Payloads []string `json:"payloads"`
	Display  string   `json:"display"`
}

// Combinations 按模式生成全部组合，序号在派发前确定
func Combinations(mode Mode, positions int, sets []PayloadSet) []Combination {
	if positions <= 0 {
		return nil
	}
	set := func(i int) PayloadSet {
		if i < len(sets) {
			return sets[i]
		}
		return nil
	}

	var out []Combination
	add := func(payloads []string, display string) {
		out = append(out, Combination{Ordinal: len(out) + 1, Payloads: payloads, Display: display})
	}

	switch mode {
	case ModeSniper:
		for pos := 0; pos < positions; pos++ {
			for _, p := range set(0) {
				combo := make([]string, positions)
				combo[pos] = p
				add(combo, fmt.Sprintf("Pos %d: %s", pos+1, p))
			}
		}
	case ModeBatteringRam:
		for _, p := range set(0) {
			combo := make([]string, positions)
			for i := range combo {
				combo[i] = p
			}
			add(combo, p)
		}
	case ModePitchfork:
		longest := 0
		for i := 0; i < positions; i++ {
			longest = max(longest, len(set(i)))
		}
		for n := 0; n < longest; n++ {
			combo := make([]string, positions)
			for i := range combo {
				if s := set(i); n < len(s) {
					combo[i] = s[n]
				}
			}
			add(combo, strings.Join(combo, " | "))
		}
	case ModeClusterBomb:
		total := 1
		for i := 0; i < positions; i++ {
			total *= len(set(i))
		}
		if total == 0 {
			return nil
		}
		out = make([]Combination, 0, total)
		idx := make([]int, positions)
		for {
			combo := make([]string, positions)
			for i := range combo {
				combo[i] = set(i)[idx[i]]
			}
			add(combo, strings.Join(combo, " | "))

			// 最后一个位置变化最快
			i := positions - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < len(set(i)) {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				break
			}
		}
	}
	return out
}
