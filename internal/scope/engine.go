// Package scope 判断 URL 是否处于测试范围内。
package scope

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"repplus/internal/regexcache"
	"repplus/pkg/domain"
)

var errNoHost = errors.New("url has no host")

// Mode 范围模式
type Mode string

const (
	// ModeInclude 白名单：至少命中一条规则
	ModeInclude Mode = "include"
	// ModeExclude 黑名单：不得命中任何规则
	ModeExclude Mode = "exclude"
)

// RuleType 规则匹配方式
type RuleType string

const (
	TypeWildcard RuleType = "wildcard"
	TypeURL      RuleType = "url"
	TypeDomain   RuleType = "domain"
	TypePattern  RuleType = "pattern"
	TypeRegex    RuleType = "regex"
	TypePrefix   RuleType = "prefix"
	TypeExact    RuleType = "exact"
)

// Rule 单条范围规则
type Rule struct {
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Type        RuleType `json:"type,omitempty" yaml:"type,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Policy 范围策略
type Policy struct {
	Mode  Mode   `json:"scopeMode" yaml:"mode"`
	Rules []Rule `json:"scopeRules" yaml:"rules"`
}

// Engine 并发安全的范围判定器
type Engine struct {
	mu sync.RWMutex
	p  Policy
}

// New 创建判定器
func New(p Policy) *Engine { return &Engine{p: normalize(p)} }

// Update 替换策略
func (e *Engine) Update(p Policy) {
	e.mu.Lock()
	e.p = normalize(p)
	e.mu.Unlock()
}

// Policy 返回当前策略副本
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := Policy{Mode: e.p.Mode, Rules: make([]Rule, len(e.p.Rules))}
	copy(out.Rules, e.p.Rules)
	return out
}

// InScope 无启用规则时全部在范围内
func (e *Engine) InScope(rawURL string) bool {
	if e == nil {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.p.InScope(rawURL)
}

// Allows 按过滤器判断该 URL 是否应被拦截
func (e *Engine) Allows(filter domain.ScopeFilter, rawURL string) bool {
	switch filter {
	case domain.ScopeInScope:
		return e.InScope(rawURL)
	case domain.ScopeOutScope:
		return !e.InScope(rawURL)
	default:
		return true
	}
}

// InScope 无启用规则时全部在范围内
func (p Policy) InScope(rawURL string) bool {
	enabled := 0
	matched := false
	for i := range p.Rules {
		r := &p.Rules[i]
		if !r.Enabled {
			continue
		}
		enabled++
		if r.Match(rawURL) {
			matched = true
			break
		}
	}
	if enabled == 0 {
		return true
	}
	if p.Mode == ModeExclude {
		return !matched
	}
	return matched
}

// Match 判断单条规则是否命中
func (r Rule) Match(rawURL string) bool {
	switch r.Type {
	case TypeRegex:
		return regexcache.MatchString(r.Pattern, rawURL)
	case TypePrefix:
		return strings.HasPrefix(rawURL, r.Pattern)
	case TypeExact:
		return rawURL == r.Pattern
	default:
		// 通配符转为非锚定正则，其余字符按正则语义处理
		return regexcache.MatchString(strings.ReplaceAll(r.Pattern, "*", ".*"), rawURL)
	}
}

// DetectType 根据模式推断规则类型
func DetectType(pattern string) RuleType {
	u, err := url.Parse(strings.ReplaceAll(pattern, "*", "test"))
	if err == nil && u.Scheme != "" && u.Host != "" {
		return TypeURL
	}
	if strings.Contains(pattern, "*") {
		return TypeWildcard
	}
	return TypePattern
}

// NewRule 创建启用的规则，类型自动推断
func NewRule(pattern, description string) Rule {
	pattern = strings.TrimSpace(pattern)
	return Rule{Pattern: pattern, Type: DetectType(pattern), Enabled: true, Description: description}
}

// DomainRule 将某个主机加入范围
func DomainRule(rawURL string) (Rule, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Rule{}, err
	}
	host := u.Hostname()
	if host == "" {
		return Rule{}, &url.Error{Op: "parse", URL: rawURL, Err: errNoHost}
	}
	return Rule{
		Pattern:     "*" + host + "*",
		Type:        TypeDomain,
		Enabled:     true,
		Description: "Current domain: " + host,
	}, nil
}

func normalize(p Policy) Policy {
	if p.Mode != ModeExclude {
		p.Mode = ModeInclude
	}
	return p
}
