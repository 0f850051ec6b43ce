// Package regexcache 缓存已编译的正则表达式，避免热路径上重复编译。
package regexcache

import (
	"regexp"
	"sync"
)

type entry struct {
	re  *regexp.Regexp
	err error
}

// Cache 正则缓存，编译失败的结果同样缓存
type Cache struct {
	m sync.Map
}

// New 创建空缓存
func New() *Cache { return &Cache{} }

// Get 返回编译后的正则
func (c *Cache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		e := v.(entry)
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	v, _ := c.m.LoadOrStore(pattern, entry{re: re, err: err})
	e := v.(entry)
	return e.re, e.err
}

// MatchString 模式无效时返回 false
func (c *Cache) MatchString(pattern, s string) bool {
	re, err := c.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

var shared = New()

// Get 使用进程级共享缓存
func Get(pattern string) (*regexp.Regexp, error) { return shared.Get(pattern) }

// MatchString 使用进程级共享缓存
func MatchString(pattern, s string) bool { return shared.MatchString(pattern, s) }
