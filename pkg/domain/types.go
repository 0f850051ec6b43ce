package domain

import (
	"time"

	"repplus/pkg/traffic"
)

type SessionID string
type TargetID string
type AttackID string

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	ProcessTimeoutMS int    `json:"processTimeoutMS"`
	EventBuffer      int    `json:"eventBuffer"`
	HistoryDSN       string `json:"historyDSN"`
}

// ProcessTimeout 单条协议命令超时，未设置时返回 0 由控制器使用默认值
func (c SessionConfig) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutMS) * time.Millisecond
}

// Kind 被拦截事务的阶段
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// ScopeFilter 拦截范围过滤方式
type ScopeFilter string

const (
	ScopeAll      ScopeFilter = "all"
	ScopeInScope  ScopeFilter = "in-scope"
	ScopeOutScope ScopeFilter = "out-scope"
)

// Valid 判断过滤方式是否合法
func (f ScopeFilter) Valid() bool {
	switch f {
	case ScopeAll, ScopeInScope, ScopeOutScope:
		return true
	}
	return false
}

// InterceptOptions 拦截策略
type InterceptOptions struct {
	InterceptRequests  bool        `json:"interceptRequests"`
	InterceptResponses bool        `json:"interceptResponses"`
	ScopeFilter        ScopeFilter `json:"scopeFilter"`
}

// DefaultInterceptOptions 默认只拦截请求，不做范围过滤
func DefaultInterceptOptions() InterceptOptions {
	return InterceptOptions{InterceptRequests: true, ScopeFilter: ScopeAll}
}

// Transaction 领域模型：被拦截并暂停的请求/响应
type Transaction struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	TabID        TargetID       `json:"tabId"`
	PausedID     string         `json:"pausedId"`
	Method       string         `json:"method"`
	URL          string         `json:"url"`
	Headers      traffic.Header `json:"headers"`
	Body         []byte         `json:"body,omitempty"`
	StatusCode   int            `json:"statusCode,omitempty"`
	StatusText   string         `json:"statusText,omitempty"`
	ResourceType string         `json:"resourceType,omitempty"`
	Modified     bool           `json:"modified"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Age 事务在队列中停留的时长
func (t *Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

// Clone 深拷贝，队列对外只暴露副本
func (t *Transaction) Clone() Transaction {
	c := *t
	c.Headers = t.Headers.Clone()
	if t.Body != nil {
		c.Body = append([]byte(nil), t.Body...)
	}
	return c
}

// Event 推送给操作端的通知
type Event struct {
	Type        string       `json:"type"`
	Session     SessionID    `json:"session"`
	Target      TargetID     `json:"target,omitempty"`
	Attack      AttackID     `json:"attack,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Result      any          `json:"result,omitempty"`
	URL         string       `json:"url,omitempty"`
	Method      string       `json:"method,omitempty"`
	Stage       Kind         `json:"stage,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   int64        `json:"timestamp"`
}

// 事件类型
const (
	EventIntercepted   = "intercepted"
	EventForwarded     = "forwarded"
	EventDropped       = "dropped"
	EventAutoContinued = "auto_continued"
	EventDetached      = "detached"
	EventError         = "error"
	EventAttackResult  = "attack_result"
	EventAttackDone    = "attack_done"
)

// TargetInfo 浏览器标签页信息
type TargetInfo struct {
	ID       TargetID `json:"id"`
	Type     string   `json:"type"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Attached bool     `json:"attached"`
}
