// Package cdptest 提供不依赖浏览器的调试会话替身。
package cdptest

import (
	"context"
	"sync"

	"github.com/mafredri/cdp/protocol/fetch"

	"repplus/internal/cdp"
	"repplus/pkg/domain"
)

// Session 记录收到的协议命令，事件由测试通过 Push 注入
type Session struct {
	mu        sync.Mutex
	events    chan cdp.Event
	Continued []*fetch.ContinueRequestArgs
	Failed    []*fetch.FailRequestArgs
	Fulfilled []*fetch.FulfillRequestArgs
	Body      []byte
	closed    bool
}

// NewSession 创建会话替身
func NewSession() *Session {
	return &Session{events: make(chan cdp.Event, 64)}
}

// Push 注入一个事件
func (s *Session) Push(ev cdp.Event) { s.events <- ev }

// Pause 注入一个请求阶段的暂停事件
func (s *Session) Pause(id, method, url string) {
	s.Push(cdp.RequestPaused{Paused: cdp.Paused{RequestID: fetch.RequestID(id), Method: method, URL: url}})
}

func (s *Session) Enable(context.Context) error  { return nil }
func (s *Session) Disable(context.Context) error { return nil }

func (s *Session) ContinueRequest(_ context.Context, args *fetch.ContinueRequestArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Continued = append(s.Continued, args)
	return nil
}

func (s *Session) FailRequest(_ context.Context, args *fetch.FailRequestArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed = append(s.Failed, args)
	return nil
}

func (s *Session) FulfillRequest(_ context.Context, args *fetch.FulfillRequestArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fulfilled = append(s.Fulfilled, args)
	return nil
}

func (s *Session) GetResponseBody(context.Context, fetch.RequestID) ([]byte, error) {
	return s.Body, nil
}

func (s *Session) Events() <-chan cdp.Event { return s.events }

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Counts 已发送的 continue/fail/fulfill 命令数
func (s *Session) Counts() (continued, failed, fulfilled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Continued), len(s.Failed), len(s.Fulfilled)
}

// Closed 会话是否已关闭
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Debugger 按标签页返回预置的会话替身
type Debugger struct {
	mu       sync.Mutex
	targets  []domain.TargetInfo
	sessions map[domain.TargetID]*Session
}

// NewDebugger 为每个标签页预置一个会话替身
func NewDebugger(tabs ...domain.TargetID) *Debugger {
	d := &Debugger{sessions: make(map[domain.TargetID]*Session)}
	for _, t := range tabs {
		d.targets = append(d.targets, domain.TargetInfo{ID: t, Type: "page", URL: "about:blank"})
		d.sessions[t] = NewSession()
	}
	return d
}

// Session 某个标签页的会话替身
func (d *Debugger) Session(tab domain.TargetID) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[tab]
}

func (d *Debugger) Targets(context.Context) ([]domain.TargetInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.TargetInfo(nil), d.targets...), nil
}

func (d *Debugger) Attach(_ context.Context, tab domain.TargetID) (cdp.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[tab]
	if !ok {
		return nil, cdp.ErrTargetNotFound
	}
	return s, nil
}
