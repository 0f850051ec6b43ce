// Package cdp 管理标签页调试会话，拦截暂停的请求/响应并按操作者的决定放行、修改或丢弃。
package cdp

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"repplus/internal/logger"
	"repplus/internal/scope"
	"repplus/pkg/domain"
)

const defaultProcessTimeout = 3 * time.Second

// TabState 标签页会话状态
type TabState string

const (
	StateDetached  TabState = "detached"
	StateAttaching TabState = "attaching"
	StateAttached  TabState = "attached"
	StateDisabling TabState = "disabling"
)

type targetSession struct {
	id     domain.TargetID
	sess   Session
	state  TabState
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type queued struct {
	tx domain.Transaction
	ts *targetSession
}

// Manager 拦截控制器，持有已连接标签页集合、拦截策略与暂停队列
type Manager struct {
	debugger       Debugger
	log            logger.Logger
	events         chan<- domain.Event
	sessionID      domain.SessionID
	scope          *scope.Engine
	processTimeout time.Duration

	targetsMu sync.Mutex
	targets   map[domain.TargetID]*targetSession
	opts      domain.InterceptOptions

	queueMu sync.Mutex
	queue   []*queued
	seq     atomic.Int64
}

// Option 控制器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithEvents 设置通知通道，发送不阻塞，通道满时丢弃
func WithEvents(ch chan<- domain.Event) Option {
	return func(m *Manager) { m.events = ch }
}

// WithSessionID 通知中携带的会话标识
func WithSessionID(id domain.SessionID) Option {
	return func(m *Manager) { m.sessionID = id }
}

// WithScope 设置范围判定器
func WithScope(s *scope.Engine) Option {
	return func(m *Manager) { m.scope = s }
}

// WithProcessTimeout 单条协议命令的超时
func WithProcessTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.processTimeout = d
		}
	}
}

// New 创建拦截控制器
func New(debugger Debugger, opts ...Option) *Manager {
	m := &Manager{
		debugger:       debugger,
		log:            logger.NewNop(),
		processTimeout: defaultProcessTimeout,
		targets:        make(map[domain.TargetID]*targetSession),
		opts:           domain.DefaultInterceptOptions(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Targets 列出浏览器目标并标记已连接的标签页
func (m *Manager) Targets(ctx context.Context) ([]domain.TargetInfo, error) {
	list, err := m.debugger.Targets(ctx)
	if err != nil {
		return nil, err
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	for i := range list {
		if ts, ok := m.targets[list[i].ID]; ok && ts.state == StateAttached {
			list[i].Attached = true
		}
	}
	return list, nil
}

// Enable 连接标签页并开启请求/响应拦截，同时更新拦截策略
func (m *Manager) Enable(ctx context.Context, tab domain.TargetID, opts domain.InterceptOptions) error {
	m.targetsMu.Lock()
	if _, ok := m.targets[tab]; ok {
		m.targetsMu.Unlock()
		return &AttachError{Tab: tab, Err: ErrAlreadyAttached}
	}
	ts := &targetSession{id: tab, state: StateAttaching, done: make(chan struct{})}
	m.targets[tab] = ts
	m.targetsMu.Unlock()

	fail := func(err error) error {
		m.targetsMu.Lock()
		if m.targets[tab] == ts {
			delete(m.targets, tab)
		}
		m.targetsMu.Unlock()
		m.log.Err(err, "连接标签页失败", "target", string(tab))
		return &AttachError{Tab: tab, Err: err}
	}

	actx, cancel := m.commandContext(ctx)
	defer cancel()
	sess, err := m.debugger.Attach(actx, tab)
	if err != nil {
		return fail(err)
	}
	if err := sess.Enable(actx); err != nil {
		_ = sess.Close()
		return fail(err)
	}

	ts.sess = sess
	ts.ctx, ts.cancel = context.WithCancel(context.Background())
	m.targetsMu.Lock()
	ts.state = StateAttached
	m.targetsMu.Unlock()
	m.SetOptions(opts)

	go m.consume(ts)
	m.log.Info("拦截已启用", "target", string(tab), "requests", opts.InterceptRequests, "responses", opts.InterceptResponses, "scope", string(opts.ScopeFilter))
	return nil
}

// Disable 先放行该标签页的待处理事务并关闭拦截，再断开会话；未连接时为空操作
func (m *Manager) Disable(ctx context.Context, tab domain.TargetID) error {
	m.targetsMu.Lock()
	ts, ok := m.targets[tab]
	if !ok || ts.state != StateAttached {
		m.targetsMu.Unlock()
		return nil
	}
	ts.state = StateDisabling
	m.targetsMu.Unlock()

	if n := m.ForwardAll(ctx, tab); n > 0 {
		m.log.Info("停用前放行待处理事务", "target", string(tab), "count", n)
	}

	cctx, cancel := m.commandContext(ctx)
	if err := ts.sess.Disable(cctx); err != nil {
		m.log.Warn("关闭拦截失败，继续断开会话", "target", string(tab), "error", err.Error())
	}
	cancel()
	m.closeTargetSession(ts)

	m.targetsMu.Lock()
	if m.targets[tab] == ts {
		delete(m.targets, tab)
	}
	m.targetsMu.Unlock()
	m.discardTab(ts)

	m.sendEvent(domain.Event{Type: domain.EventDetached, Target: tab, Error: "disabled"})
	m.log.Info("拦截已停用", "target", string(tab))
	return nil
}

// Close 停用全部标签页
func (m *Manager) Close(ctx context.Context) {
	for _, tab := range m.Attached() {
		_ = m.Disable(ctx, tab)
	}
}

// Attached 已连接的标签页
func (m *Manager) Attached() []domain.TargetID {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]domain.TargetID, 0, len(m.targets))
	for id, ts := range m.targets {
		if ts.state == StateAttached {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// State 标签页当前状态
func (m *Manager) State(tab domain.TargetID) TabState {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	if ts, ok := m.targets[tab]; ok {
		return ts.state
	}
	return StateDetached
}

// SetOptions 更新拦截策略，非法的范围过滤方式按 all 处理
func (m *Manager) SetOptions(opts domain.InterceptOptions) {
	if !opts.ScopeFilter.Valid() {
		opts.ScopeFilter = domain.ScopeAll
	}
	m.targetsMu.Lock()
	m.opts = opts
	m.targetsMu.Unlock()
}

// Options 当前拦截策略
func (m *Manager) Options() domain.InterceptOptions {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	return m.opts
}

// consume 按到达顺序逐个处理单个标签页的事件
func (m *Manager) consume(ts *targetSession) {
	defer close(ts.done)
	events := ts.sess.Events()
	for {
		select {
		case <-ts.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.handleTargetStreamClosed(ts, "event stream closed")
				return
			}
			switch e := ev.(type) {
			case RequestPaused:
				m.handle(ts, e.Paused)
			case Detached:
				m.handleTargetStreamClosed(ts, e.Reason)
				return
			default:
				// 未关心的事件
			}
		}
	}
}

// handleTargetStreamClosed 浏览器侧断开后移出已连接集合，队列中的事务在转发/丢弃时报告会话丢失
func (m *Manager) handleTargetStreamClosed(ts *targetSession, reason string) {
	m.targetsMu.Lock()
	if ts.state == StateDisabling {
		m.targetsMu.Unlock()
		return
	}
	ts.state = StateDetached
	if cur, ok := m.targets[ts.id]; ok && cur == ts {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()

	m.log.Warn("调试会话已断开，自动移除目标", "target", string(ts.id), "reason", reason)
	ts.cancel()
	_ = ts.sess.Close()
	m.sendEvent(domain.Event{Type: domain.EventDetached, Target: ts.id, Error: reason})
}

func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if err := ts.sess.Close(); err != nil {
		m.log.Debug("关闭调试会话出错", "target", string(ts.id), "error", err.Error())
	}
	<-ts.done
}

// live 会话仍处于连接状态
func (m *Manager) live(ts *targetSession) bool {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	cur, ok := m.targets[ts.id]
	return ok && cur == ts && (ts.state == StateAttached || ts.state == StateDisabling)
}

func (m *Manager) commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, m.processTimeout)
}

// sendEvent 非阻塞发送通知，自动添加时间戳
func (m *Manager) sendEvent(evt domain.Event) {
	if m.events == nil {
		return
	}
	evt.Session = m.sessionID
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case m.events <- evt:
	default:
	}
}
