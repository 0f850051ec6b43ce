package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"repplus/internal/logger"
	"repplus/pkg/domain"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(id domain.SessionID, cfg domain.SessionConfig, deps Deps) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	if deps.Logger == nil {
		deps.Logger = m.log
	}
	s := New(id, cfg, deps)
	m.sessions[id] = s
	m.log.Info("创建业务会话", "sessionID", string(id))
	return s, nil
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete 注销并关闭会话
func (m *Manager) Delete(ctx context.Context, id domain.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.log.Info("销毁业务会话", "sessionID", string(id))
	return s.Close(ctx)
}

// List 按标识排序返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	slices.SortFunc(list, func(a, b *Session) int { return cmp.Compare(a.ID, b.ID) })
	return list
}

// CloseAll 关闭全部会话
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[domain.SessionID]*Session)
	m.mu.Unlock()
	for id, s := range all {
		if err := s.Close(ctx); err != nil {
			m.log.Err(err, "关闭会话失败", "sessionID", string(id))
		}
	}
}
