package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"repplus/internal/broker"
	"repplus/internal/cdp"
	"repplus/internal/fuzz"
	"repplus/internal/logger"
	"repplus/internal/replay"
	"repplus/internal/scope"
	"repplus/internal/storage"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

const defaultEventBuffer = 256

var (
	ErrAttackNotFound = errors.New("attack not found")
	ErrClosed         = errors.New("session closed")
)

// Deps 会话依赖，由服务层按配置构造
type Deps struct {
	Debugger cdp.Debugger
	Sender   *replay.Sender
	Store    *storage.Store
	Logger   logger.Logger
}

// Session 一个操作会话：拦截控制器、范围策略、重放、攻击与历史
type Session struct {
	ID     domain.SessionID
	Config domain.SessionConfig

	Controller *cdp.Manager
	Scope      *scope.Engine
	Broker     *broker.Broker
	Sender     *replay.Sender
	Store      *storage.Store

	log    logger.Logger
	events chan domain.Event
	ctx    context.Context
	cancel context.CancelFunc
	pumpWG sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	attacks map[domain.AttackID]*fuzz.Attack
	order   []domain.AttackID
}

// New 创建会话并开始分发控制器通知
func New(id domain.SessionID, cfg domain.SessionConfig, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("session", string(id))
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}

	s := &Session{
		ID:      id,
		Config:  cfg,
		Scope:   scope.New(scope.Policy{}),
		Broker:  broker.New(),
		Sender:  deps.Sender,
		Store:   deps.Store,
		log:     log,
		events:  make(chan domain.Event, buf),
		attacks: make(map[domain.AttackID]*fuzz.Attack),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Controller = cdp.New(deps.Debugger,
		cdp.WithLogger(log),
		cdp.WithEvents(s.events),
		cdp.WithSessionID(id),
		cdp.WithScope(s.Scope),
		cdp.WithProcessTimeout(cfg.ProcessTimeout()),
	)

	s.pumpWG.Add(1)
	go s.pump()
	return s
}

// pump 记录已处理的事务并转发给订阅者
func (s *Session) pump() {
	defer s.pumpWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.events:
			switch evt.Type {
			case domain.EventForwarded, domain.EventDropped:
				if s.Store != nil && evt.Transaction != nil {
					_ = s.Store.RecordTransaction(s.ctx, s.ID, evt.Type, evt.Transaction)
				}
			}
			s.Broker.Publish(evt)
		}
	}
}

// Replay 发送一次请求并写入历史
func (s *Session) Replay(ctx context.Context, req *traffic.Request) (*replay.Response, error) {
	resp, err := s.Sender.Send(ctx, req)
	if s.Store != nil {
		_ = s.Store.RecordReplay(ctx, s.ID, req, resp, err)
	}
	return resp, err
}

// StartAttack 创建并启动一次攻击，结果逐条推送并写入历史
func (s *Session) StartAttack(cfg fuzz.Config) (*fuzz.Attack, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	id := domain.AttackID(uuid.NewString())
	a, err := fuzz.New(cfg, s.Sender,
		fuzz.WithID(string(id)),
		fuzz.WithLogger(s.log.With("attack", string(id))),
		fuzz.WithResultHandler(func(r fuzz.Result) { s.onResult(id, r) }),
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.attacks[id] = a
	s.order = append(s.order, id)
	s.mu.Unlock()

	if err := a.Start(s.ctx); err != nil {
		return nil, err
	}
	go s.watchAttack(id, a)
	return a, nil
}

func (s *Session) onResult(id domain.AttackID, r fuzz.Result) {
	if s.Store != nil {
		_ = s.Store.RecordAttackResult(s.ctx, s.ID, id, &r)
	}
	s.Broker.Publish(domain.Event{Type: domain.EventAttackResult, Session: s.ID, Attack: id, Result: r})
}

func (s *Session) watchAttack(id domain.AttackID, a *fuzz.Attack) {
	<-a.Done()
	s.Broker.Publish(domain.Event{Type: domain.EventAttackDone, Session: s.ID, Attack: id, Result: a.Progress()})
}

// Attack 按标识查找攻击
func (s *Session) Attack(id domain.AttackID) (*fuzz.Attack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attacks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttackNotFound, id)
	}
	return a, nil
}

// Attacks 按创建顺序列出攻击标识
func (s *Session) Attacks() []domain.AttackID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Close 停止全部攻击，停用所有标签页并释放资源
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	attacks := make([]*fuzz.Attack, 0, len(s.attacks))
	for _, a := range s.attacks {
		attacks = append(attacks, a)
	}
	s.mu.Unlock()

	for _, a := range attacks {
		a.Stop()
	}
	s.Controller.Close(ctx)
	for _, a := range attacks {
		select {
		case <-a.Done():
		case <-ctx.Done():
		}
	}

	s.cancel()
	s.pumpWG.Wait()
	s.Broker.Close()
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.log.Err(err, "关闭历史存储失败")
			return err
		}
	}
	s.log.Info("会话已关闭")
	return nil
}
