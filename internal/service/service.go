// Package service 组装会话、控制器、重放与攻击，对外提供统一的操作入口。
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"repplus/internal/cdp"
	"repplus/internal/config"
	"repplus/internal/fuzz"
	"repplus/internal/logger"
	"repplus/internal/rawhttp"
	"repplus/internal/replay"
	"repplus/internal/scope"
	"repplus/internal/session"
	"repplus/internal/storage"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAttackState     = errors.New("attack cannot change state")
)

// DebuggerFactory 按 DevTools 地址创建调试器
type DebuggerFactory func(devtoolsURL string, l logger.Logger) cdp.Debugger

// Option 服务选项
type Option func(*Service)

// WithDebuggerFactory 替换调试器构造方式
func WithDebuggerFactory(f DebuggerFactory) Option {
	return func(s *Service) { s.newDebugger = f }
}

// Service api.Service 的实现，持有全部会话
type Service struct {
	cfg         *config.Config
	log         logger.Logger
	mgr         *session.Manager
	newDebugger DebuggerFactory
}

// New 创建服务实现
func New(cfg *config.Config, l logger.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{
		cfg: cfg,
		log: l,
		mgr: session.NewManager(l),
		newDebugger: func(url string, l logger.Logger) cdp.Debugger {
			return cdp.NewDevtoolsDebugger(url, l)
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SenderOptions 由全局配置得到重放发送器选项，会话内保留 Cookie
func SenderOptions(cfg *config.Config, l logger.Logger) replay.Options {
	return replay.Options{
		Timeout:         cfg.Replay.Timeout,
		Proxy:           cfg.Replay.Proxy,
		Insecure:        cfg.Replay.Insecure,
		FollowRedirects: cfg.Replay.FollowRedirects,
		Cookies:         true,
		UserAgent:       cfg.Replay.UserAgent,
		Logger:          l,
	}
}

// StartSession 按配置创建会话，未填写的字段取全局配置
func (s *Service) StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error) {
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = s.cfg.Devtools.URL
	}
	if cfg.ProcessTimeoutMS <= 0 {
		cfg.ProcessTimeoutMS = s.cfg.Devtools.ProcessTimeoutMS
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = s.cfg.Devtools.EventBuffer
	}
	if cfg.HistoryDSN == "" {
		cfg.HistoryDSN = s.cfg.Sqlite.Dsn
	}

	id := domain.SessionID(uuid.NewString())
	log := s.log.With("session", string(id))

	sender, err := replay.NewSender(SenderOptions(s.cfg, log))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	store, err := storage.Open(storage.Options{DSN: cfg.HistoryDSN, Prefix: s.cfg.Sqlite.Prefix, Logger: log})
	if err != nil {
		return "", err
	}

	_, err = s.mgr.Create(id, cfg, session.Deps{
		Debugger: s.newDebugger(cfg.DevToolsURL, log),
		Sender:   sender,
		Store:    store,
		Logger:   s.log,
	})
	if err != nil {
		_ = store.Close()
		return "", err
	}
	return id, nil
}

func (s *Service) StopSession(ctx context.Context, id domain.SessionID) error {
	return s.mgr.Delete(ctx, id)
}

func (s *Service) ListTargets(ctx context.Context, id domain.SessionID) ([]domain.TargetInfo, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Controller.Targets(ctx)
}

func (s *Service) ToggleInterception(ctx context.Context, id domain.SessionID, tab domain.TargetID, enabled bool, opts domain.InterceptOptions) error {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return err
	}
	if !enabled {
		return sess.Controller.Disable(ctx, tab)
	}
	return sess.Controller.Enable(ctx, tab, opts)
}

func (s *Service) SetInterceptOptions(ctx context.Context, id domain.SessionID, opts domain.InterceptOptions) error {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return err
	}
	sess.Controller.SetOptions(opts)
	return nil
}

func (s *Service) InterceptOptions(ctx context.Context, id domain.SessionID) (domain.InterceptOptions, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return domain.InterceptOptions{}, err
	}
	return sess.Controller.Options(), nil
}

func (s *Service) Queue(ctx context.Context, id domain.SessionID) ([]domain.Transaction, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Controller.Queue(), nil
}

func (s *Service) Forward(ctx context.Context, id domain.SessionID, tx domain.Transaction) error {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return err
	}
	return sess.Controller.Forward(ctx, tx)
}

func (s *Service) ForwardRaw(ctx context.Context, id domain.SessionID, txID, raw string) error {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return err
	}
	return sess.Controller.ForwardRaw(ctx, txID, raw)
}

func (s *Service) Drop(ctx context.Context, id domain.SessionID, txID string) error {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return err
	}
	return sess.Controller.Drop(ctx, txID)
}

func (s *Service) ForwardAll(ctx context.Context, id domain.SessionID, tab domain.TargetID) (int, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return 0, err
	}
	return sess.Controller.ForwardAll(ctx, tab), nil
}

func (s *Service) DropAll(ctx context.Context, id domain.SessionID, tab domain.TargetID) (int, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return 0, err
	}
	return sess.Controller.DropAll(ctx, tab), nil
}

func (s *Service) Scope(ctx context.Context, id domain.SessionID) (scope.Policy, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return scope.Policy{}, err
	}
	return sess.Scope.Policy(), nil
}

func (s *Service) SetScope(ctx context.Context, id domain.SessionID, p scope.Policy) error {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return err
	}
	for i := range p.Rules {
		if p.Rules[i].Type == "" {
			p.Rules[i].Type = scope.DetectType(p.Rules[i].Pattern)
		}
	}
	sess.Scope.Update(p)
	return nil
}

func (s *Service) AddScopeDomain(ctx context.Context, id domain.SessionID, rawURL string) (scope.Rule, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return scope.Rule{}, err
	}
	rule, err := scope.DomainRule(rawURL)
	if err != nil {
		return scope.Rule{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	p := sess.Scope.Policy()
	p.Rules = append(p.Rules, rule)
	sess.Scope.Update(p)
	return rule, nil
}

func (s *Service) Replay(ctx context.Context, id domain.SessionID, req *traffic.Request) (*replay.Response, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Replay(ctx, req)
}

func (s *Service) ReplayRaw(ctx context.Context, id domain.SessionID, raw string) (*replay.Response, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	req, err := rawhttp.Decode(raw)
	if err != nil {
		return nil, err
	}
	return sess.Replay(ctx, req.Traffic())
}

func (s *Service) StartAttack(ctx context.Context, id domain.SessionID, cfg fuzz.Config) (domain.AttackID, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return "", err
	}
	if cfg.Threads <= 0 {
		cfg.Threads = s.cfg.Fuzz.Threads
	}
	if cfg.Delay <= 0 {
		cfg.Delay = s.cfg.Fuzz.Delay
	}
	a, err := sess.StartAttack(cfg)
	if err != nil {
		return "", err
	}
	return domain.AttackID(a.ID()), nil
}

func (s *Service) attack(id domain.SessionID, attack domain.AttackID) (*fuzz.Attack, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Attack(attack)
}

func (s *Service) PauseAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID) error {
	a, err := s.attack(id, attack)
	if err != nil {
		return err
	}
	if !a.Pause() {
		return fmt.Errorf("%w: pause in state %s", ErrAttackState, a.Progress().State)
	}
	return nil
}

func (s *Service) ResumeAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID) error {
	a, err := s.attack(id, attack)
	if err != nil {
		return err
	}
	if !a.Resume() {
		return fmt.Errorf("%w: resume in state %s", ErrAttackState, a.Progress().State)
	}
	return nil
}

func (s *Service) StopAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID) error {
	a, err := s.attack(id, attack)
	if err != nil {
		return err
	}
	a.Stop()
	return nil
}

func (s *Service) AttackProgress(ctx context.Context, id domain.SessionID, attack domain.AttackID) (fuzz.Progress, error) {
	a, err := s.attack(id, attack)
	if err != nil {
		return fuzz.Progress{}, err
	}
	return a.Progress(), nil
}

func (s *Service) AttackResults(ctx context.Context, id domain.SessionID, attack domain.AttackID) ([]fuzz.Result, error) {
	a, err := s.attack(id, attack)
	if err != nil {
		return nil, err
	}
	return a.Results(), nil
}

// ExportAttack 返回导出内容与对应的 Content-Type
func (s *Service) ExportAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID, format string) ([]byte, string, error) {
	a, err := s.attack(id, attack)
	if err != nil {
		return nil, "", err
	}
	switch format {
	case "", "csv":
		var buf bytes.Buffer
		if err := fuzz.ExportCSV(&buf, a.Results(), a.Config().Grep); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	case "json":
		data, err := fuzz.ExportJSON(a.ID(), a.Progress(), a.Results())
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	default:
		return nil, "", fmt.Errorf("%w: unknown export format %q", ErrInvalidArgument, format)
	}
}

func (s *Service) History(ctx context.Context, id domain.SessionID, filter storage.HistoryFilter) ([]storage.Exchange, error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	h, err := sess.Store.History(ctx, id, filter)
	if errors.Is(err, storage.ErrInvalidFilter) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return h, err
}

func (s *Service) HistoryHAR(ctx context.Context, id domain.SessionID) ([]byte, error) {
	entries, err := s.History(ctx, id, storage.HistoryFilter{})
	if err != nil {
		return nil, err
	}
	return storage.MarshalHAR(entries, s.cfg.Version)
}

func (s *Service) SubscribeEvents(ctx context.Context, id domain.SessionID) (<-chan domain.Event, func(), error) {
	sess, err := s.mgr.Get(id)
	if err != nil {
		return nil, nil, err
	}
	sub, ch := sess.Broker.Subscribe()
	return ch, func() { sess.Broker.Unsubscribe(sub) }, nil
}

func (s *Service) Close(ctx context.Context) {
	s.mgr.CloseAll(ctx)
}
