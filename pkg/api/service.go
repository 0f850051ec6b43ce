package api

import (
	"context"

	"repplus/internal/config"
	"repplus/internal/fuzz"
	"repplus/internal/logger"
	"repplus/internal/replay"
	"repplus/internal/scope"
	"repplus/internal/service"
	"repplus/internal/storage"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话，放行所有待处理事务
	StopSession(ctx context.Context, id domain.SessionID) error

	// ListTargets 列出浏览器标签页
	ListTargets(ctx context.Context, id domain.SessionID) ([]domain.TargetInfo, error)

	// ToggleInterception 在标签页上开启或关闭拦截
	ToggleInterception(ctx context.Context, id domain.SessionID, tab domain.TargetID, enabled bool, opts domain.InterceptOptions) error

	// SetInterceptOptions 更新拦截策略
	SetInterceptOptions(ctx context.Context, id domain.SessionID, opts domain.InterceptOptions) error

	// InterceptOptions 当前拦截策略
	InterceptOptions(ctx context.Context, id domain.SessionID) (domain.InterceptOptions, error)

	// Queue 待处理事务
	Queue(ctx context.Context, id domain.SessionID) ([]domain.Transaction, error)

	// Forward 放行事务，Modified 为 true 时使用编辑后的内容
	Forward(ctx context.Context, id domain.SessionID, tx domain.Transaction) error

	// ForwardRaw 以编辑后的原始文本放行
	ForwardRaw(ctx context.Context, id domain.SessionID, txID, raw string) error

	// Drop 丢弃事务
	Drop(ctx context.Context, id domain.SessionID, txID string) error

	// ForwardAll 放行标签页的全部待处理事务，tab 为空表示全部
	ForwardAll(ctx context.Context, id domain.SessionID, tab domain.TargetID) (int, error)

	// DropAll 丢弃标签页的全部待处理事务，tab 为空表示全部
	DropAll(ctx context.Context, id domain.SessionID, tab domain.TargetID) (int, error)

	// Scope 范围策略
	Scope(ctx context.Context, id domain.SessionID) (scope.Policy, error)

	// SetScope 替换范围策略
	SetScope(ctx context.Context, id domain.SessionID, p scope.Policy) error

	// AddScopeDomain 将 URL 所在主机加入范围
	AddScopeDomain(ctx context.Context, id domain.SessionID, rawURL string) (scope.Rule, error)

	// Replay 重放请求
	Replay(ctx context.Context, id domain.SessionID, req *traffic.Request) (*replay.Response, error)

	// ReplayRaw 解析原始文本后重放
	ReplayRaw(ctx context.Context, id domain.SessionID, raw string) (*replay.Response, error)

	// StartAttack 启动攻击
	StartAttack(ctx context.Context, id domain.SessionID, cfg fuzz.Config) (domain.AttackID, error)

	// PauseAttack 暂停攻击
	PauseAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID) error

	// ResumeAttack 恢复攻击
	ResumeAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID) error

	// StopAttack 停止攻击
	StopAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID) error

	// AttackProgress 攻击进度
	AttackProgress(ctx context.Context, id domain.SessionID, attack domain.AttackID) (fuzz.Progress, error)

	// AttackResults 攻击结果
	AttackResults(ctx context.Context, id domain.SessionID, attack domain.AttackID) ([]fuzz.Result, error)

	// ExportAttack 导出攻击结果，format 为 csv 或 json
	ExportAttack(ctx context.Context, id domain.SessionID, attack domain.AttackID, format string) ([]byte, string, error)

	// History 按搜索、方法与排序条件查询会话历史
	History(ctx context.Context, id domain.SessionID, filter storage.HistoryFilter) ([]storage.Exchange, error)

	// HistoryHAR 以 HAR 导出会话历史
	HistoryHAR(ctx context.Context, id domain.SessionID) ([]byte, error)

	// SubscribeEvents 订阅事件，返回的函数用于取消订阅
	SubscribeEvents(ctx context.Context, id domain.SessionID) (<-chan domain.Event, func(), error)

	// Close 关闭全部会话
	Close(ctx context.Context)
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger, opts ...service.Option) Service {
	return service.New(cfg, l, opts...)
}
