package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/fetch"

	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

// Debugger 浏览器调试协议入口
type Debugger interface {
	Targets(ctx context.Context) ([]domain.TargetInfo, error)
	Attach(ctx context.Context, tab domain.TargetID) (Session, error)
}

// Session 单个标签页上的调试会话
type Session interface {
	// Enable 开启网络观察以及请求/响应两个阶段的暂停
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
	FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error
	FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error
	// GetResponseBody 返回已解码的响应体
	GetResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error)
	// Events 按到达顺序投递事件
	Events() <-chan Event
	Close() error
}

// Event 会话事件，取值仅限本包定义的类型
type Event interface {
	event()
}

// RequestPaused Fetch.requestPaused
type RequestPaused struct {
	Paused Paused
}

// Detached 会话被浏览器或用户断开，或事件流结束
type Detached struct {
	Reason string
}

func (RequestPaused) event() {}
func (Detached) event()      {}

// Paused 一次暂停事件中控制器关心的字段
type Paused struct {
	RequestID           fetch.RequestID
	URL                 string
	Method              string
	Headers             traffic.Header
	PostData            []byte
	ResourceType        string
	ResponseStatusCode  *int
	ResponseStatusText  string
	ResponseHeaders     traffic.Header
	ResponseErrorReason string
}

// IsResponse 存在状态码、响应头或响应错误原因即为响应阶段
func (p *Paused) IsResponse() bool {
	return p.ResponseStatusCode != nil || len(p.ResponseHeaders) > 0 || p.ResponseErrorReason != ""
}

// Stage 暂停阶段
func (p *Paused) Stage() domain.Kind {
	if p.IsResponse() {
		return domain.KindResponse
	}
	return domain.KindRequest
}
