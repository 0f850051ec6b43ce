package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/inspector"
	"github.com/mafredri/cdp/rpcc"

	cdpadapter "repplus/internal/adapter/cdp"
	"repplus/internal/logger"
	"repplus/pkg/domain"
)

const eventBuffer = 128

// DevtoolsDebugger 通过远程调试端口连接浏览器
type DevtoolsDebugger struct {
	devtoolsURL string
	log         logger.Logger
}

// NewDevtoolsDebugger 创建调试入口，devtoolsURL 形如 http://127.0.0.1:9222
func NewDevtoolsDebugger(devtoolsURL string, log logger.Logger) *DevtoolsDebugger {
	if log == nil {
		log = logger.NewNop()
	}
	return &DevtoolsDebugger{devtoolsURL: devtoolsURL, log: log}
}

// Targets 列出浏览器中的目标
func (d *DevtoolsDebugger) Targets(ctx context.Context) ([]domain.TargetInfo, error) {
	targets, err := devtool.New(d.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]domain.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, domain.TargetInfo{
			ID:    domain.TargetID(t.ID),
			Type:  string(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// Attach 连接指定标签页，tab 为空时选择第一个页面
func (d *DevtoolsDebugger) Attach(ctx context.Context, tab domain.TargetID) (Session, error) {
	targets, err := devtool.New(d.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if tab == "" && t.Type == devtool.Page {
			sel = t
			break
		}
		if string(t.ID) == string(tab) {
			sel = t
			break
		}
	}
	if sel == nil {
		return nil, ErrTargetNotFound
	}
	// 已有其他调试客户端连接时浏览器不再提供 websocket 地址
	if sel.WebSocketDebuggerURL == "" {
		return nil, ErrAttachDenied
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachDenied, err)
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &devtoolsSession{
		id:     domain.TargetID(sel.ID),
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    sctx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
		log:    d.log.With("target", string(sel.ID)),
	}
	d.log.Info("已连接目标", "target", string(sel.ID), "url", sel.URL)
	return s, nil
}

type devtoolsSession struct {
	id     domain.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	log    logger.Logger

	closeOnce sync.Once
}

func (s *devtoolsSession) Enable(ctx context.Context) error {
	if err := s.client.Network.Enable(ctx, nil); err != nil {
		return err
	}

	// 先订阅再开启暂停，避免漏掉第一批事件
	paused, err := s.client.Fetch.RequestPaused(s.ctx)
	if err != nil {
		return err
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := s.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		paused.Close()
		return err
	}
	go s.consume(paused)

	if detached, err := s.client.Inspector.Detached(s.ctx); err == nil {
		go s.watchDetached(detached)
	} else {
		s.log.Warn("订阅 Inspector.detached 失败", "error", err.Error())
	}
	return nil
}

func (s *devtoolsSession) Disable(ctx context.Context) error {
	return s.client.Fetch.Disable(ctx)
}

func (s *devtoolsSession) ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error {
	return s.client.Fetch.ContinueRequest(ctx, args)
}

func (s *devtoolsSession) FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error {
	return s.client.Fetch.FailRequest(ctx, args)
}

func (s *devtoolsSession) FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error {
	return s.client.Fetch.FulfillRequest(ctx, args)
}

func (s *devtoolsSession) GetResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error) {
	reply, err := s.client.Fetch.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: id})
	if err != nil {
		return nil, err
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}

func (s *devtoolsSession) Events() <-chan Event { return s.events }

func (s *devtoolsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// consume 将 requestPaused 流转换为会话事件，流结束时投递 Detached
func (s *devtoolsSession) consume(stream fetch.RequestPausedClient) {
	defer stream.Close()
	s.log.Info("开始消费拦截事件流")
	for {
		ev, err := stream.Recv()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Err(err, "接收拦截事件失败")
			}
			s.emit(Detached{Reason: err.Error()})
			return
		}
		statusText, errorReason := cdpadapter.ResponseMeta(ev)
		p := Paused{
			RequestID:           ev.RequestID,
			URL:                 ev.Request.URL,
			Method:              ev.Request.Method,
			Headers:             cdpadapter.RequestHeaders(ev.Request.Headers),
			PostData:            cdpadapter.PostData(ev),
			ResourceType:        string(ev.ResourceType),
			ResponseStatusCode:  ev.ResponseStatusCode,
			ResponseStatusText:  statusText,
			ResponseHeaders:     cdpadapter.ResponseHeaders(ev.ResponseHeaders),
			ResponseErrorReason: errorReason,
		}
		if len(ev.ResponseHeaders) == 0 {
			p.ResponseHeaders = nil
		}
		if !s.emit(RequestPaused{Paused: p}) {
			return
		}
	}
}

// watchDetached 浏览器主动断开调试（例如打开了 DevTools 或标签页关闭）
func (s *devtoolsSession) watchDetached(stream inspector.DetachedClient) {
	defer stream.Close()
	reply, err := stream.Recv()
	if err != nil {
		return
	}
	s.log.Warn("调试会话被浏览器断开", "reason", reply.Reason)
	s.emit(Detached{Reason: reply.Reason})
}

func (s *devtoolsSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
