// Package httpapi 以 HTTP 暴露操作接口：会话、拦截队列、重放、攻击、历史与事件流。
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repplus/internal/cdp"
	"repplus/internal/fuzz"
	"repplus/internal/logger"
	"repplus/internal/rawhttp"
	"repplus/internal/replay"
	"repplus/internal/service"
	"repplus/internal/session"
	"repplus/pkg/api"
)

const apiPrefix = "/api/v1"

// NewServer 创建 HTTP 处理器
func NewServer(svc api.Service, l logger.Logger, version string) http.Handler {
	if l == nil {
		l = logger.NewNop()
	}
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(traceID)
	router.Use(requestLogger(l))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("repplus API", version)
	humaAPI := humachi.New(router, cfg)

	registerSessionHandlers(humaAPI, svc)
	registerQueueHandlers(humaAPI, svc)
	registerScopeHandlers(humaAPI, svc)
	registerReplayHandlers(humaAPI, svc)
	registerAttackHandlers(humaAPI, svc)
	registerHistoryHandlers(humaAPI, svc)

	router.Get(apiPrefix+"/sessions/{id}/events", sseHandler(svc, l))
	router.Get(apiPrefix+"/sessions/{id}/events/ws", wsHandler(svc, l))

	return router
}

type sessionInput struct {
	ID string `path:"id" doc:"会话标识"`
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func newStatus(s string) *statusOutput {
	out := &statusOutput{}
	out.Body.Status = s
	return out
}

// mapErr 将领域错误映射为 HTTP 状态码
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var (
		parseErr  *rawhttp.ParseError
		configErr *fuzz.ConfigError
	)
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrAttackNotFound),
		errors.Is(err, cdp.ErrNotQueued),
		errors.Is(err, cdp.ErrTargetNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &parseErr),
		errors.As(err, &configErr),
		errors.Is(err, service.ErrInvalidArgument):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, cdp.ErrAlreadyAttached),
		errors.Is(err, service.ErrAttackState),
		errors.Is(err, session.ErrClosed):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, cdp.ErrSessionLost):
		return huma.Error410Gone(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	case errors.Is(err, cdp.ErrAttachDenied),
		errors.Is(err, cdp.ErrCommandFailed),
		errors.Is(err, replay.ErrNetwork):
		return huma.Error502BadGateway(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
