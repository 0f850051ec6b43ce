package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"repplus/internal/replay"
	"repplus/pkg/api"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

type replayResponse struct {
	Status     int            `json:"status"`
	StatusText string         `json:"statusText"`
	Headers    traffic.Header `json:"headers"`
	Body       string         `json:"body"`
	Size       int            `json:"size"`
	ElapsedMS  int64          `json:"elapsedMs"`
	FinalURL   string         `json:"finalUrl"`
	Redirected bool           `json:"redirected"`
}

func toReplayResponse(r *replay.Response) replayResponse {
	return replayResponse{
		Status:     r.Status,
		StatusText: r.StatusText,
		Headers:    r.Headers,
		Body:       string(r.Body),
		Size:       r.Size,
		ElapsedMS:  r.ElapsedMS(),
		FinalURL:   r.FinalURL,
		Redirected: r.Redirected,
	}
}

func registerReplayHandlers(humaAPI huma.API, svc api.Service) {
	huma.Register(humaAPI, huma.Operation{OperationID: "replay", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/replay", Summary: "Send a request, raw or structured", Tags: []string{"Replay"}},
		func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body struct {
				Raw     string         `json:"raw,omitempty" doc:"原始请求文本，非空时忽略其余字段"`
				Method  string         `json:"method,omitempty"`
				URL     string         `json:"url,omitempty"`
				Headers traffic.Header `json:"headers,omitempty"`
				Body    string         `json:"body,omitempty"`
			}
		}) (*struct{ Body replayResponse }, error) {
			id := domain.SessionID(input.ID)
			var (
				resp *replay.Response
				err  error
			)
			if input.Body.Raw != "" {
				resp, err = svc.ReplayRaw(ctx, id, input.Body.Raw)
			} else {
				if input.Body.URL == "" {
					return nil, huma.Error400BadRequest("url or raw is required")
				}
				req := traffic.NewRequest()
				if input.Body.Method != "" {
					req.Method = input.Body.Method
				}
				req.URL = input.Body.URL
				req.Headers = input.Body.Headers
				req.Body = []byte(input.Body.Body)
				resp, err = svc.Replay(ctx, id, req)
			}
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body replayResponse }{Body: toReplayResponse(resp)}, nil
		})
}
