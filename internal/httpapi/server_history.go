package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"repplus/internal/storage"
	"repplus/pkg/api"
	"repplus/pkg/domain"
)

// fileOutput 非 JSON 的响应体
type fileOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func registerHistoryHandlers(humaAPI huma.API, svc api.Service) {
	huma.Register(humaAPI, huma.Operation{OperationID: "history", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/history", Summary: "Resolved transactions and replays", Tags: []string{"History"}},
		func(ctx context.Context, input *struct {
			ID     string `path:"id"`
			Limit  int    `query:"limit" minimum:"0" doc:"最多返回条数，0 表示不限"`
			Query  string `query:"q" doc:"在 URL、方法、请求头与请求体中搜索"`
			Regex  bool   `query:"regex" doc:"q 按正则表达式匹配"`
			Method string `query:"method" doc:"按请求方法过滤，all 表示不过滤"`
			Sort   string `query:"sort" enum:"time,status,size,url" default:"time"`
			Order  string `query:"order" enum:"asc,desc" default:"asc"`
		}) (*struct{ Body []storage.Exchange }, error) {
			h, err := svc.History(ctx, domain.SessionID(input.ID), storage.HistoryFilter{
				Query:  input.Query,
				Regex:  input.Regex,
				Method: input.Method,
				SortBy: input.Sort,
				Desc:   input.Order == "desc",
				Limit:  input.Limit,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			if h == nil {
				h = []storage.Exchange{}
			}
			return &struct{ Body []storage.Exchange }{Body: h}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "history-har", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/history.har", Summary: "Export history as HAR", Tags: []string{"History"}},
		func(ctx context.Context, input *sessionInput) (*fileOutput, error) {
			data, err := svc.HistoryHAR(ctx, domain.SessionID(input.ID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &fileOutput{ContentType: "application/json", Body: data}, nil
		})
}
