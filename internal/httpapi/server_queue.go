package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"repplus/internal/rawhttp"
	"repplus/pkg/api"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

type queueItem struct {
	domain.Transaction
	// Raw 原始文本形式，便于操作端直接编辑
	Raw string `json:"raw"`
}

func toQueueItem(tx domain.Transaction) queueItem {
	item := queueItem{Transaction: tx}
	if tx.Kind == domain.KindResponse {
		item.Raw = rawhttp.EncodeResponse(tx.StatusCode, tx.StatusText, tx.Headers, tx.Body)
	} else if raw, err := rawhttp.Encode(tx.Method, tx.URL, tx.Headers, tx.Body); err == nil {
		item.Raw = raw
	}
	return item
}

type forwardBody struct {
	Raw        string         `json:"raw,omitempty" doc:"编辑后的原始文本，非空时优先使用"`
	Method     string         `json:"method,omitempty"`
	URL        string         `json:"url,omitempty"`
	Headers    traffic.Header `json:"headers,omitempty"`
	Body       string         `json:"body,omitempty"`
	StatusCode int            `json:"statusCode,omitempty"`
	StatusText string         `json:"statusText,omitempty"`
	Modified   bool           `json:"modified,omitempty"`
}

type tabInput struct {
	ID  string `path:"id"`
	Tab string `query:"tab" doc:"仅处理该标签页，为空表示全部"`
}

type countOutput struct {
	Body struct {
		Count int `json:"count"`
	}
}

func registerQueueHandlers(humaAPI huma.API, svc api.Service) {
	huma.Register(humaAPI, huma.Operation{OperationID: "list-queue", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/queue", Summary: "List paused transactions", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *sessionInput) (*struct{ Body []queueItem }, error) {
			q, err := svc.Queue(ctx, domain.SessionID(input.ID))
			if err != nil {
				return nil, mapErr(err)
			}
			items := make([]queueItem, 0, len(q))
			for _, tx := range q {
				items = append(items, toQueueItem(tx))
			}
			return &struct{ Body []queueItem }{Body: items}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "forward-transaction", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/queue/{tx}/forward", Summary: "Forward a paused transaction, optionally edited", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *struct {
			ID   string       `path:"id"`
			Tx   string       `path:"tx"`
			Body *forwardBody `required:"false"`
		}) (*statusOutput, error) {
			id := domain.SessionID(input.ID)
			b := input.Body
			var err error
			switch {
			case b != nil && b.Raw != "":
				err = svc.ForwardRaw(ctx, id, input.Tx, b.Raw)
			case b != nil && b.Modified:
				err = svc.Forward(ctx, id, domain.Transaction{
					ID:         input.Tx,
					Method:     b.Method,
					URL:        b.URL,
					Headers:    b.Headers,
					Body:       []byte(b.Body),
					StatusCode: b.StatusCode,
					StatusText: b.StatusText,
					Modified:   true,
				})
			default:
				err = svc.Forward(ctx, id, domain.Transaction{ID: input.Tx})
			}
			if err != nil {
				return nil, mapErr(err)
			}
			return newStatus("forwarded"), nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "drop-transaction", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/queue/{tx}/drop", Summary: "Drop a paused transaction", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *struct {
			ID string `path:"id"`
			Tx string `path:"tx"`
		}) (*statusOutput, error) {
			if err := svc.Drop(ctx, domain.SessionID(input.ID), input.Tx); err != nil {
				return nil, mapErr(err)
			}
			return newStatus("dropped"), nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "forward-all", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/queue/forward-all", Summary: "Forward every paused transaction unchanged", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *tabInput) (*countOutput, error) {
			n, err := svc.ForwardAll(ctx, domain.SessionID(input.ID), domain.TargetID(input.Tab))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &countOutput{}
			out.Body.Count = n
			return out, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "drop-all", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/queue/drop-all", Summary: "Drop every paused transaction", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *tabInput) (*countOutput, error) {
			n, err := svc.DropAll(ctx, domain.SessionID(input.ID), domain.TargetID(input.Tab))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &countOutput{}
			out.Body.Count = n
			return out, nil
		})
}
