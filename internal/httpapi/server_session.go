package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"repplus/pkg/api"
	"repplus/pkg/domain"
)

type interceptOptionsBody struct {
	InterceptRequests  bool   `json:"interceptRequests"`
	InterceptResponses bool   `json:"interceptResponses"`
	ScopeFilter        string `json:"scopeFilter,omitempty" doc:"all / in-scope / out-scope"`
}

func (b interceptOptionsBody) options() domain.InterceptOptions {
	return domain.InterceptOptions{
		InterceptRequests:  b.InterceptRequests,
		InterceptResponses: b.InterceptResponses,
		ScopeFilter:        domain.ScopeFilter(b.ScopeFilter),
	}
}

func registerSessionHandlers(humaAPI huma.API, svc api.Service) {
	type createOutput struct {
		Body struct {
			ID string `json:"id"`
		}
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "create-session", Method: http.MethodPost, Path: apiPrefix + "/sessions", Summary: "Create a session", Tags: []string{"Sessions"}, DefaultStatus: http.StatusCreated},
		func(ctx context.Context, input *struct {
			Body struct {
				DevToolsURL      string `json:"devToolsURL,omitempty"`
				ProcessTimeoutMS int    `json:"processTimeoutMS,omitempty" minimum:"0"`
				EventBuffer      int    `json:"eventBuffer,omitempty" minimum:"0"`
			}
		}) (*createOutput, error) {
			id, err := svc.StartSession(ctx, domain.SessionConfig{
				DevToolsURL:      input.Body.DevToolsURL,
				ProcessTimeoutMS: input.Body.ProcessTimeoutMS,
				EventBuffer:      input.Body.EventBuffer,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &createOutput{}
			out.Body.ID = string(id)
			return out, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "delete-session", Method: http.MethodDelete, Path: apiPrefix + "/sessions/{id}", Summary: "Stop a session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionInput) (*statusOutput, error) {
			if err := svc.StopSession(ctx, domain.SessionID(input.ID)); err != nil {
				return nil, mapErr(err)
			}
			return newStatus("stopped"), nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "list-targets", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/targets", Summary: "List browser tabs", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionInput) (*struct{ Body []domain.TargetInfo }, error) {
			list, err := svc.ListTargets(ctx, domain.SessionID(input.ID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body []domain.TargetInfo }{Body: list}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "toggle-intercept", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/intercept", Summary: "Enable or disable interception on a tab", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body struct {
				Tab     string                `json:"tab" minLength:"1"`
				Enabled bool                  `json:"enabled"`
				Options *interceptOptionsBody `json:"options,omitempty"`
			}
		}) (*statusOutput, error) {
			opts := domain.DefaultInterceptOptions()
			if input.Body.Options != nil {
				opts = input.Body.Options.options()
			}
			err := svc.ToggleInterception(ctx, domain.SessionID(input.ID), domain.TargetID(input.Body.Tab), input.Body.Enabled, opts)
			if err != nil {
				return nil, mapErr(err)
			}
			if input.Body.Enabled {
				return newStatus("enabled"), nil
			}
			return newStatus("disabled"), nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "get-intercept-options", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/intercept/options", Summary: "Get interception options", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *sessionInput) (*struct{ Body domain.InterceptOptions }, error) {
			opts, err := svc.InterceptOptions(ctx, domain.SessionID(input.ID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body domain.InterceptOptions }{Body: opts}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "set-intercept-options", Method: http.MethodPut, Path: apiPrefix + "/sessions/{id}/intercept/options", Summary: "Update interception options", Tags: []string{"Intercept"}},
		func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body interceptOptionsBody
		}) (*struct{ Body domain.InterceptOptions }, error) {
			id := domain.SessionID(input.ID)
			if err := svc.SetInterceptOptions(ctx, id, input.Body.options()); err != nil {
				return nil, mapErr(err)
			}
			opts, err := svc.InterceptOptions(ctx, id)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body domain.InterceptOptions }{Body: opts}, nil
		})
}
