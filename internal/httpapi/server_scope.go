package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"repplus/internal/scope"
	"repplus/pkg/api"
	"repplus/pkg/domain"
)

type scopeRuleBody struct {
	Pattern     string `json:"pattern" minLength:"1"`
	Type        string `json:"type,omitempty" doc:"wildcard / url / domain / pattern / regex / prefix / exact，为空时自动推断"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

func registerScopeHandlers(humaAPI huma.API, svc api.Service) {
	huma.Register(humaAPI, huma.Operation{OperationID: "get-scope", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/scope", Summary: "Get scope policy", Tags: []string{"Scope"}},
		func(ctx context.Context, input *sessionInput) (*struct{ Body scope.Policy }, error) {
			p, err := svc.Scope(ctx, domain.SessionID(input.ID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body scope.Policy }{Body: p}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "set-scope", Method: http.MethodPut, Path: apiPrefix + "/sessions/{id}/scope", Summary: "Replace scope policy", Tags: []string{"Scope"}},
		func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body struct {
				Mode  string          `json:"scopeMode,omitempty" doc:"include / exclude"`
				Rules []scopeRuleBody `json:"scopeRules"`
			}
		}) (*struct{ Body scope.Policy }, error) {
			p := scope.Policy{Mode: scope.Mode(input.Body.Mode)}
			for _, r := range input.Body.Rules {
				p.Rules = append(p.Rules, scope.Rule{
					Pattern:     r.Pattern,
					Type:        scope.RuleType(r.Type),
					Enabled:     r.Enabled,
					Description: r.Description,
				})
			}
			id := domain.SessionID(input.ID)
			if err := svc.SetScope(ctx, id, p); err != nil {
				return nil, mapErr(err)
			}
			cur, err := svc.Scope(ctx, id)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body scope.Policy }{Body: cur}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "add-scope-domain", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/scope/domain", Summary: "Add the host of a URL to scope", Tags: []string{"Scope"}},
		func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body struct {
				URL string `json:"url" minLength:"1"`
			}
		}) (*struct{ Body scope.Rule }, error) {
			rule, err := svc.AddScopeDomain(ctx, domain.SessionID(input.ID), input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body scope.Rule }{Body: rule}, nil
		})
}
