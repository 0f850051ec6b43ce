package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"repplus/internal/fuzz"
	"repplus/pkg/api"
	"repplus/pkg/domain"
)

type attackInput struct {
	ID     string `path:"id"`
	Attack string `path:"attack"`
}

type progressOutput struct {
	Body fuzz.Progress
}

// grepRuleInput 分类规则，未给出 enabled 时视为启用
type grepRuleInput struct {
	Pattern string `json:"pattern" minLength:"1"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func grepRules(in []grepRuleInput) []fuzz.GrepRule {
	if len(in) == 0 {
		return nil
	}
	out := make([]fuzz.GrepRule, 0, len(in))
	for _, r := range in {
		out = append(out, fuzz.GrepRule{Pattern: r.Pattern, Enabled: r.Enabled == nil || *r.Enabled})
	}
	return out
}

func registerAttackHandlers(humaAPI huma.API, svc api.Service) {
	type startOutput struct {
		Body struct {
			ID string `json:"id"`
		}
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "start-attack", Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/attacks", Summary: "Start a fuzzing attack", Tags: []string{"Attacks"}, DefaultStatus: http.StatusCreated},
		func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body struct {
				Template    string          `json:"template" minLength:"1" doc:"带 § 标记的原始请求"`
				AutoMark    bool            `json:"autoMark,omitempty" doc:"模板无标记时自动标记参数值"`
				Mode        string          `json:"mode,omitempty" doc:"sniper / battering-ram / pitchfork / cluster-bomb"`
				PayloadSets [][]string      `json:"payloadSets"`
				Threads     int             `json:"threads,omitempty" minimum:"0"`
				DelayMS     int             `json:"delayMs,omitempty" minimum:"0"`
				GrepMatch   []grepRuleInput `json:"grepMatch,omitempty"`
				GrepExtract []grepRuleInput `json:"grepExtract,omitempty"`
			}
		}) (*startOutput, error) {
			mode, err := fuzz.ParseMode(input.Body.Mode)
			if err != nil {
				return nil, mapErr(err)
			}
			template := input.Body.Template
			if input.Body.AutoMark && len(fuzz.ParsePositions(template)) == 0 {
				template = fuzz.AutoMark(template)
			}
			sets := make([]fuzz.PayloadSet, 0, len(input.Body.PayloadSets))
			for _, s := range input.Body.PayloadSets {
				sets = append(sets, fuzz.PayloadSet(s))
			}
			id, err := svc.StartAttack(ctx, domain.SessionID(input.ID), fuzz.Config{
				Template:    template,
				Mode:        mode,
				PayloadSets: sets,
				Threads:     input.Body.Threads,
				Delay:       time.Duration(input.Body.DelayMS) * time.Millisecond,
				Grep:        fuzz.GrepRules{Match: grepRules(input.Body.GrepMatch), Extract: grepRules(input.Body.GrepExtract)},
			})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &startOutput{}
			out.Body.ID = string(id)
			return out, nil
		})

	control := func(opID, action, summary string, fn func(context.Context, domain.SessionID, domain.AttackID) error) {
		huma.Register(humaAPI, huma.Operation{OperationID: opID, Method: http.MethodPost, Path: apiPrefix + "/sessions/{id}/attacks/{attack}/" + action, Summary: summary, Tags: []string{"Attacks"}},
			func(ctx context.Context, input *attackInput) (*progressOutput, error) {
				sid, aid := domain.SessionID(input.ID), domain.AttackID(input.Attack)
				if err := fn(ctx, sid, aid); err != nil {
					return nil, mapErr(err)
				}
				p, err := svc.AttackProgress(ctx, sid, aid)
				if err != nil {
					return nil, mapErr(err)
				}
				return &progressOutput{Body: p}, nil
			})
	}
	control("pause-attack", "pause", "Pause before the next chunk", svc.PauseAttack)
	control("resume-attack", "resume", "Resume a paused attack", svc.ResumeAttack)
	control("stop-attack", "stop", "Stop after the current chunk", svc.StopAttack)

	huma.Register(humaAPI, huma.Operation{OperationID: "get-attack", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/attacks/{attack}", Summary: "Attack progress", Tags: []string{"Attacks"}},
		func(ctx context.Context, input *attackInput) (*progressOutput, error) {
			p, err := svc.AttackProgress(ctx, domain.SessionID(input.ID), domain.AttackID(input.Attack))
			if err != nil {
				return nil, mapErr(err)
			}
			return &progressOutput{Body: p}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "attack-results", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/attacks/{attack}/results", Summary: "Attack results in completion order", Tags: []string{"Attacks"}},
		func(ctx context.Context, input *attackInput) (*struct{ Body []fuzz.Result }, error) {
			results, err := svc.AttackResults(ctx, domain.SessionID(input.ID), domain.AttackID(input.Attack))
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body []fuzz.Result }{Body: results}, nil
		})

	huma.Register(humaAPI, huma.Operation{OperationID: "export-attack", Method: http.MethodGet, Path: apiPrefix + "/sessions/{id}/attacks/{attack}/export", Summary: "Export attack results", Tags: []string{"Attacks"}},
		func(ctx context.Context, input *struct {
			ID     string `path:"id"`
			Attack string `path:"attack"`
			Format string `query:"format" default:"csv" enum:"csv,json"`
		}) (*fileOutput, error) {
			data, ctype, err := svc.ExportAttack(ctx, domain.SessionID(input.ID), domain.AttackID(input.Attack), input.Format)
			if err != nil {
				return nil, mapErr(err)
			}
			return &fileOutput{ContentType: ctype, Body: data}, nil
		})
}
