package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tabreuse/internal/cdpcontrol"
	"github.com/dgnsrekt/tabreuse/internal/config"
	"github.com/dgnsrekt/tabreuse/internal/controller"
	"github.com/dgnsrekt/tabreuse/internal/events"
	"github.com/dgnsrekt/tabreuse/internal/reuse"
	"github.com/dgnsrekt/tabreuse/internal/types"
)

type Service interface {
	ListTabs(ctx context.Context) ([]types.Tab, error)
	Open(ctx context.Context, url string) (controller.OpenResult, error)
	Resolve(ctx context.Context, url string) (reuse.Preview, error)
	Canonicalize(url string) (controller.CanonResult, error)
	Match(url string, patterns []string, ev config.KeyEvent) (controller.MatchResult, error)
	Options() *config.Options
	ReloadOptions() (*config.Options, error)
	History(date string, limit int) ([]reuse.Outcome, error)
	DeepHealth(ctx context.Context) (controller.DeepHealth, error)
}

var _ Service = (*controller.Service)(nil)

type urlInput struct {
	Body struct {
		URL string `json:"url" doc:"Absolute URL, optionally carrying __reuse_tab, __run_js or __close_tabs"`
	}
}

// NewServer builds the HTTP API. broker may be nil, in which case the event
// stream is not mounted.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tab Reuse API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", events.SSEHandler(broker))
	}

	registerHealthHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerURLHandlers(api, svc)
	registerOptionHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type deepHealthOutput struct {
		Body controller.DeepHealth
	}
	huma.Register(api, huma.Operation{OperationID: "deep-health", Method: http.MethodGet, Path: "/api/v1/health/deep", Summary: "Check the browser connection and run a chromedp probe", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*deepHealthOutput, error) {
			result, err := svc.DeepHealth(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &deepHealthOutput{Body: result}, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type tabsOutput struct {
		Body struct {
			Tabs []types.Tab `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = tabs
			if out.Body.Tabs == nil {
				out.Body.Tabs = []types.Tab{}
			}
			return out, nil
		})

	type openOutput struct {
		Body controller.OpenResult
	}
	huma.Register(api, huma.Operation{OperationID: "open-url", Method: http.MethodPost, Path: "/api/v1/open", Summary: "Open a URL in a new tab and apply tab reuse", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *urlInput) (*openOutput, error) {
			res, err := svc.Open(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &openOutput{Body: res}, nil
		})

	type resolveOutput struct {
		Body reuse.Preview
	}
	huma.Register(api, huma.Operation{OperationID: "resolve-url", Method: http.MethodPost, Path: "/api/v1/resolve", Summary: "Dry-run tab reuse against the open tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *urlInput) (*resolveOutput, error) {
			p, err := svc.Resolve(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &resolveOutput{Body: p}, nil
		})

	type historyOutput struct {
		Body struct {
			Date     string          `json:"date,omitempty"`
			Outcomes []reuse.Outcome `json:"outcomes"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-history", Method: http.MethodGet, Path: "/api/v1/history", Summary: "List recorded outcomes, newest first", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Date  string `query:"date" doc:"UTC day as YYYY-MM-DD. Defaults to today."`
			Limit int    `query:"limit" default:"100" minimum:"0" doc:"Maximum outcomes; 0 for all"`
		}) (*historyOutput, error) {
			outcomes, err := svc.History(input.Date, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &historyOutput{}
			out.Body.Date = input.Date
			out.Body.Outcomes = outcomes
			return out, nil
		})
}

func registerURLHandlers(api huma.API, svc Service) {
	type canonOutput struct {
		Body controller.CanonResult
	}
	huma.Register(api, huma.Operation{OperationID: "canonicalize-url", Method: http.MethodPost, Path: "/api/v1/canonicalize", Summary: "Show the comparison key and control flags of a URL", Tags: []string{"URLs"}},
		func(ctx context.Context, input *urlInput) (*canonOutput, error) {
			res, err := svc.Canonicalize(input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &canonOutput{Body: res}, nil
		})

	type matchInput struct {
		Body struct {
			URL      string   `json:"url"`
			Patterns []string `json:"patterns,omitempty" doc:"Wildcard patterns; the configured block patterns when omitted"`
			Meta     bool     `json:"meta,omitempty" doc:"Whether the meta key is held"`
			Editable bool     `json:"editable,omitempty" doc:"Whether focus is in an editable element"`
		}
	}
	type matchOutput struct {
		Body controller.MatchResult
	}
	huma.Register(api, huma.Operation{OperationID: "match-url", Method: http.MethodPost, Path: "/api/v1/match", Summary: "Match a URL against wildcard patterns", Tags: []string{"URLs"}},
		func(ctx context.Context, input *matchInput) (*matchOutput, error) {
			ev := config.KeyEvent{Meta: input.Body.Meta, Editable: input.Body.Editable}
			res, err := svc.Match(input.Body.URL, input.Body.Patterns, ev)
			if err != nil {
				return nil, mapErr(err)
			}
			return &matchOutput{Body: res}, nil
		})
}

func registerOptionHandlers(api huma.API, svc Service) {
	type optionsOutput struct {
		Body config.Options
	}
	huma.Register(api, huma.Operation{OperationID: "get-options", Method: http.MethodGet, Path: "/api/v1/options", Summary: "Show the key-blocking options", Tags: []string{"Options"}},
		func(ctx context.Context, input *struct{}) (*optionsOutput, error) {
			return &optionsOutput{Body: *svc.Options()}, nil
		})
	huma.Register(api, huma.Operation{OperationID: "reload-options", Method: http.MethodPost, Path: "/api/v1/options/reload", Summary: "Re-read the options file", Tags: []string{"Options"}},
		func(ctx context.Context, input *struct{}) (*optionsOutput, error) {
			opts, err := svc.ReloadOptions()
			if err != nil {
				return nil, mapErr(err)
			}
			return &optionsOutput{Body: *opts}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeNavigateFailed:
			return huma.Error502BadGateway(coded.Message)
		case cdpcontrol.CodeUnsupported:
			return huma.Error501NotImplemented(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
