package qapi

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quatton/qremote/pkg/qapi/routes"
	"github.com/quatton/qremote/pkg/qapi/services"
)

const (
	Title   = "qremote API"
	Version = "1.0.0"
)

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

// NewApi builds the router and huma API. Extra middlewares run after the
// request logger and recoverer; chi needs them before any route exists.
func NewApi(middlewares ...func(http.Handler) http.Handler) *Api {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middlewares...)

	config := huma.DefaultConfig(Title, Version)
	config.Info.Description = "Submit shell commands to a remote host, follow their output and cancel them."

	api := humachi.New(router, config)

	return &Api{Api: api, Router: router}
}

// NewServer builds the full HTTP surface: huma operations, the log
// websocket and /metrics.
func NewServer(svcs *services.Services, logger *slog.Logger) http.Handler {
	var mws []func(http.Handler) http.Handler
	if svcs.Metrics != nil {
		mws = append(mws, svcs.Metrics.Middleware)
	}

	a := NewApi(mws...)
	if svcs.Metrics != nil {
		a.Router.Method(http.MethodGet, "/metrics", svcs.Metrics.Handler())
	}

	routes.RegisterAPI(a.Api, svcs)
	if svcs.Jobs != nil && svcs.Bus != nil {
		routes.RegisterLogs(a.Router, routes.NewLogsHandler(svcs.Jobs, svcs.Bus, logger))
	}
	return a.Router
}
