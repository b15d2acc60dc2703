// SPDX-License-Identifier: MIT

// Package api exposes the acquisition controller over HTTP.
package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	applog "scope/internal/log"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Version       string
	WebSocket     http.Handler // Mounted at WebSocketPath when non-nil
	WebSocketPath string
	// AllowedOrigins enables CORS for the listed origins when non-empty.
	AllowedOrigins []string
}

// NewRouter builds the chi router with the control API registered on it.
func NewRouter(ctrl Controller, opts RouterOptions, logger zerolog.Logger) (*chi.Mux, huma.API) {
	logger = applog.Component(logger, "api")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(zerologLogger(logger))
	router.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	if opts.WebSocket != nil {
		path := opts.WebSocketPath
		if path == "" {
			path = "/ws"
		}
		router.Handle(path, opts.WebSocket)
	}

	version := opts.Version
	if version == "" {
		version = "unknown"
	}
	cfg := huma.DefaultConfig("Scope API", version)
	cfg.DocsPath = "/api/docs"
	cfg.OpenAPIPath = "/api/openapi"
	api := humachi.New(router, cfg)

	RegisterRoutes(api, NewHandler(ctrl, version, logger))
	return router, api
}

// RegisterRoutes sets up all API routes
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service",
	}, h.Health)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Get acquisition status",
		Description: "Returns the state, settings and counters of the controller",
		Tags:        []string{"Stream"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "startStream",
		Method:      http.MethodPost,
		Path:        "/api/stream/start",
		Summary:     "Start streaming",
		Description: "Opens the input device and starts the acquisition cycle",
		Tags:        []string{"Stream"},
		Errors:      []int{http.StatusConflict, http.StatusServiceUnavailable},
	}, h.StartStream)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      http.MethodPost,
		Path:        "/api/stream/stop",
		Summary:     "Stop streaming",
		Description: "Stops the acquisition cycle and closes the input device",
		Tags:        []string{"Stream"},
	}, h.StopStream)

	huma.Register(api, huma.Operation{
		OperationID: "setVoltsPerDivision",
		Method:      http.MethodPut,
		Path:        "/api/settings/volts-per-division",
		Summary:     "Set volts per division",
		Tags:        []string{"Settings"},
		Errors:      []int{http.StatusUnprocessableEntity},
	}, h.SetVoltsPerDivision)

	huma.Register(api, huma.Operation{
		OperationID: "setTimePerDivision",
		Method:      http.MethodPut,
		Path:        "/api/settings/time-per-division",
		Summary:     "Set time per division",
		Tags:        []string{"Settings"},
		Errors:      []int{http.StatusUnprocessableEntity},
	}, h.SetTimePerDivision)
}
