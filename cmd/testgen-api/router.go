// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/prd-testgen/cmd/testgen-api/handlers"
	"github.com/spherical/prd-testgen/cmd/testgen-api/middleware"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// Deps are the services the routes delegate to.
type Deps struct {
	Runner  handlers.Runner
	Remote  func(locator string) domain.DocumentSource
	Files   handlers.UploadParser
	Results domain.ResultStore
}

// RouterConfig holds HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration // non-streaming routes only
	MaxResultBytes int64
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, deps Deps, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", handlers.Health)

	casesHandler := handlers.NewCasesHandler(logger, deps.Runner, deps.Remote, deps.Files)
	resultsHandler := handlers.NewResultsHandler(logger, deps.Results, cfg.MaxResultBytes)

	r.Route("/api/v1", func(r chi.Router) {
		// streaming responses are bounded by the client, not a server deadline
		r.Route("/cases", func(r chi.Router) {
			r.Post("/feishu", casesHandler.Feishu)
			r.Post("/file", casesHandler.File)
			r.Post("/text", casesHandler.Text)
		})

		r.Route("/results", func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
			}
			r.Post("/", resultsHandler.Save)
			r.Get("/{key}", resultsHandler.Get)
		})
	})

	return r
}
