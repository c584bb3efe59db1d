// Package api serves the execution inspection and control endpoints as
// JSON over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orangyan/JManus-sub000/ui/service"
)

// Config holds API router configuration.
type Config struct {
	// Logger for structured logging.
	Logger Logger
}

// Logger interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// router holds the API router state.
type router struct {
	svc    *service.Service
	config *Config
}

// NewRouter creates the executor API router. Mount it under /api.
func NewRouter(svc *service.Service, cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	rt := &router{svc: svc, config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(jsonContentType)

	r.Route("/executor", func(r chi.Router) {
		r.Get("/details/{planId}", rt.handlePlanDetails)
		r.Get("/tree/{planId}", rt.handlePlanTree)
		r.Get("/agent-execution/{stepId}", rt.handleAgentExecution)
		r.Post("/interrupt/{planId}", rt.handleInterrupt)
		r.Post("/form-input/{planId}", rt.handleFormInput)
		r.Get("/form-wait-state/{planId}", rt.handleFormWaitState)
		r.Delete("/plan/{planId}", rt.handleDeletePlan)
	})

	return r
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
