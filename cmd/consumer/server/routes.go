package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig controls ambient middleware wiring for NewRouter.
type RouterConfig struct {
	RateLimitRPS   int
	RateLimitBurst int
}

// NewRouter builds the Consumer's HTTP surface.
func NewRouter(deps Deps, cfg RouterConfig) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(cors)
	r.Use(requestLogger(deps.Log))

	r.With(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)).Post("/proof", s.handleProof)
	r.Get("/price/latest", s.handleLatest)
	r.Get("/price/history", s.handleHistory)
	r.Get("/adapters", s.handleAdapters)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
