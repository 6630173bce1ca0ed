// Package app assembles the HTTP router, readiness probes and background
// loops from configuration and the adapter constructors.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/talentsift/screener/internal/adapter/httpserver"
	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// admin may be nil when admin credentials are not configured.
func BuildRouter(cfg config.Config, srv *httpserver.Server, admin *httpserver.AdminServer) http.Handler {
	requestTimeout := cfg.HTTPWriteTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(requestTimeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rateLimit := cfg.RateLimitPerMin
	if rateLimit <= 0 {
		rateLimit = 30
	}

	// Mutating endpoints are IP rate limited; reads are not.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))
		wr.Post("/v1/jobs", srv.JobUploadHandler())
		wr.Post("/v1/resumes", srv.ResumesUploadHandler())
		wr.Post("/v1/analyses", srv.AnalyzeHandler())
		wr.Post("/v1/analyses/custom", srv.CustomAnalysisHandler())
		wr.Post("/v1/rankings/{id}/explanation", srv.ExplanationHandler())
		wr.Post("/v1/session/reset", srv.SessionResetHandler())
	})

	r.Get("/v1/jobs/current", srv.CurrentJobHandler())
	r.Get("/v1/jobs/current/summary", srv.JobSummaryHandler())
	r.Get("/v1/resumes", srv.ListResumesHandler())
	r.Get("/v1/analyses/{id}", srv.AnalysisStatusHandler())
	r.Get("/v1/rankings", srv.RankingsHandler())
	r.Get("/v1/reports/rankings", srv.ReportHandler())

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	if admin != nil {
		admin.MountRoutes(r)
	}

	return httpserver.SecurityHeaders(r)
}
