// Package api exposes project intake, pipeline control, supplier matching
// and bid ingestion over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/intake"
	"github.com/sells-group/procure-cli/internal/matching"
	"github.com/sells-group/procure-cli/internal/monitoring"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/resilience"
	"github.com/sells-group/procure-cli/internal/scheduler"
	"github.com/sells-group/procure-cli/internal/store"
)

// Dependencies are the services behind the routes.
type Dependencies struct {
	Orchestrator *pipeline.Orchestrator
	Intake       *intake.Service
	Timeline     *scheduler.Timeline
	Matcher      *matching.Engine
	Projects     store.ProjectStore
	RFQs         store.RFQStore
	Breakers     *resilience.ServiceBreakers
	Collector    *monitoring.Collector // optional; enables GET /v1/metrics
	CORSOrigins  []string
	Now          func() time.Time
}

type server struct {
	deps Dependencies
}

// NewRouter mounts every route on a chi router.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/projects", s.handleCreateProject)
		r.Put("/projects/{id}/construction-start", s.handleConstructionStart)

		r.Post("/pipelines", s.handleCreatePipeline)
		r.Get("/pipelines/{id}", s.handleGetPipeline)
		r.Post("/pipelines/{id}/start", s.handleStartPipeline)
		r.Post("/pipelines/{id}/resume", s.handleResumePipeline)
		r.Post("/pipelines/{id}/cancel", s.handleCancelPipeline)

		r.Get("/stages/{id}/suppliers", s.handleStageSuppliers)
		r.Post("/rfqs/{id}/bids", s.handleCreateBid)

		if deps.Collector != nil {
			r.Get("/metrics", s.handleMetrics)
		}
	})

	return r
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().With(zap.String("component", "api")).Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
