package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediaplan/backend/internal/config"
	"mediaplan/backend/internal/controller"
	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/threads"
)

type RouterDeps struct {
	Config     config.Config
	Controller *controller.Controller
	Threads    threads.Store
	Files      ObjectStore
	Logger     *logger.LogMiddleware
	// Gatherer backs /metrics; the route is skipped when nil.
	Gatherer prometheus.Gatherer
	Clock    func() time.Time
}

func NewRouter(deps RouterDeps) http.Handler {
	h := NewHandler(HandlerDeps{
		Config:        deps.Config,
		Conversations: deps.Controller,
		Threads:       deps.Threads,
		Files:         deps.Files,
		Logger:        deps.Logger,
		Clock:         deps.Clock,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.log.RequestLogger())
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/recommendations", h.Recommend)

		v1.Route("/threads", func(t chi.Router) {
			t.Post("/", h.CreateThread)
			t.Get("/", h.ListThreads)
			t.Route("/{id}", func(one chi.Router) {
				one.Get("/", h.GetThread)
				one.Delete("/", h.DeleteThread)
				one.Post("/turns", h.PostTurn)
				one.Post("/brief", h.UploadBrief)
				one.Get("/plan", h.GetPlan)
				one.Post("/plan/export", h.ExportPlan)
			})
		})
	})

	return otelhttp.NewHandler(r, "mediaplan-api")
}
