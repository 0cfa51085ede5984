package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/observability"
	"github.com/forgeline/forgeline/internal/orders"
	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/users"
	"github.com/forgeline/forgeline/jobs"
)

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	OrdersHandler  *orders.Handler
	CatalogHandler *catalog.Handler
	UsersHandler   *users.Handler
	JobHandler     *jobs.Handler
	Checks         map[string]Pinger
}

// NewRouter constructs the chi.Router with Forgeline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.Checks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(api chi.Router) {
		if params.OrdersHandler != nil {
			api.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			api.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			api.Route("/users", params.UsersHandler.MountRoutes)
		}
	})

	return r
}

func healthz(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := map[string]string{"status": "ok"}
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
