package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/lifecycle"
	"github.com/splax/kubehost/internal/manifest"
	"github.com/splax/kubehost/internal/service/deploy"
	"github.com/splax/kubehost/internal/ws"
)

// Deployer is the deploy service surface the API exposes.
type Deployer interface {
	Submit(ctx context.Context, req deploy.Request) (domain.AppDeployment, error)
	Get(ctx context.Context, app string) (domain.AppDeployment, error)
	List(ctx context.Context) ([]domain.AppDeployment, error)
	Delete(ctx context.Context, app string) error
	Status(ctx context.Context, app string) (lifecycle.Snapshot, error)
	Scale(ctx context.Context, app string, replicas int32) (lifecycle.ScaleResult, error)
	Preview(ctx context.Context, app, appType, imageTag string) (manifest.Set, error)
	ClusterApps(ctx context.Context) ([]lifecycle.Entry, error)
	Health(ctx context.Context) map[string]error
}

// Router exposes the kubehost API.
type Router struct {
	mux      chi.Router
	logger   *slog.Logger
	deploy   Deployer
	hub      *ws.Hub
	upgrader websocket.Upgrader
	metrics  *requestMetrics
}

const (
	healthCheckTimeout = 5 * time.Second
	maxRequestBodySize = 1 << 20
)

// New creates the router and registers handlers. hub may be nil, in which
// case the events endpoint answers 503.
func New(logger *slog.Logger, deploySvc Deployer, hub *ws.Hub) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    chi.NewRouter(),
		logger: logger,
		deploy: deploySvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics: newRequestMetrics(nil),
	}
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.Use(middleware.Recoverer)
	r.mux.Use(r.logRequests)
	r.mux.Use(r.metrics.observe)
	r.mux.Use(limitBody)

	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.Get("/healthz", r.handleHealth)

	r.mux.Route("/api/v1", func(api chi.Router) {
		api.Route("/apps", func(apps chi.Router) {
			apps.Post("/", r.handleDeploy)
			apps.Get("/", r.handleList)
			apps.Route("/{app}", func(app chi.Router) {
				app.Get("/", r.handleGet)
				app.Delete("/", r.handleDelete)
				app.Get("/status", r.handleStatus)
				app.Post("/scale", r.handleScale)
				app.Get("/manifests", r.handleManifests)
				app.Get("/events", r.handleEvents)
			})
		})
		api.Get("/cluster/apps", r.handleClusterApps)
	})
}

func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		r.logger.Debug("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", statusOf(ww),
			"duration", time.Since(start).String(),
		)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxRequestBodySize)
		next.ServeHTTP(w, req)
	})
}
