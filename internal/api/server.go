package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/engine"
	"github.com/opensource-finance/fraudguard/internal/explain"
	"github.com/opensource-finance/fraudguard/internal/scheduler"
)

// Deps are the collaborators of the HTTP API. Engine is required. Repo,
// Cache, Bus, Explainer and Trainer may be nil; the endpoints that need them
// then answer 503.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *engine.Service
	Explainer *explain.Engine
	Trainer   *scheduler.Trainer
	Version   string
}

// Server is the FraudGuard HTTP API.
type Server struct {
	cfg     domain.ServerConfig
	router  *chi.Mux
	handler *Handler
	httpSrv *http.Server
}

// NewServer builds the router around deps.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		handler: NewHandler(deps),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	h := s.handler
	r := s.router

	r.Use(CORSMiddleware(s.cfg.AllowedOrigins))
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/stats", h.Stats)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/predict", h.Predict)
		r.Post("/predict/batch", h.PredictBatch)
		r.Post("/explain", h.Explain)
		r.Post("/simulate", h.Simulate)
		r.Post("/transactions", h.IngestTransaction)

		r.Get("/predictions/{id}", h.GetPrediction)
		r.Get("/transactions/{id}", h.GetTransaction)

		r.Route("/model", func(r chi.Router) {
			r.Get("/", h.ModelInfo)
			r.Post("/train", h.TrainModel)
			r.Post("/reload", h.ReloadModel)
			r.Get("/runs", h.ListTrainingRuns)
		})

		r.Route("/factors", func(r chi.Router) {
			r.Get("/", h.ListFactors)
			r.Post("/", h.CreateFactor)
			r.Post("/reload", h.ReloadFactors)
		})
	})
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to shutdownTimeout. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the handler for tests.
func (s *Server) Handler() *Handler {
	return s.handler
}
