package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"commissiond/internal/fetcher"
	"commissiond/internal/service"
)

// Analytics is the query surface the API serves.
type Analytics interface {
	Attribution(ctx context.Context, prior, current fetcher.Period) (service.AttributionReport, error)
	Cohorts(ctx context.Context, window fetcher.CohortWindow) (service.CohortReport, error)
	VendorHeat(ctx context.Context, asOf time.Time) (service.HeatReport, error)
	PackHeat(ctx context.Context, asOf time.Time, byVendor bool) (service.HeatReport, error)
	Carriers(ctx context.Context, asOf time.Time) (service.CarrierReport, error)
	Overview(ctx context.Context, asOf time.Time) (service.Overview, error)
}

// Config configures the API server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxOffsetMonths and CohortLookback fill in omitted cohort query parameters.
	MaxOffsetMonths int
	CohortLookback  int
	// Health reports backing store availability; nil means always healthy.
	Health func(ctx context.Context) error
}

// WebAPI serves the analytics over HTTP.
type WebAPI struct {
	router *chi.Mux
	logger zerolog.Logger
	server *http.Server
	cfg    Config
}

// NewWebAPI builds the router and HTTP server.
func NewWebAPI(logger zerolog.Logger, cfg Config, analytics Analytics) *WebAPI {
	logger = logger.With().Str("component", "http").Logger()
	h := &handler{analytics: analytics, cfg: cfg, now: time.Now}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/attribution", h.attribution)
		r.Get("/cohorts", h.cohorts)
		r.Get("/heat/vendors", h.vendorHeat)
		r.Get("/heat/packs", h.packHeat)
		r.Get("/carriers", h.carriers)
		r.Get("/overview", h.overview)
	})

	return &WebAPI{
		router: router,
		logger: logger,
		cfg:    cfg,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (w *WebAPI) Handler() http.Handler {
	return w.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")

		timeout := w.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := w.server.Shutdown(shutdownCtx); err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			return w.server.Close()
		}
	}
	return nil
}
