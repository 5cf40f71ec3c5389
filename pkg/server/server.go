package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/de-tools/aaflow/pkg/handlers/webhook"
	aaflowmiddleware "github.com/de-tools/aaflow/pkg/server/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type WebAPI struct {
	router *chi.Mux
	logger *zerolog.Logger
	server *http.Server
	config Config
}

type Dependencies struct {
	Consent    webhook.ConsentStage
	DataFlow   webhook.DataFlowStage
	Dispatcher webhook.Dispatcher
	Handler    *webhook.Handler
	// Gatherer backs GET /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	deps := config.Dependencies
	h := deps.Handler
	if h == nil {
		h = webhook.NewHandler(deps.Consent, deps.DataFlow, deps.Dispatcher, nil)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(aaflowmiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Get("/", h.Health)
	router.Post("/Consent/Notification", h.ConsentNotification)
	router.Post("/FI/Notification", h.FINotification)

	// Step endpoints for replaying one data-flow step by hand.
	router.Route("/-", func(r chi.Router) {
		r.Post("/2", h.SignedConsent)
		r.Post("/3", h.KeyMaterial)
		r.Post("/4", h.RequestData)
	})
	router.Post("/taskhandler", h.FallbackTask)

	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return &WebAPI{
		router: router,
		logger: &logger,
		config: config,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (w *WebAPI) Handler() http.Handler {
	return w.router
}

// Start serves until ctx is cancelled or the process gets SIGINT/SIGTERM,
// then shuts down gracefully.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

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
	case <-shutdown:
	case <-ctx.Done():
	}
	w.logger.Info().Msg("shutdown initiated")

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.config.ShutdownTimeout)
	defer cancel()

	err := w.server.Shutdown(shutdownCtx)
	if err != nil {
		w.logger.Error().Err(err).Msg("graceful shutdown failed")
		err = w.server.Close()
	}
	return err
}
