// Package api serves opened IMC logs over HTTP.
//
// Logs are opened by path and addressed afterwards by a KSUID handle. Every
// route under /api/v1 answers with an APIResponse envelope; /metrics exposes
// the process collectors for scraping.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// writeTimeout bounds handlers that decode many messages.
const writeTimeout = 60 * time.Second

// NewRouter wires every route of s.
func NewRouter(s *Server) http.Handler {
	metrics := s.metrics

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.InstrumentAuthMiddleware(apiKeyMiddleware(s.config.APIKey)))

		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))

		r.Post("/logs", metrics.InstrumentHandler("POST", "/api/v1/logs", s.handleOpenLog))
		r.Get("/logs", metrics.InstrumentHandler("GET", "/api/v1/logs", s.handleListLogs))
		r.Route("/logs/{id}", func(r chi.Router) {
			r.Get("/", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}", s.handleGetLog))
			r.Delete("/", metrics.InstrumentHandler("DELETE", "/api/v1/logs/{id}", s.handleCloseLog))
			r.Get("/entries", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}/entries", s.handleEntries))
			r.Get("/messages/{n}", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}/messages/{n}", s.handleMessage))
			r.Get("/first", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}/first", s.handleFirst))
			r.Get("/last", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}/last", s.handleLast))
			r.Get("/advance", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}/advance", s.handleAdvance))
			r.Get("/at-or-after", metrics.InstrumentHandler("GET", "/api/v1/logs/{id}/at-or-after", s.handleAtOrAfter))
		})

		r.Get("/systems", metrics.InstrumentHandler("GET", "/api/v1/systems", s.handleSystems))
		r.Get("/systems/{id}", metrics.InstrumentHandler("GET", "/api/v1/systems/{id}", s.handleSystem))
		r.Get("/schema/{abbrev}", metrics.InstrumentHandler("GET", "/api/v1/schema/{abbrev}", s.handleSchema))
	})

	return r
}

// StartServer serves the API until ctx is cancelled, then shuts down
// gracefully and closes every open log.
func StartServer(ctx context.Context, logs *LogService, config ServerConfig) error {
	s := NewServer(logs, config, NewMetrics(prometheus.DefaultRegisterer))
	s.metrics.SetLogsOpen(logs.Len())

	srv := &http.Server{
		Addr:              net.JoinHostPort(config.Bind, strconv.Itoa(config.Port)),
		Handler:           NewRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logs.Shutdown()
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	s.logger.Info("API server stopped")
	return errors.Join(err, logs.Shutdown())
}
