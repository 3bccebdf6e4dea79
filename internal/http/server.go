package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/ignatij/seqflow/internal/metrics"
	"github.com/ignatij/seqflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps are the services the API is built on. Pool and Metrics are optional:
// without a pool the enqueue endpoint answers 503, without metrics /metrics
// is not served.
type Deps struct {
	Sequences *service.SequenceService
	Runner    *service.Runner
	Pool      *service.WorkerPool
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *logrus.Logger
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router *mux.Router
	deps   Deps
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	s := &Server{router: mux.NewRouter(), deps: deps}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sequences", s.createSequence).Methods(http.MethodPost)
	api.HandleFunc("/sequences", s.listSequences).Methods(http.MethodGet)
	api.HandleFunc("/sequences/{id}", s.getSequence).Methods(http.MethodGet)
	api.HandleFunc("/sequences/{id}", s.updateSequence).Methods(http.MethodPut)
	api.HandleFunc("/sequences/{id}/active", s.setActive).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}/run", s.runSequence).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}/enqueue", s.enqueueSequence).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}/executions", s.listExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.getExecution).Methods(http.MethodGet)

	// mux skips Use middleware for unmatched requests
	s.router.NotFoundHandler = s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	}))
	s.router.MethodNotAllowedHandler = s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}))

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

func (s *Server) withMiddleware(h http.Handler) http.Handler {
	return s.requestIDMiddleware(s.loggingMiddleware(s.recoveryMiddleware(h)))
}

// StartServer serves handler on port until ctx is cancelled, then shuts
// down gracefully within grace.
func StartServer(ctx context.Context, port int, handler http.Handler, grace time.Duration, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting seqflow server on :%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	logger.Infof("Shutting down seqflow server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
