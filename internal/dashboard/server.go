// Package dashboard serves stored backtest runs as a read-only JSON API.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_straddle/internal/metrics"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/storage"
)

const defaultRunLimit = 50

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    logrus.FieldLogger
	port      int
	authToken string
	version   string
}

type Config struct {
	Port      int
	AuthToken string
	Version   string
}

func NewServer(cfg Config, store storage.Interface, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		version:   cfg.Version,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/trades", s.handleGetTrades)
			r.Get("/daily", s.handleGetDaily)
			r.Get("/outcomes", s.handleGetOutcomes)
			r.Get("/intraday/{date}/{reentry}", s.handleGetIntraday)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).Round(time.Microsecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	}
	if _, err := s.storage.ListRuns(r.Context(), 1); err != nil {
		s.logger.WithError(err).Warn("Health check: journal unavailable")
		status["status"] = "degraded"
		s.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.storage.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, err, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.storage.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, "Failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.storage.GetTrades(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, "Failed to get trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetDaily(w http.ResponseWriter, r *http.Request) {
	trades, err := s.storage.GetTrades(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, "Failed to get trades")
		return
	}
	s.writeJSON(w, http.StatusOK, metrics.DailySummary(trades))
}

func (s *Server) handleGetOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.storage.GetOutcomes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, "Failed to get outcomes")
		return
	}
	if outcomes == nil {
		outcomes = []models.DayOutcome{}
	}
	s.writeJSON(w, http.StatusOK, outcomes)
}

func (s *Server) handleGetIntraday(w http.ResponseWriter, r *http.Request) {
	reentry, err := strconv.Atoi(chi.URLParam(r, "reentry"))
	if err != nil || reentry < 0 {
		http.Error(w, "reentry must be a non-negative integer", http.StatusBadRequest)
		return
	}
	key := models.MinuteKey{Date: chi.URLParam(r, "date"), Reentry: reentry}

	rows, err := s.storage.GetIntraday(r.Context(), chi.URLParam(r, "id"), key)
	if err != nil {
		s.fail(w, err, "Failed to get intraday series")
		return
	}
	if len(rows) == 0 {
		http.Error(w, fmt.Sprintf("no intraday series for %s", key), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	s.logger.WithError(err).Error(msg)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
