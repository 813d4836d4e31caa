package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// StatusSource provides the read-only views served over HTTP. Both return
// values must be JSON-encodable copies.
type StatusSource interface {
	StatusView() any
	SkipsView(limit int) any
}

// PerformanceSource provides the trade performance summary.
type PerformanceSource interface {
	PerformanceView() any
}

// DefaultSkipLimit is used when /skips has no limit parameter.
const DefaultSkipLimit = 50

// Server serves /metrics, /healthz, /status, /skips and /performance.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	recorder   *Recorder
	health     *HealthMonitor
	status     StatusSource
	perf       PerformanceSource
}

// NewServer builds the router. Any dependency may be nil; its routes then
// answer 503.
func NewServer(addr string, recorder *Recorder, health *HealthMonitor, status StatusSource) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		recorder: recorder,
		health:   health,
		status:   status,
	}
	s.setupRoutes()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	if s.recorder != nil {
		s.router.Handle("/metrics", s.recorder.Handler()).Methods(http.MethodGet)
	} else {
		s.router.HandleFunc("/metrics", unavailable).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/skips", s.handleSkips).Methods(http.MethodGet)
	s.router.HandleFunc("/performance", s.handlePerformance).Methods(http.MethodGet)
}

// SetPerformance attaches the /performance source. Call before Start.
func (s *Server) SetPerformance(p PerformanceSource) { s.perf = p }

// Handler returns the router without CORS, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		unavailable(w, r)
		return
	}
	h := s.health.Check(r.Context())
	code := http.StatusOK
	if h.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, h)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		unavailable(w, r)
		return
	}
	respondJSON(w, http.StatusOK, s.status.StatusView())
}

func (s *Server) handleSkips(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		unavailable(w, r)
		return
	}
	limit := DefaultSkipLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, s.status.SkipsView(limit))
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if s.perf == nil {
		unavailable(w, r)
		return
	}
	respondJSON(w, http.StatusOK, s.perf.PerformanceView())
}

func unavailable(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "not configured"})
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("status server: encode response")
	}
}
