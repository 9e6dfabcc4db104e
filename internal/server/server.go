package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/authorizer"
	"github.com/authz-engine/go-core/internal/config"
)

// Server is the HTTP listener in front of one Authorizer.
type Server struct {
	authorizer *authorizer.Authorizer
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	cfg        config.ServerConfig
	startTime  time.Time
	health     *HealthHandler
}

// New builds a Server wired to az and registers every route.
func New(cfg config.ServerConfig, az *authorizer.Authorizer, logger *zap.Logger) (*Server, error) {
	if az == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		authorizer: az,
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		startTime:  time.Now(),
		health:     NewHealthHandler(az, logger),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
		IdleTimeout:  cfg.IdleTimeoutDuration(),
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.HandleFunc("/health", s.health.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.Ready).Methods(http.MethodGet)
	s.router.HandleFunc("/health/live", s.health.Live).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.authorizer.MetricsHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/status", s.statusHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	authz := v1.PathPrefix("/authorization").Subrouter()
	authz.HandleFunc("/check", s.checkHandler).Methods(http.MethodPost)
	authz.HandleFunc("/allowed-actions", s.introspectHandler).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/reload", s.reloadHandler).Methods(http.MethodPost)
}

// Start blocks serving HTTP until the listener errors or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting authorization server", zap.Int("port", s.cfg.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down authorization server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	healthy, _ := s.authorizer.Health()
	writeJSON(w, http.StatusOK, StatusResponse{
		Version:        "1.0.0",
		Uptime:         time.Since(s.startTime).String(),
		Timestamp:      time.Now().UTC(),
		SnapshotHealth: healthy,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
