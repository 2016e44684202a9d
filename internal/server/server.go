// Package server hosts the HTTP surface: health probes, version and
// metrics endpoints, and the read-only /api/v1 status API over the
// archive store.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/gnssops/rinextank/internal/errors"
	"github.com/gnssops/rinextank/internal/metrics"
	"github.com/gnssops/rinextank/internal/observability"
	"github.com/gnssops/rinextank/internal/server/handlers"
	"github.com/gnssops/rinextank/internal/server/middleware"
	"github.com/gnssops/rinextank/pkg/archivestore"
)

// adminTokenEnv gates the admin signal endpoint. When unset the route
// is not registered at all.
const adminTokenEnv = "RINEXTANK_ADMIN_TOKEN"

// Server wraps the HTTP listener and router.
type Server struct {
	host            string
	port            int
	router          chi.Router
	httpServer      *http.Server
	store           *archivestore.Store
	metricsEnabled  bool
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownSignals chan string
}

// Option configures the server at construction time.
type Option func(*Server)

// WithStore attaches the archive store serving /api/v1. Without it the
// API endpoints report SERVICE_UNAVAILABLE.
func WithStore(store *archivestore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics toggles the /metrics endpoint.
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metricsEnabled = enabled }
}

// WithTimeouts sets the HTTP server timeouts.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// New builds a server bound to host:port. Port 0 asks the OS for a
// free port; Start resolves the real one.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:           host,
		port:           port,
		metricsEnabled: true,
		readTimeout:    30 * time.Second,
		writeTimeout:   30 * time.Second,
		idleTimeout:    120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.metricsEnabled {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	api := handlers.NewStatusAPI(s.store)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", api.Status)
		r.Get("/runs", api.Runs)
		r.Get("/stats", api.Stats)
	})

	s.registerAdminEndpoint(r)
	return r
}

// registerAdminEndpoint mounts POST /admin/signal when an admin token
// is configured. The endpoint accepts drain/reload signals from
// operators and requires the token as a bearer credential.
func (s *Server) registerAdminEndpoint(r chi.Router) {
	token := os.Getenv(adminTokenEnv)
	if token == "" {
		return
	}

	s.shutdownSignals = make(chan string, 1)
	r.Post("/admin/signal", func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		presented := strings.TrimPrefix(auth, "Bearer ")
		if presented == auth || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			respondUnauthorized(w, req)
			return
		}

		signal := req.URL.Query().Get("name")
		if signal == "" {
			signal = "drain"
		}
		observability.Logger().Info("admin signal received",
			zap.String("signal", signal),
			zap.String("remote", req.RemoteAddr))

		select {
		case s.shutdownSignals <- signal:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"accepted":true,"signal":%q}`+"\n", signal)
	})
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	apperrors.RespondWithError(w, r, &apperrors.AppError{
		Code:    "UNAUTHORIZED",
		Message: "invalid or missing admin token",
		Status:  http.StatusUnauthorized,
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port. After Start with port 0 it holds
// the port the OS assigned.
func (s *Server) Port() int {
	return s.port
}

// AdminSignals returns the channel carrying admin signal names, or nil
// when the admin endpoint is disabled.
func (s *Server) AdminSignals() <-chan string {
	return s.shutdownSignals
}

// Start binds the listener and serves until the context is cancelled
// or the listener fails. On cancellation it shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	observability.Logger().Info("http server started",
		zap.String("host", s.host), zap.Int("port", s.port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
