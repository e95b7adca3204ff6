package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"foureyes/internal/reconcile"
	"foureyes/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 30 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware; live verification can take a
	// while against a slow GitHub API
	RequestTimeout = 120 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit = 60
	VerifyRateLimit = 10
)

// Server represents the HTTP server
type Server struct {
	Store    *store.Store
	Runner   *reconcile.Runner
	Hooks    *reconcile.StoreHooks
	Logger   *slog.Logger
	TestMode bool
	jobWg    sync.WaitGroup // Tracks in-flight async jobs
}

// NewServer creates a new server instance
func NewServer(st *store.Store, runner *reconcile.Runner, hooks *reconcile.StoreHooks, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Store:    st,
		Runner:   runner,
		Hooks:    hooks,
		Logger:   logger,
		TestMode: testMode,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	// Routes
	r.Get("/health", s.HandleHealth)
	r.Get("/deployments/{deploymentID}", s.HandleGetDeployment)
	r.Get("/deployments/{deploymentID}/history", s.HandleGetHistory)
	r.Get("/apps/{appName}/deployments", s.HandleListDeployments)
	r.Post("/apps/{appName}/deployments", s.HandleRecordDeployment)
	r.Post("/deployments/{deploymentID}/override", s.HandleOverride)
	r.Get("/jobs/{jobID}", s.HandleGetJob)
	r.Post("/jobs/{jobID}/cancel", s.HandleCancelJob)

	// Verification triggers with a stricter rate limit
	if !s.TestMode {
		strict := NewVerifyRateLimitMiddleware(VerifyRateLimit, s.Logger)
		r.With(strict).Post("/deployments/{deploymentID}/verify", s.HandleVerify)
		r.With(strict).Post("/apps/{appName}/reconcile", s.HandleReconcile)
		r.With(strict).Post("/apps/{appName}/fetch", s.HandleFetch)
	} else {
		r.Post("/deployments/{deploymentID}/verify", s.HandleVerify)
		r.Post("/apps/{appName}/reconcile", s.HandleReconcile)
		r.Post("/apps/{appName}/fetch", s.HandleFetch)
	}

	return r
}

// Start starts the HTTP server
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return server.ListenAndServe()
}

// asyncJobTimeout bounds background jobs started by handlers; they run
// detached from the request context
const asyncJobTimeout = 30 * time.Minute

func contextWithJobTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), asyncJobTimeout)
}

// WaitForJobs waits for all in-flight async jobs to complete.
// This is primarily useful for testing.
func (s *Server) WaitForJobs() {
	s.jobWg.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Wait for in-flight jobs
	s.jobWg.Wait()

	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
