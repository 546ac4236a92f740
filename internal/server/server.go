// Package server exposes the spanz demo routes, trace viewer and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zoobzio/spanz"
	"github.com/zoobzio/spanz/internal/metrics"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Tracer  *spanz.Tracer
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// ErrorRate is the probability that GET /error fails.
	ErrorRate float64

	// Random returns a value in [0, 1). Defaults to math/rand/v2.
	Random func() float64

	// Development leaves gin in debug mode.
	Development bool
}

// Server wraps the gin router and its dependencies.
type Server struct {
	router    *gin.Engine
	tracer    *spanz.Tracer
	store     *spanz.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	errorRate float64
	random    func() float64
}

// New creates a server with every route registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	random := opts.Random
	if random == nil {
		random = rand.Float64
	}

	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
	}

	s := &Server{
		router:    router,
		tracer:    opts.Tracer,
		store:     opts.Tracer.Store(),
		metrics:   opts.Metrics,
		logger:    logger,
		errorRate: opts.ErrorRate,
		random:    random,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Demo routes
	s.router.GET("/bonjour-eql", s.bonjour)
	s.router.GET("/user/:id", s.getUser)
	s.router.POST("/data", s.postData)
	s.router.GET("/error", s.simulateError)

	// Trace viewer
	traces := s.router.Group("/traces")
	traces.GET("", s.viewTraces)
	traces.GET("/api", s.listTraces)
	traces.GET("/api/:traceID", s.getTrace)
	traces.GET("/stats", s.stats)
	traces.GET("/clear", s.clearTraces)

	// Metrics
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		s.router.POST("/metrics/custom", s.recordCustomMetric)
	}
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
