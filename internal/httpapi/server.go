// Package httpapi serves the engine over a JSON REST API.
//
// The process serving the API owns the staging buffer, so dequeue order
// is only meaningful against a single long-lived server.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/filter"
	"github.com/rbaliyan/mailroute/internal/metrics"
)

// Server exposes an Engine over HTTP.
type Server struct {
	engine   mailroute.Engine
	logger   *slog.Logger
	metrics  *metrics.Plugin
	version  string
	validate *validator.Validate
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics instruments routes and serves /metrics from p.
func WithMetrics(p *metrics.Plugin) Option {
	return func(s *Server) {
		s.metrics = p
	}
}

// WithVersion sets the version reported by the health check.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a server over a connected engine.
func New(eng mailroute.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   eng,
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	_ = s.validate.RegisterValidation("verdict", validVerdict)
	s.router = s.routes()
	return s
}

// validVerdict accepts verdicts that route a message somewhere.
func validVerdict(fl validator.FieldLevel) bool {
	v, err := filter.ParseVerdict(fl.Field().String())
	return err == nil && v != filter.None
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if s.metrics != nil {
		router.Use(s.metrics.Middleware())
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	router.GET("/health", s.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/login", s.Login)
		v1.POST("/recover", s.RecoverCredential)

		v1.POST("/users", s.CreateUser)
		v1.GET("/users", s.ListUsers)
		v1.GET("/users/:id", s.GetUser)
		v1.DELETE("/users/:id", s.DeleteUser)
		v1.GET("/users/:id/inbox", s.Inbox)
		v1.GET("/users/:id/staged", s.StagedFor)
		v1.GET("/users/:id/trash", s.TrashFor)
		v1.GET("/users/:id/stats", s.StatsFor)

		v1.POST("/messages", s.Submit)
		v1.GET("/messages/:id", s.GetMessage)
		v1.DELETE("/messages/:id", s.SoftDelete)
		v1.POST("/messages/:id/restore", s.Restore)
		v1.POST("/messages/:id/purge", s.PermanentDelete)
		v1.PUT("/messages/:id/priority", s.MarkPriority)
		v1.DELETE("/messages/:id/priority", s.UnmarkPriority)

		v1.GET("/staging", s.PeekStaged)
		v1.POST("/staging/next", s.DequeueNextStaged)
		v1.GET("/staged", s.StagedAll)
		v1.GET("/trash", s.TrashAll)
		v1.GET("/stats", s.StatsAll)

		v1.POST("/reclaim", s.Reclaim)
		v1.GET("/rules", s.ListRules)
		v1.POST("/rules", s.AddRule)
		v1.POST("/seed", s.Seed)
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Serve listens on addr until ctx ends, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// HealthCheck reports whether the engine is connected.
func (s *Server) HealthCheck(c *gin.Context) {
	if !s.engine.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected", "version": s.version})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// pathID parses the :id path parameter.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ApiErrorf(c, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// bind decodes the JSON body into dst and validates it.
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			ApiErrorf(c, http.StatusBadRequest, "%s", ValidatorErrorToUser(ve))
		} else {
			ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}
