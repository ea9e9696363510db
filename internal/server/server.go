// Package server exposes the task coordinator over HTTP. It serves the
// status endpoints a dashboard polls, accepts new task submissions, and
// publishes Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	promclient "github.com/prometheus/client_golang/prometheus/promhttp"

	"aide/internal/agent/ports"
	"aide/internal/logging"
)

// Coordinator is the subset of the task coordinator the server needs.
type Coordinator interface {
	// SubmitAsync registers a task and starts it in the background,
	// returning the pending task record immediately.
	SubmitAsync(ctx context.Context, goal string, opts ports.SubmitOptions) (*ports.Task, error)
	Tasks() []*ports.Task
	Task(id string) (*ports.Task, bool)
}

// InterruptionStore reads interruption records for interrupted tasks.
type InterruptionStore interface {
	Interruption(ctx context.Context, taskID string) (*ports.Interruption, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings suitable for a local deployment.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Server is the HTTP front for the coordinator.
type Server struct {
	config        Config
	coordinator   Coordinator
	interruptions InterruptionStore
	stream        http.Handler
	logger        logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if !logging.IsNil(logger) {
			s.logger = logger
		}
	}
}

// WithEventStream mounts handler at GET /api/stream. Used to expose the
// notification websocket channel alongside the REST endpoints.
func WithEventStream(handler http.Handler) Option {
	return func(s *Server) {
		s.stream = handler
	}
}

// New builds the server and registers all routes.
func New(config Config, coordinator Coordinator, interruptions InterruptionStore, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 15 * time.Second
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if config.Debug {
		engine.Use(gin.Logger())
	}
	if config.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		config:        config,
		coordinator:   coordinator,
		interruptions: interruptions,
		logger:        logging.NewComponentLogger("Server"),
		engine:        engine,
		startTime:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promclient.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.GET("/tasks/:id", s.handleGetTask)
		api.GET("/tasks/:id/interruption", s.handleGetInterruption)
		if s.stream != nil {
			api.GET("/stream", gin.WrapH(s.stream))
		}
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("Listening on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
