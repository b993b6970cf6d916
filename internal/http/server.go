// Package http provides the dispatchd HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// Engine is the decision engine surface the API exposes.
type Engine interface {
	RegisterAgent(ctx context.Context, capability orchestrator.AgentCapability) error
	ListAgents() []orchestrator.AgentCapability
	ListAgentsByCategory(category orchestrator.Category) []orchestrator.AgentCapability
	AgentMetrics(ctx context.Context, agentID string) (*orchestrator.AgentMetrics, error)
	MakeDecision(ctx context.Context, execCtx orchestrator.ExecutionContext) (*orchestrator.Decision, error)
	RecordOutcome(ctx context.Context, agentID string, success bool, quality float64) error
}

// Operations runs whole operations. *orchestrator.Executor implements it.
type Operations interface {
	Execute(ctx context.Context, execCtx orchestrator.ExecutionContext) (*orchestrator.OperationResult, error)
	History(limit int) []orchestrator.OperationResult
	Stats() orchestrator.OperationStats
}

// Server provides HTTP endpoints for dispatchd.
type Server struct {
	echo       *echo.Echo
	engine     Engine
	operations Operations
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server. operations may be nil, in which
// case the operation routes answer 503.
func NewServer(engine Engine, operations Operations, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9400,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(requestContext)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			fields := append(logging.ContextFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			logger.Info("http request", fields...)
			return nil
		}
	})

	s := &Server{
		echo:       e,
		engine:     engine,
		operations: operations,
		logger:     logger,
		config:     cfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestContext extracts W3C trace headers and tags the request context
// with the request id so downstream logs correlate.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidateID(id, "request_id") == nil {
			ctx = logging.WithRequestID(ctx, id)
		}
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/agents", s.handleListAgents)
	v1.POST("/agents", s.handleRegisterAgent)
	v1.GET("/agents/:id/metrics", s.handleAgentMetrics)
	v1.POST("/decisions", s.handleDecide)
	v1.POST("/outcomes", s.handleRecordOutcome)
	v1.POST("/operations", s.handleExecute)
	v1.GET("/operations", s.handleOperationHistory)
	v1.GET("/operations/stats", s.handleOperationStats)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidContext),
		errors.Is(err, orchestrator.ErrInvalidCapability),
		errors.Is(err, orchestrator.ErrInvalidQuality):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoSuitableAgent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrApprovalRequired):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as {"error": "..."}. Internal error
// text is not echoed to clients.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "internal error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprint(he.Message)
		} else if code = statusFor(err); code != http.StatusInternalServerError {
			message = err.Error()
		} else {
			logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Error: message})
		}
		if err != nil {
			logger.Warn("failed to write error response", zap.Error(err))
		}
	}
}
