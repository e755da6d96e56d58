package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/query"
)

const (
	// DefaultRateLimit is the number of ask requests a client may make per window.
	DefaultRateLimit = 5

	// DefaultRateWindow is the fixed rate-limit window.
	DefaultRateWindow = time.Minute

	// DefaultBodyLimit bounds request bodies in bytes.
	DefaultBodyLimit = 64 << 10

	serviceName = "BoardMax Chat API"
	systemName  = "BoardMax Intelligence Ready"
)

// Asker answers query requests. *query.Service implements it.
type Asker interface {
	Ask(ctx context.Context, in *query.Input) (*core.Answer, error)
	Subjects() []string
}

var _ Asker = (*query.Service)(nil)

// Server is the HTTP front of the query service.
type Server struct {
	app            *fiber.App
	asker          Asker
	rateLimit      int
	rateWindow     time.Duration
	allowedOrigins string
	bodyLimit      int
	readTimeout    time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithRateLimit allows max ask requests per client IP in each fixed window.
func WithRateLimit(max int, window time.Duration) Option {
	return func(s *Server) error {
		if max < 1 || window <= 0 {
			return fmt.Errorf("invalid rate limit %d per %s", max, window)
		}
		s.rateLimit = max
		s.rateWindow = window
		return nil
	}
}

// WithAllowedOrigins sets the comma-separated CORS origins. Default is "*".
func WithAllowedOrigins(origins string) Option {
	return func(s *Server) error {
		if origins != "" {
			s.allowedOrigins = origins
		}
		return nil
	}
}

// WithTimeouts sets the server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = read
		s.writeTimeout = write
		return nil
	}
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(asker Asker, opts ...Option) (*Server, error) {
	if asker == nil {
		return nil, fmt.Errorf("asker required")
	}

	s := &Server{
		asker:          asker,
		rateLimit:      DefaultRateLimit,
		rateWindow:     DefaultRateWindow,
		allowedOrigins: "*",
		bodyLimit:      DefaultBodyLimit,
		readTimeout:    30 * time.Second,
		writeTimeout:   90 * time.Second,
		logger:         slog.Default().With("component", "api"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "boardmax",
		DisableStartupMessage: true,
		BodyLimit:             s.bodyLimit,
		ReadTimeout:           s.readTimeout,
		WriteTimeout:          s.writeTimeout,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(s.requestLogger)
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	s.app.Get("/", s.handleRoot)

	api := s.app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Post("/ask", limiter.New(limiter.Config{
		Max:               s.rateLimit,
		Expiration:        s.rateWindow,
		LimiterMiddleware: limiter.FixedWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			s.logger.Warn("rate limit reached", "ip", c.IP(), "request_id", requestID(c))
			return c.Status(fiber.StatusTooManyRequests).JSON(errorResponse{Detail: query.MsgTooManyRequests})
		},
	}), s.handleAsk)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status, _ = statusFor(err)
	}
	s.logger.Info("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"latency", time.Since(started),
		"ip", c.IP(),
		"request_id", requestID(c))
	return err
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
