package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/x402wrap/x402wrap/internal/app/service"
	inthttp "github.com/x402wrap/x402wrap/internal/http/handler"
	"github.com/x402wrap/x402wrap/internal/http/middleware"
	"go.uber.org/zap"
)

// Dependencies bundles everything the HTTP server needs.
type Dependencies struct {
	Logger      *zap.Logger
	Redis       *redis.Client
	LinkService service.LinkService
	Gateway     service.GatewayService
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	app := fiber.New(fiber.Config{
		// The gateway passes arbitrary upstream bodies through.
		BodyLimit: 10 * 1024 * 1024,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.CORS())
	if s.deps.Redis != nil {
		s.app.Use(middleware.RateLimit(s.deps.Redis, middleware.DefaultRateLimitConfig(), s.deps.Logger))
	}
}

func (s *Server) registerRoutes() {
	statsHandler := inthttp.NewStatsHandler(inthttp.StatsDeps{
		Logger:      s.deps.Logger,
		LinkService: s.deps.LinkService,
	})
	statsHandler.Register(s.app)

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:      s.deps.Logger,
		LinkService: s.deps.LinkService,
	})
	apiHandler.Register(s.app)

	// Catch-all gateway route goes last so the routes above keep precedence.
	gatewayHandler := inthttp.NewGatewayHandler(inthttp.GatewayDeps{
		Logger:  s.deps.Logger,
		Gateway: s.deps.Gateway,
	})
	gatewayHandler.Register(s.app)
}
