package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docrag/app/api"
	"docrag/app/middleware"
)

type Server struct {
	listenAddr string
	logger     *slog.Logger
	runtime    *Runtime
	app        *fiber.App
}

func NewServer(addr string, rt *Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		listenAddr: addr,
		logger:     logger,
		runtime:    rt,
	}
	s.app = s.routes()
	return s
}

func (s *Server) routes() *fiber.App {
	cfg := s.runtime.cfg.Server

	var (
		app           = fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler, DisableStartupMessage: true})
		checkHandler  = api.NewCheckHandler(s.runtime)
		queryHandler  = api.NewQueryHandler(s.runtime)
		reloadHandler = api.NewReloadHandler(s.runtime, s.runtime)
		limit         = middleware.Limit(int64(cfg.MaxConcurrent), cfg.RequestTimeout)
		timeout       = middleware.Timeout(cfg.RequestTimeout)
	)
	app.Use(middleware.Logger(s.logger))

	app.Get("/", checkHandler.HandleRoot)

	check := app.Group("/check")
	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	app.Post("/query", limit, timeout, queryHandler.HandleQuery)

	apiv1 := app.Group("/api/v1")
	apiv1.Post("/query", limit, timeout, queryHandler.HandleQuery)
	apiv1.Post("/reload", timeout, reloadHandler.HandleReload)

	return app
}

// App exposes the routes, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run starts loading the pipeline in the background and serves until
// Shutdown. Requests arriving before the pipeline is ready get 503.
func (s *Server) Run(ctx context.Context) error {
	go s.runtime.Init(ctx)

	s.logger.Info("server listening", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if cerr := s.runtime.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("server stopped")
	return err
}
