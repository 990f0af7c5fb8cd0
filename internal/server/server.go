package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Wing9897/StockenBoard-sub000/internal/feed"
	"github.com/Wing9897/StockenBoard-sub000/internal/model"
	"github.com/Wing9897/StockenBoard-sub000/internal/pricecache"
	"github.com/Wing9897/StockenBoard-sub000/internal/store"
)

// EngineControl is the slice of the sync engine the API drives.
type EngineControl interface {
	Reload(ctx context.Context) error
	SetVisible(ctx context.Context, scope string, ids []string) error
	SetUnattended(ctx context.Context, on bool) error
}

// Registry is the slice of the store the API reads and writes.
type Registry interface {
	LoadSubscriptions(ctx context.Context) ([]model.Subscription, error)
	AddSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub model.Subscription) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	LoadSourceSettings(ctx context.Context) ([]model.SourceSettings, error)
	UpsertSourceSettings(ctx context.Context, cfg model.SourceSettings) error
	QueryHistory(ctx context.Context, filter store.HistoryFilter) ([]store.HistoryPoint, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Port int
}

// Server hosts the HTTP API.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	cache    *pricecache.Cache
	engine   EngineControl
	registry Registry
	reporter feed.VisibilityReporter
	logger   *slog.Logger
}

// New creates the server and registers routes. reporter may be nil.
func New(cfg Config, cache *pricecache.Cache, engine EngineControl, registry Registry, reporter feed.VisibilityReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		cfg:      cfg,
		echo:     e,
		cache:    cache,
		engine:   engine,
		registry: registry,
		reporter: reporter,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	api.GET("/prices", s.handlePrices)
	api.GET("/prices/:source/:symbol", s.handlePrice)
	api.GET("/ticks", s.handleTicks)
	api.GET("/history", s.handleHistory)

	api.GET("/sources", s.handleSources)
	api.PUT("/sources/:id/settings", s.handleUpsertSourceSettings)

	api.GET("/subscriptions", s.handleListSubscriptions)
	api.POST("/subscriptions", s.handleAddSubscription)
	api.PUT("/subscriptions/:id", s.handleUpdateSubscription)
	api.DELETE("/subscriptions/:id", s.handleDeleteSubscription)

	api.POST("/visible", s.handleVisible)
	api.POST("/unattended", s.handleUnattended)
	api.POST("/reload", s.handleReload)
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	s.logger.Info("http server started", "addr", addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
