// Package api is the HTTP surface of the notifier: WebSocket handshakes,
// internal trigger routes, health, readiness and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/realtime/registry"
	"memotag-notifier/internal/trigger"
)

const readyTimeout = 2 * time.Second

// Trigger is the event boundary the internal routes call into.
type Trigger interface {
	OnMessageCreated(ctx context.Context, item *models.Item, msg models.Message, notify bool) (*trigger.MessageResult, error)
	OnStatusChanged(ctx context.Context, itemID string, status models.ItemStatus) (*trigger.StatusResult, error)
	OnProgressChanged(ctx context.Context, itemID string, progress int) (*trigger.ProgressResult, error)
}

// Subscribers upgrades a request into a subscriber connection.
type Subscribers interface {
	Serve(w http.ResponseWriter, r *http.Request, scope registry.Scope) error
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type Config struct {
	Address       string
	InternalToken string
}

type Server struct {
	router      *gin.Engine
	http        *http.Server
	trigger     Trigger
	subscribers Subscribers
	checks      map[string]Check
	now         func() time.Time
	logger      logger.Logger
}

type Option func(*Server)

// WithReadinessCheck adds a named dependency to /ready.
func WithReadinessCheck(name string, check Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

func NewServer(cfg Config, t Trigger, subs Subscribers, log logger.Logger, opts ...Option) *Server {
	log = logger.Component(log, "api")

	router := gin.New()
	router.Use(Recovery(log))
	router.Use(RequestLogger(log))

	s := &Server{
		router:      router,
		trigger:     t,
		subscribers: subs,
		checks:      make(map[string]Check),
		now:         time.Now,
		logger:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes(cfg.InternalToken)

	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(internalToken string) {
	ws := s.router.Group("/ws")
	{
		ws.GET("/item/:item_id", s.handleItemSocket())
		ws.GET("/admin", s.handleAdminSocket())
	}

	internal := s.router.Group("/internal/events")
	internal.Use(InternalAuth(internalToken))
	{
		internal.POST("/message-created", s.handleMessageCreated())
		internal.POST("/status-changed", s.handleStatusChanged())
		internal.POST("/progress-changed", s.handleProgressChanged())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"address": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleItemSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = s.subscribers.Serve(c.Writer, c.Request, registry.ItemScope(c.Param("item_id")))
	}
}

func (s *Server) handleAdminSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = s.subscribers.Serve(c.Writer, c.Request, registry.AdminScope())
	}
}

func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
