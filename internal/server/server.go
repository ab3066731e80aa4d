package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sentinal-realtime/config"
	"sentinal-realtime/internal/middleware"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/transport/httpdto"
	"sentinal-realtime/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	hub        *Hub
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Routes struct {
	WebSocket        *WebSocketHandler
	HandshakeLimiter *redis.RateLimiter
	Health           map[string]HealthCheck
}

func New(cfg *config.Config, l *logger.Logger, hub *Hub) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.AppPort),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
		hub:    hub,
	}
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) SetupRoutes(routes Routes) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := httpdto.HealthStatus{}
		for name, check := range routes.Health {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				continue
			}
			status[name] = "ok"
		}
		resp := httpdto.NewHealthResponse(status)
		if !resp.Success {
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	ws := []gin.HandlerFunc{}
	if routes.HandshakeLimiter != nil {
		ws = append(ws, middleware.HandshakeRateLimitMiddleware(routes.HandshakeLimiter))
	}
	ws = append(ws, routes.WebSocket.Handle)
	s.engine.GET("/ws", ws...)
}

// Start serves until SIGINT or SIGTERM, then closes every websocket client
// and shuts the HTTP server down.
func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	if s.logger != nil {
		s.logger.Infof("Server is running on :%s", s.config.AppPort)
	}

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}
	if s.hub != nil {
		s.hub.Stop(ctx)
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
