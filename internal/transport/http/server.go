// Package http is the thin gin layer named in spec §1/§9: a websocket
// upgrade route and a resync snapshot endpoint, not a validated or
// authenticated REST surface. Grounded on the venue's legacy
// internal/gateway.Server, with fx dependency injection replaced by
// explicit constructor arguments.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/config"
	"github.com/kairostrade/matchingcore/internal/matching"
	"github.com/kairostrade/matchingcore/internal/transport/ws"
)

// Server is the process's HTTP surface: WS upgrade, resync, health, and
// (optionally) Prometheus scrape.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *zap.Logger
}

// New builds the router and wires its routes. engine and wsManager may be
// used from request handlers registered below.
func New(cfg *config.Config, engine *matching.Engine, wsManager *ws.Manager, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET(cfg.WebSocket.Path, wsManager.HandleUpgrade)

	router.GET("/resync/:symbol", func(c *gin.Context) {
		snapshot, err := engine.Resync(c.Request.Context(), c.Param("symbol"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshot)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	return &Server{
		router: router,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.ServerAddr(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("path", path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server in a background goroutine. Errors other than
// a clean shutdown are logged, not returned, since this runs detached.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown gracefully drains in-flight requests within the configured
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
