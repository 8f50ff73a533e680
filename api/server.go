// Package api exposes the pipeline over HTTP: REST endpoints backed by the
// Supervisor's query surface, a manual/webhook trigger surface backed by the
// Scheduler, and a live event stream over WebSocket.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	clawforge "github.com/clawforge/clawforge"
	"github.com/clawforge/clawforge/scheduler"
	"github.com/clawforge/clawforge/supervisor"
)

// Version is reported by GET /api/health, bumped by hand at release time.
const Version = "0.1.0"

// Server wraps a gin.Engine wired to the Supervisor's query API, the bus for
// dispatching new runs, and the Scheduler for agent registration/webhooks.
type Server struct {
	engine  *gin.Engine
	httpSrv *http.Server
	bus     *clawforge.Bus
	sup     *supervisor.Supervisor
	sched   *scheduler.Scheduler
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New builds a Server serving addr, wired to bus/sup/sched. Routes are
// registered immediately; call Start to begin listening.
func New(addr string, bus *clawforge.Bus, sup *supervisor.Supervisor, sched *scheduler.Scheduler, opts ...Option) *Server {
	s := &Server{bus: bus, sup: sup, sched: sched, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	s.registerRoutes(router)

	s.engine = router
	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Start begins serving in a background goroutine. Errors other than a clean
// shutdown are logged, matching the teacher's fire-and-log server idiom.
func (s *Server) Start() {
	s.log.Info("api server starting", "addr", s.httpSrv.Addr)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down, waiting up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("api server stopping")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/api/health", s.handleHealth)

	router.GET("/api/runs", s.handleListRuns)
	router.GET("/api/runs/:id", s.handleGetRun)
	router.POST("/api/runs/:id/cancel", s.handleCancelRun)
	router.POST("/api/runs/:id/input", s.handleProvideInput)

	router.GET("/api/agents", s.handleListAgents)
	router.POST("/api/agents", s.handleCreateAgent)
	router.POST("/api/agents/:id/run", s.handleRunAgent)
	router.POST("/api/webhooks/:path", s.handleWebhook)

	router.GET("/api/ws", s.handleWS)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method, "path", path,
			"status", c.Writer.Status(), "latency", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "clawforge", "version": Version})
}
