// Package server exposes the operator API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/digest"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/override"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/queue"
)

// SourceManager changes the subscribed source set and resubscribes.
type SourceManager interface {
	AddSource(ctx context.Context, username string) override.Result
	RemoveSource(ctx context.Context, username string) override.Result
	ToggleSource(ctx context.Context, username string) override.Result
}

type Deps struct {
	DB        *database.DB
	Override  *override.Surface
	Queue     interface{ Stats() queue.Stats }
	Scheduler interface{ State() digest.State }
	Sources   SourceManager
	Location  *time.Location
}

// Server is the HTTP server for the operator API.
type Server struct {
	Deps
	engine *gin.Engine
	log    *slog.Logger
	now    func() time.Time
}

func New(deps Deps, logger *slog.Logger) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		Deps:   deps,
		engine: gin.New(),
		log:    logger.With("component", "server"),
		now:    time.Now,
	}
	s.routes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)

	api.GET("/state", s.handleGetState)
	api.POST("/state/set", s.handleSetState)
	api.POST("/state/merge", s.handleMergeState)
	api.POST("/initialize-situation", s.handleInitialize)

	api.GET("/queue", s.handleQueue)
	api.POST("/queue/clear", s.handleFlush)
	api.POST("/queue/clear-high", s.handleClear("high"))
	api.POST("/queue/clear-medium", s.handleClear("medium"))
	api.POST("/queue/clear-low", s.handleClear("low"))

	api.POST("/message/promote", s.handleMove(true))
	api.POST("/message/demote", s.handleMove(false))

	api.GET("/posts/24h", s.handleRecentPosts)
	api.POST("/posts/delete", s.handleDeletePost)

	api.POST("/replay", s.handleReplay)

	api.GET("/sources", s.handleListSources)
	api.POST("/sources", s.handleAddSource)
	api.DELETE("/sources/:username", s.handleRemoveSource)
	api.POST("/sources/:username/toggle", s.handleToggleSource)
}

// requestLogger logs method, path, status and latency.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func respond(c *gin.Context, res override.Result) {
	if !res.Success {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": res.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": res.Message})
}

func respondData(c *gin.Context, payload gin.H) {
	payload["success"] = true
	c.JSON(http.StatusOK, payload)
}

func respondError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}

// Serve runs the server on host:port until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
