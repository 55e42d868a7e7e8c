package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bastionwaf/events"
	"bastionwaf/inspection"
	"bastionwaf/lifecycle"
	"bastionwaf/rules"
	"bastionwaf/waf"
)

// Deps is what the admin API needs from the core.
type Deps struct {
	Controller *lifecycle.Controller
	Pipeline   *inspection.Pipeline
	Logs       waf.LogQuerier
	Events     *events.Aggregator
	Source     *rules.FileSource
	BuildOpts  rules.BuildOptions
}

// Server is the REST surface the admin console talks to.
type Server struct {
	logger zerolog.Logger
	http   *http.Server
}

// NewServer wires the routes and returns a server listening on addr once
// Run is called.
func NewServer(logger zerolog.Logger, addr string, deps Deps) *Server {
	logger = logger.With().Str("component", "api").Logger()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	h := &handlers{logger: logger, deps: deps}

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/engine/status", h.status)
		v1.POST("/engine/start", h.start)
		v1.POST("/engine/stop", h.stop)
		v1.POST("/engine/restart", h.restart)
		v1.POST("/engine/force-stop", h.forceStop)
		v1.POST("/engine/reload", h.reload)

		v1.POST("/waf/inspect", h.inspect)
		v1.POST("/waf/logs/query", h.queryLogs)
		v1.POST("/waf/events/query", h.queryEvents)

		v1.PUT("/rules", h.publishRules)
	}

	return &Server{
		logger: logger,
		http:   &http.Server{Addr: addr, Handler: engine},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.http.Addr).Msg("admin API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("timeTaken", time.Since(start)).
			Msg("admin API request")
	}
}
