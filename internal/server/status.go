package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/wrtctl/internal/auth"
	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const statusShutdownGrace = 3 * time.Second

// StatusRouter builds the read-only HTTP surface over published reactor
// snapshots.
func (s *Server) StatusRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logging.Component("status")))
	r.Use(observability.RequestMetrics())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if s.cfg.StatusToken != "" {
		r.Use(auth.Require(auth.StaticToken{Token: s.cfg.StatusToken}, "/health"))
	}

	r.GET("/health", func(c *gin.Context) {
		st := s.Snapshot()
		status := "ok"
		if st.Shutdown {
			status = "stopping"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      status,
			"uptime":      time.Since(st.Started).String(),
			"listen":      st.Listen,
			"connections": len(st.Connections),
			"version":     Version,
		})
	})

	r.GET("/handlers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"handlers": s.Snapshot().Handlers})
	})

	r.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": s.Snapshot().Connections})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeStatus runs the status surface on addr until ctx is cancelled.
func (s *Server) ServeStatus(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.StatusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("status http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
