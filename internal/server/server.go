// Package server exposes the App over a loopback HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hay-kot/nudge/internal/core/notify"
)

// Service is the subset of the App served over HTTP.
type Service interface {
	SaveData(ctx context.Context, key, value string) error
	LoadData(ctx context.Context, key string) (string, error)
	DeleteData(ctx context.Context, key string) error
	ListData(ctx context.Context, pattern string) ([]string, error)
	ScheduleNotification(ctx context.Context, title, body string, delayMs uint64) (string, error)
	CancelNotification(ctx context.Context, id string) error
	PendingNotifications() []notify.Notification
	History(ctx context.Context, limit int) ([]notify.AuditEvent, error)
}

// Server serves the HTTP API.
type Server struct {
	svc    Service
	log    zerolog.Logger
	engine *gin.Engine
}

// New builds the router for svc.
func New(svc Service, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{svc: svc, log: log, engine: gin.New()}
	s.engine.Use(requestID(), requestLogger(log), gin.Recovery())
	s.routes()

	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/v1")
	{
		api.GET("/keys", s.listKeys)
		api.PUT("/data/*key", s.putData)
		api.GET("/data/*key", s.getData)
		api.DELETE("/data/*key", s.deleteData)

		api.POST("/notifications", s.scheduleNotification)
		api.GET("/notifications", s.listNotifications)
		api.DELETE("/notifications/:id", s.cancelNotification)
		api.GET("/history", s.history)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http api listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
