package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// Config configures the receiver.
type Config struct {
	Addr            string
	Mode            string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// SetupRouter configures the Gin router with the webhook routes.
func SetupRouter(normalizer driving.WebhookNormalizer, cfg Config) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	h := NewHandler(normalizer, cfg.MaxBodyBytes)

	r.GET("/healthz", Health)

	hooks := r.Group("/webhooks")
	{
		hooks.POST("/:provider", h.Receive)
		hooks.GET("/dropbox", h.DropboxChallenge)
	}

	return r
}

// Server runs the webhook receiver.
type Server struct {
	cfg    Config
	server *http.Server
}

// NewServer creates a server on cfg.Addr.
func NewServer(normalizer driving.WebhookNormalizer, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           SetupRouter(normalizer, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.CtxInfo(ctx, "webhook receiver listening on %s", ln.Addr())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown webhook receiver: %w", err)
	}
	return nil
}
