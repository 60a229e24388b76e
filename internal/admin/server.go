package admin

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/danmuck/wifikey/internal/auth"
	"github.com/danmuck/wifikey/internal/feed"
	"github.com/danmuck/wifikey/internal/host"
	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	maxInputBody    = 64 * 1024
	shutdownTimeout = 5 * time.Second
)

// Controller is the part of host.Manager the admin surface drives.
type Controller interface {
	Status() host.Status
	Discover() error
	Disconnect()
	SubmitInput(ev event.Event) error
	SubmitBatch(events []event.Event) error
}

var _ Controller = (*host.Manager)(nil)

// Server is the local HTTP surface: health, status, metrics, the event feed and
// input submission.
type Server struct {
	Addr     string
	Version  string
	Appeared time.Time
	// Auth guards every route except /health and /metrics. Nil leaves them open.
	Auth auth.Validator

	ctl     Controller
	feed    *feed.Broadcaster
	origins []string
	router  *gin.Engine
	logger  zerolog.Logger
}

func New(addr string, ctl Controller, fb *feed.Broadcaster, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	logger := observability.Component("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog(logger))
	r.Use(cors.New(corsConfig(corsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		Version:  "dev",
		Appeared: time.Now(),
		ctl:      ctl,
		feed:     fb,
		origins:  corsOrigins,
		router:   r,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": "wifikey",
			"version": s.Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/", s.requireToken)

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctl.Status())
	})

	if s.feed != nil {
		api.GET("/events", gin.WrapH(s.feed.Handler(s.origins)))
	}

	api.POST("/discover", func(c *gin.Context) {
		if err := s.ctl.Discover(); err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "broadcast sent"})
	})

	api.POST("/disconnect", func(c *gin.Context) {
		s.ctl.Disconnect()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.POST("/input", func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		ev, err := event.Unmarshal(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.ctl.SubmitInput(ev); err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "type": ev.Kind()})
	})

	api.POST("/input/batch", func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		events, err := event.UnmarshalList(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.ctl.SubmitBatch(events); err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "events": len(events)})
	})
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin.Server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.feed != nil {
		s.feed.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requireToken(c *gin.Context) {
	if s.Auth == nil {
		c.Next()
		return
	}
	if err := s.Auth.Validate(auth.RequestToken(c.Request)); err != nil {
		s.logger.Warn().Str("path", c.FullPath()).Str("remote", c.ClientIP()).Msg("admin.Server rejected request")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInputBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(body) > maxInputBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return nil, false
	}
	return body, true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, host.ErrNotConnected), errors.Is(err, host.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, host.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = normalizeOrigins(origins)
	return cfg
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
