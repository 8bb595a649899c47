package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/rtdb/internal/auth"
	"github.com/danmuck/rtdb/internal/observability"
	"github.com/danmuck/rtdb/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	statusTimeout   = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// StatusSource is the part of a session the admin endpoints read.
type StatusSource interface {
	State() session.State
	Status(ctx context.Context) (session.Status, error)
}

// Server exposes health, readiness, session status and metrics over HTTP.
type Server struct {
	ID      string
	Addr    string
	Started time.Time

	source    StatusSource
	router    *gin.Engine
	log       zerolog.Logger
	validator auth.Validator
}

func New(id, addr string, source StatusSource, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	logger := observability.ComponentLogger(id, "admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(corsOrigins),
		AllowMethods:  []string{"GET"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		source:  source,
		router:  r,
		log:     logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// RequireToken guards every endpoint except /health with v. A nil v leaves
// them open.
func (s *Server) RequireToken(v auth.Validator) {
	s.validator = v
}

func (s *Server) guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		if err := auth.Check(s.validator, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
		})
	})

	guarded := s.router.Group("/", s.guard())
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded.GET("/ready", func(c *gin.Context) {
		state := s.source.State()
		code := http.StatusOK
		if state != session.StateConnected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   code == http.StatusOK,
			"state":   state.String(),
			"service": s.ID,
		})
	})

	guarded.GET("/status", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), statusTimeout)
		defer cancel()
		st, err := s.source.Status(ctx)
		if err != nil {
			code := http.StatusServiceUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				code = http.StatusGatewayTimeout
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})
}

// Serve listens on s.Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then shuts down gracefully.
// It takes ownership of ln.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

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
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info().Msg("admin stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
