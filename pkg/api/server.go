// Package api exposes feed sessions and the platform operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"poetry-feed/pkg/feed"
	"poetry-feed/pkg/logger"
	"poetry-feed/pkg/platform"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// HTTPObserver records request metrics. *metrics.Metrics implements it.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Config holds server settings.
type Config struct {
	Port  int
	Debug bool
	// SessionRPS and SessionBurst limit session creation. Zero RPS
	// disables the limit.
	SessionRPS      float64
	SessionBurst    int
	ShutdownTimeout time.Duration
}

// Deps are the services behind the routes. Platform and Metrics are optional.
type Deps struct {
	Sessions *feed.Manager
	Platform *platform.Service
	Metrics  http.Handler
	Observer HTTPObserver
	Logger   logger.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	log    logger.Logger
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, deps: deps, log: deps.Logger}
	s.engine = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	if s.deps.Observer != nil {
		r.Use(observe(s.deps.Observer))
	}

	r.GET("/health", s.health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	v1 := r.Group("/api/v1")

	sessions := v1.Group("/sessions")
	createLimit := []gin.HandlerFunc{}
	if s.cfg.SessionRPS > 0 {
		createLimit = append(createLimit, rateLimit(rate.NewLimiter(rate.Limit(s.cfg.SessionRPS), max(1, s.cfg.SessionBurst))))
	}
	sessions.POST("", append(createLimit, s.createSession)...)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.POST("/:id/navigate", s.navigate)
	sessions.POST("/:id/next", s.next)
	sessions.POST("/:id/prev", s.prev)
	sessions.PUT("/:id/language", s.setLanguage)

	if s.deps.Platform != nil {
		s.platformRoutes(v1)
	}
	return r
}

func (s *Server) platformRoutes(v1 *gin.RouterGroup) {
	auth := v1.Group("/auth")
	auth.POST("/signup", s.signUp)
	auth.POST("/signin", s.signIn)
	auth.POST("/otp", s.requestOTP)
	auth.POST("/verify", s.verifyOTP)

	user := v1.Group("", requireUser(s.deps.Platform))
	user.GET("/profile", s.getProfile)
	user.PUT("/profile", s.updateProfile)
	user.GET("/favorites", s.listFavorites)
	user.POST("/favorites", s.addFavorite)
	user.DELETE("/favorites/:poemId", s.removeFavorite)
	user.GET("/favorites/:poemId/status", s.favoriteStatus)
	user.GET("/lists", s.listLists)
	user.POST("/lists", s.createList)
	user.DELETE("/lists/:listId", s.deleteList)
	user.POST("/lists/:listId/poems", s.addToList)
	user.DELETE("/lists/:listId/poems/:poemId", s.removeFromList)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.deps.Sessions.Len(),
		"platform": s.deps.Platform != nil,
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", logger.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
