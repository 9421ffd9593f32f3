package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/apiresponses"
	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/metrics"
	"github.com/telekom/owners-notify/pkg/ratelimit"
	"github.com/telekom/owners-notify/pkg/telemetry"
	"github.com/telekom/owners-notify/pkg/version"
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	gin     *gin.Engine
	config  config.Config
	log     *zap.SugaredLogger
	health  Pinger
	limiter *ratelimit.Limiter
	http    *http.Server
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool, health Pinger) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		telemetry.Middleware(),
		countRequests(),
	)

	if debug {
		origins := []string{"http://localhost:5173", "http://127.0.0.1:8080"}
		if cfg.Notify.BaseURL != "" {
			origins = append(origins, cfg.Notify.BaseURL)
		}
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: origins,
				AllowMethods: []string{"GET", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type"},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	limits := ratelimit.DefaultAPIConfig()
	if cfg.Server.RateLimit > 0 {
		limits.Rate = cfg.Server.RateLimit
	}
	if cfg.Server.RateBurst > 0 {
		limits.Burst = cfg.Server.RateBurst
	}

	s := &Server{
		gin:     engine,
		config:  cfg,
		log:     log.Sugar(),
		health:  health,
		limiter: ratelimit.New(limits),
	}

	engine.GET("healthz", s.healthz)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.GET("api/version", s.buildInfo)

	return s
}

// RegisterAll mounts every controller below /api behind the per-client limiter.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api", s.limiter.Middleware("api", ratelimit.ByClientIP))
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until Shutdown is called. TLS is used when both a
// certificate and a key are configured.
func (s *Server) Listen() error {
	s.http = s.newHTTPServer()
	s.log.Infow("Starting API server", "address", s.config.Server.ListenAddress)

	var err error
	if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
		err = s.http.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) newHTTPServer() *http.Server {
	timeouts := s.config.Server.GetServerTimeouts()
	return &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadHeaderTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
		MaxHeaderBytes:    timeouts.GetMaxHeaderBytes(),
	}
}

// Shutdown gracefully stops the HTTP server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Close stops background work owned by the server. Safe to call repeatedly.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			s.log.Warnw("Health check failed", "error", err)
			apiresponses.RespondServiceUnavailable(c, "store")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) buildInfo(c *gin.Context) {
	apiresponses.RespondOK(c, version.GetBuildInfo())
}

func countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
