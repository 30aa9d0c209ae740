// Package server exposes the engine's HTTP surface: the session channel,
// health and info endpoints, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
	"github.com/Confio-Network/wallet-engine/internal/middleware"
	"github.com/Confio-Network/wallet-engine/internal/session"
	"github.com/Confio-Network/wallet-engine/internal/sponsor"
	"github.com/Confio-Network/wallet-engine/internal/system"
)

const (
	probeTimeout    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Config holds server construction parameters.
type Config struct {
	Addr    string
	Name    string
	Version string

	Gateway chain.Gateway
	DB      *sqlx.DB
	Sponsor *sponsor.Service
	Session *session.Handler

	// RateLimit throttles requests per client IP; zero disables it.
	RateLimit float64
	RateBurst int

	// Stats supplies extra statistics for /info.
	Stats func() map[string]any

	Logger *logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg  Config
	http *http.Server
	log  *logging.Logger
}

// New builds the router and wraps it in an http.Server.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.Metrics())
	if cfg.RateLimit > 0 {
		r.Use(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Handler())
	}

	s := &Server{cfg: cfg, log: log}

	r.GET("/health", s.handleHealth)
	r.GET("/healthz", s.handleHealth)
	r.GET("/info", s.handleInfo)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if cfg.Session != nil {
		cfg.Session.Register(r)
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// =============================================================================
// Handlers
// =============================================================================

type healthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	probe := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	if s.cfg.Gateway != nil {
		_, err := s.cfg.Gateway.SuggestedParams(ctx)
		probe("node", err)
		probe("indexer", s.cfg.Gateway.IndexerHealthy(ctx))
	}
	if s.cfg.DB != nil {
		probe("database", s.cfg.DB.PingContext(ctx))
	}
	if s.cfg.Sponsor != nil {
		h, err := s.cfg.Sponsor.CheckHealth(ctx)
		switch {
		case err != nil:
			probe("sponsor", err)
		case !h.Healthy:
			probe("sponsor", errors.New("balance below operating floor"))
		default:
			probe("sponsor", nil)
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, healthResponse{
		Status:    status,
		Service:   s.cfg.Name,
		Version:   s.cfg.Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type infoResponse struct {
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Host       map[string]any `json:"host"`
	Statistics map[string]any `json:"statistics,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

func (s *Server) handleInfo(c *gin.Context) {
	resp := infoResponse{
		Service:   s.cfg.Name,
		Version:   s.cfg.Version,
		Host:      system.Collect(c.Request.Context()).Map(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Stats != nil {
		resp.Statistics = s.cfg.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info(context.Background(), "http server listening", logging.Fields{"addr": s.cfg.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
