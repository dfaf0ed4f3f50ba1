// Package httpapi wires spec.md §6's HTTP surface onto a gin.Engine,
// grounded on the teacher's internal/api.Server — same New/Engine/
// ListenAndServe/Shutdown shape, generalized to TLS and the gateway's own
// middleware stack instead of the management-API's API-key auth.
package httpapi

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/webegress/gateway/internal/dnsresolve"
	"github.com/webegress/gateway/internal/httpapi/handlers"
	"github.com/webegress/gateway/internal/httpapi/middleware"
	"github.com/webegress/gateway/internal/metrics"
)

// Options configures the Server's listener.
type Options struct {
	Host                       string
	Port                       int
	TLSEnabled                 bool
	TLSCertPath                string
	TLSKeyPath                 string
	TrustProxy                 bool
	CrossOriginIsolation       bool
	RateLimitRequestsPerMinute int
}

// Server is the gateway's public HTTP(S) server.
type Server struct {
	opts       Options
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server with routes registered. Callers may further use
// Engine() to register additional routes (e.g. wsupgrade's upgrades)
// before calling ListenAndServe.
func New(opts Options, h *handlers.Handler, reg *metrics.Registry, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(middleware.MetricsCounter(reg))
	engine.Use(middleware.CrossOriginIsolation(opts.CrossOriginIsolation))
	if opts.RateLimitRequestsPerMinute > 0 {
		engine.Use(middleware.RateLimit(dnsresolve.NewTokenBuckets(float64(opts.RateLimitRequestsPerMinute)/60.0, opts.RateLimitRequestsPerMinute, 65536, 5*time.Minute)))
	}

	if opts.TrustProxy {
		_ = engine.SetTrustedProxies([]string{"0.0.0.0/0", "::/0"})
	} else {
		_ = engine.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	}

	RegisterRoutes(engine, h)

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // WebSocket upgrades on this same engine are long-lived
		IdleTimeout:       60 * time.Second,
	}
	if opts.TLSEnabled {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{opts: opts, engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string        { return s.httpServer.Addr }
func (s *Server) Engine() *gin.Engine { return s.engine }

// ListenAndServe blocks serving HTTP, or HTTPS when TLS is enabled.
func (s *Server) ListenAndServe() error {
	if s.opts.TLSEnabled {
		return s.httpServer.ListenAndServeTLS(s.opts.TLSCertPath, s.opts.TLSKeyPath)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
