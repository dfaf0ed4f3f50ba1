package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/config"
	"github.com/webegress/gateway/internal/dnsresolve"
	"github.com/webegress/gateway/internal/hostpolicy"
	"github.com/webegress/gateway/internal/httpapi"
	"github.com/webegress/gateway/internal/httpapi/handlers"
	"github.com/webegress/gateway/internal/logging"
	"github.com/webegress/gateway/internal/metrics"
	"github.com/webegress/gateway/internal/mux"
	"github.com/webegress/gateway/internal/scheduler"
	"github.com/webegress/gateway/internal/wsupgrade"
)

// buildVersion and buildCommit are populated via -ldflags at link time,
// matching the teacher's plain-package-vars-with-main-supplied-defaults
// pattern.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	debug    bool
	jsonLogs bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := cfg.LogLevel
	if flags.debug {
		logLevel = "DEBUG"
	}
	logger := logging.Configure(logging.Config{
		Level:            logLevel,
		Structured:       flags.jsonLogs,
		StructuredFormat: "json",
	})
	logger.Info("gateway starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"tls", cfg.TLS.Enabled,
		"public_base_url", cfg.PublicBaseURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	policy := hostpolicy.NewPolicy(cfg.TCP.BlockList, cfg.TCP.AllowList, cfg.TCP.RequireDNSName, cfg.TCP.AllowPrivateIPs)

	upstreams := make([]dnsresolve.Upstream, 0, len(cfg.DNS.Upstreams))
	for _, addr := range cfg.DNS.Upstreams {
		upstreams = append(upstreams, dnsresolve.ParseUpstream(addr, 1))
	}
	resolver := dnsresolve.NewResolver(dnsresolve.Config{
		QPSPerIP:            cfg.DNS.QPSPerIP,
		BurstPerIP:          cfg.DNS.BurstPerIP,
		AllowAnyQType:       cfg.DNS.AllowAnyQType,
		AllowPrivateAnswers: cfg.DNS.AllowPrivateAnswers,
		AllowPrivatePTR:     cfg.DNS.AllowPrivatePTR,
		UpstreamTimeout:     time.Duration(cfg.DNS.UpstreamTimeoutMS) * time.Millisecond,
		CacheMaxEntries:     cfg.DNS.CacheMaxEntries,
		CacheMaxTTL:         time.Duration(cfg.DNS.CacheMaxTTLSeconds) * time.Second,
		CacheNegativeTTL:    time.Duration(cfg.DNS.CacheNegativeTTLSeconds) * time.Second,
		MaxQueryBytes:       cfg.DNS.MaxQueryBytes,
		MaxResponseBytes:    cfg.DNS.MaxResponseBytes,
	}, upstreams)

	tracker := admission.NewTracker(admission.Limits{
		MaxConnections:      cfg.TCP.MaxConnections,
		MaxConnectionsPerIP: cfg.TCP.MaxConnectionsPerIP,
	})

	reg := metrics.New()

	shuttingDown := &atomic.Bool{}
	signer := handlers.NewSessionSigner(cfg.SessionHMACSecret, time.Hour)
	build := handlers.BuildInfo{Name: "gatewayd", Version: buildVersion, Commit: buildCommit}
	handler := handlers.New(resolver, reg, build, cfg.PublicBaseURL, signer, shuttingDown, logger)

	httpSrv := httpapi.New(httpapi.Options{
		Host:                       cfg.Host,
		Port:                       cfg.Port,
		TLSEnabled:                 cfg.TLS.Enabled,
		TLSCertPath:                cfg.TLS.CertPath,
		TLSKeyPath:                 cfg.TLS.KeyPath,
		TrustProxy:                 cfg.TrustProxy,
		CrossOriginIsolation:       cfg.CrossOriginIsolation,
		RateLimitRequestsPerMinute: cfg.RateLimitRequestsPerMinute,
	}, handler, reg, logger)

	dispatcher := wsupgrade.New(cfg.AllowedOrigins, policy, tracker, mux.Limits{
		MaxStreams:           cfg.TCP.MuxMaxStreams,
		MaxStreamBufferBytes: cfg.TCP.MuxMaxStreamBufferBytes,
		MaxFramePayloadBytes: cfg.TCP.MuxMaxFramePayloadBytes,
		DefaultInitialWindow: cfg.TCP.MuxInitialWindowBytes,
	}, reg, logger)
	dispatcher.RegisterRoutes(httpSrv.Engine())

	sched := scheduler.New(resolver.Cache(), tracker, logger)
	if err := sched.Start(resolver.Cache(), tracker); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info("http server starting", "addr", httpSrv.Addr())

	go func() {
		serveErr := httpSrv.ListenAndServe()
		if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
			return
		}
		logger.Error("http server error", "err", serveErr)
		cancel()
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shuttingDown.Store(true)
	dispatcher.ShuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceMS)*time.Millisecond)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}

	sched.Stop()
	logger.Info("gateway stopped")
	return nil
}
