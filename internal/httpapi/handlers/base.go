// Package handlers implements spec.md §6's HTTP endpoints, grounded on the
// teacher's internal/api/handlers — a Handler struct built once with its
// dependencies, gin.HandlerFunc methods doing the request work.
package handlers

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webegress/gateway/internal/dnsresolve"
	"github.com/webegress/gateway/internal/metrics"
)

// BuildInfo is populated by cmd/gatewayd from -ldflags at link time,
// matching the teacher's plain-package-vars-with-main-supplied-defaults
// pattern for /version.
type BuildInfo struct {
	Name    string
	Version string
	Commit  string
}

// Handler holds every dependency the HTTP surface needs, constructed once
// in cmd/gatewayd and shared across goroutines — the same shape as the
// teacher's handlers.Handler.
type Handler struct {
	Resolver      *dnsresolve.Resolver
	Registry      *metrics.Registry
	Build         BuildInfo
	PublicBaseURL string
	SessionSigner *SessionSigner
	ShuttingDown  *atomic.Bool
	startTime     time.Time
	Logger        *slog.Logger
}

// New constructs a Handler.
func New(resolver *dnsresolve.Resolver, reg *metrics.Registry, build BuildInfo, publicBaseURL string, signer *SessionSigner, shuttingDown *atomic.Bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}
	return &Handler{
		Resolver:      resolver,
		Registry:      reg,
		Build:         build,
		PublicBaseURL: publicBaseURL,
		SessionSigner: signer,
		ShuttingDown:  shuttingDown,
		startTime:     time.Now(),
		Logger:        logger,
	}
}
