// Package wsupgrade implements spec.md §4.9's upgrade dispatcher: it routes
// incoming WebSocket upgrade requests on /tcp and /tcp-mux to C6
// (internal/tcpproxy) or C8 (internal/mux) after enforcing the Origin
// allowlist, shutdown state, and target parameters. Modeled on the
// teacher's gin-based internal/api/handlers — a Handler struct holding
// constructed dependencies, with gin.HandlerFunc methods doing the request
// parsing and delegating to the domain packages.
package wsupgrade

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/gatewayerr"
	"github.com/webegress/gateway/internal/hostpolicy"
	"github.com/webegress/gateway/internal/metrics"
	"github.com/webegress/gateway/internal/mux"
	"github.com/webegress/gateway/internal/tcpproxy"
)

// Dispatcher holds the dependencies every upgrade needs (spec.md §4.9).
type Dispatcher struct {
	AllowedOrigins []string
	Policy         *hostpolicy.Policy
	Tracker        *admission.Tracker
	MuxLimits      mux.Limits
	Metrics        *metrics.Registry
	Logger         *slog.Logger

	ShuttingDown atomic.Bool
}

// New builds a Dispatcher.
func New(allowedOrigins []string, policy *hostpolicy.Policy, tracker *admission.Tracker, muxLimits mux.Limits, reg *metrics.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		AllowedOrigins: allowedOrigins,
		Policy:         policy,
		Tracker:        tracker,
		MuxLimits:      muxLimits,
		Metrics:        reg,
		Logger:         logger,
	}
}

// RegisterRoutes wires /tcp and /tcp-mux onto r, mirroring the teacher's
// RegisterRoutes(r *gin.Engine, ...) convention.
func (d *Dispatcher) RegisterRoutes(r *gin.Engine) {
	r.GET("/tcp", d.handleTCP)
	r.GET("/tcp-mux", d.handleTCPMux)
}

// checkPreconditions runs spec.md §4.9 steps 1 and 3 (shutdown, Origin),
// writing the HTTP error response itself on failure.
func (d *Dispatcher) checkPreconditions(c *gin.Context) bool {
	if d.ShuttingDown.Load() {
		c.String(http.StatusServiceUnavailable, "shutting down")
		return false
	}
	origin := c.GetHeader("Origin")
	if origin == "" || !originAllowed(origin, d.AllowedOrigins) {
		c.String(http.StatusForbidden, "origin not allowed")
		return false
	}
	return true
}

func originAllowed(origin string, allowlist []string) bool {
	for _, o := range allowlist {
		if o == origin {
			return true
		}
	}
	return false
}

// handleTCP serves /tcp: upgrades to a WebSocket carrying one relayed TCP
// connection to a single target (spec.md §4.6/§4.9).
func (d *Dispatcher) handleTCP(c *gin.Context) {
	if !d.checkPreconditions(c) {
		return
	}

	host, port, err := parseTargetParams(c)
	if err != nil {
		c.String(http.StatusBadRequest, "%s", err.Error())
		return
	}

	decision := hostpolicy.EvaluateTCPHostPolicy(host, d.Policy)
	if !decision.Allowed {
		c.String(http.StatusForbidden, "target not allowed: %s", decision.Reason)
		return
	}

	target := tcpproxy.Target{Target: decision.Target, Port: port}
	dial, err := tcpproxy.Open(d.Tracker, clientIP(c), target, d.Policy)
	if err != nil {
		writePreUpgradeError(c, err)
		return
	}
	defer d.Tracker.Release(clientIP(c))

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: d.AllowedOrigins,
	})
	if err != nil {
		d.Logger.Debug("wsupgrade: accept failed", "error", err)
		return
	}

	ctx := c.Request.Context()
	tunnel := websocket.NetConn(ctx, conn, websocket.MessageBinary)
	defer tunnel.Close()

	if d.Metrics != nil {
		d.Metrics.TCPProxyOpened()
		defer d.Metrics.TCPProxyClosed()
	}

	relayErr := tcpproxy.Relay(ctx, tunnel, dial, tcpproxy.Options{ClientIP: clientIP(c), Logger: d.Logger})
	closeWithErr(conn, relayErr)
}

// handleTCPMux serves /tcp-mux: upgrades to a WebSocket carrying a mux
// Session multiplexing many target connections (spec.md §4.7/§4.8/§4.9).
func (d *Dispatcher) handleTCPMux(c *gin.Context) {
	if !d.checkPreconditions(c) {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: d.AllowedOrigins,
	})
	if err != nil {
		d.Logger.Debug("wsupgrade: accept failed", "error", err)
		return
	}

	ctx := c.Request.Context()
	transport := newWSTransport(conn)

	if d.Metrics != nil {
		d.Metrics.MuxStreamOpened()
		defer d.Metrics.MuxStreamClosed()
	}

	session := mux.NewSession(transport, muxDialFunc(d.Policy), d.Tracker, d.Policy, clientIP(c), d.MuxLimits, d.Logger)
	sessionErr := session.Serve(ctx)
	if sessionErr == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	} else {
		closeWithErr(conn, sessionErr)
	}
}

// muxDialFunc adapts tcpproxy's DNS-TTL-fresh dial logic to mux.Dial's
// (host, port)-based signature; Session.handleOpen has already evaluated
// host against policy once, so this re-derives the Target shape (IP
// literal vs. DNS name) and re-checks it — the same re-evaluate-before-
// connect defense tcpproxy.Open applies to single-stream targets.
func muxDialFunc(policy *hostpolicy.Policy) mux.Dial {
	return func(ctx context.Context, host string, port int) (net.Conn, error) {
		decision := hostpolicy.EvaluateTCPHostPolicy(host, policy)
		if !decision.Allowed {
			return nil, gatewayerr.New(gatewayerr.KindPolicyDenied, string(decision.Reason))
		}
		target := tcpproxy.Target{Target: decision.Target, Port: port}
		return tcpproxy.DialTarget(ctx, target, policy)
	}
}

func clientIP(c *gin.Context) string {
	return c.ClientIP()
}

// parseTargetParams implements spec.md §4.9 step 4: either a single
// target=host:port param (bracketed IPv6 per tcpproxy.ParseBracketedTarget)
// or separate host=&port= params.
func parseTargetParams(c *gin.Context) (host string, port int, err error) {
	if raw := c.Query("target"); raw != "" {
		return tcpproxy.ParseBracketedTarget(raw)
	}

	host = c.Query("host")
	portStr := c.Query("port")
	if host == "" || portStr == "" {
		return "", 0, gatewayerr.New(gatewayerr.KindInvalidClientInput, "missing target/host+port parameter")
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return "", 0, gatewayerr.New(gatewayerr.KindInvalidClientInput, "invalid port parameter")
	}
	return host, p, nil
}

func writePreUpgradeError(c *gin.Context, err error) {
	if ge, ok := gatewayerr.As(err); ok {
		c.String(ge.HTTPStatus(), "%s", ge.Reason)
		return
	}
	c.String(http.StatusInternalServerError, "internal error")
}

// closeWithErr maps a relay-termination error onto the RFC 6455 close code
// gatewayerr.Kind names, or closes normally when err is nil.
func closeWithErr(conn *websocket.Conn, err error) {
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if ge, ok := gatewayerr.As(err); ok {
		_ = conn.Close(websocket.StatusCode(ge.Kind.WSCloseCode()), ge.Reason)
		return
	}
	_ = conn.Close(websocket.StatusInternalError, "internal error")
}
