// Package tcpproxy implements the single-stream TCP proxy supervisor
// (spec.md §4.6): after egress policy (C3) allows a target, it checks
// admission (C10), dials the target with DNS-TTL-fresh re-resolution, and
// runs a full-duplex relay until either side's socket reaches EOF or
// errors. Modeled on the teacher's internal/server/tcp_server.go — the
// SO_REUSEPORT accept loop and per-IP admission map generalize directly,
// but the per-message length-prefixed pipelining used for DNS-over-TCP is
// replaced with one long-lived bidirectional byte relay with half-close.
package tcpproxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/webegress/gateway/internal/gatewayerr"
	"github.com/webegress/gateway/internal/pool"
)

// relayBufPool reduces allocations for the two 64 KiB pump buffers per
// relayed connection (spec.md §4.6: "Buffer size per pump ≤ 64 KiB"),
// mirroring the teacher's lenBufPool pattern in tcp_server.go.
var relayBufPool = pool.New(func() *[]byte {
	buf := make([]byte, 64*1024)
	return &buf
})

// Options configures a single relayed connection.
type Options struct {
	ClientIP       string
	ConnectTimeout time.Duration // default 15s
	IdleTimeout    time.Duration // default 5m
	TotalTimeout   time.Duration // 0 = unlimited
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	return o
}

// Dialer resolves and connects to the allowed target immediately before
// the relay starts, so that any DNS-backed allow/block decision reflects
// a fresh answer (spec.md §4.6(2): "connect is subject to DNS TTL").
type Dialer func(ctx context.Context) (net.Conn, error)

// Relay dials the target via dial and pumps bytes between tunnel and the
// target connection until both directions finish. tunnel is typically a
// WebSocket message stream adapted to net.Conn by C9 (wsupgrade).
//
// Returns nil on a clean close (both sides saw EOF) or a *gatewayerr.Error
// describing the failure kind the caller (C9) should map onto a WebSocket
// close code.
func Relay(ctx context.Context, tunnel net.Conn, dial Dialer, opts Options) error {
	opts = opts.withDefaults()

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	target, err := dial(connectCtx)
	cancel()
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindUpstreamUnavailable, "connect-failed", err)
	}
	defer target.Close()

	relayCtx := ctx
	var totalCancel context.CancelFunc
	if opts.TotalTimeout > 0 {
		relayCtx, totalCancel = context.WithTimeout(ctx, opts.TotalTimeout)
		defer totalCancel()
	}

	return pumpBothDirections(relayCtx, tunnel, target, opts)
}

// pumpBothDirections runs the two independent pumps (client→target,
// target→client) per spec.md §4.6's relay step, half-closing the far side
// on EOF and returning the first real error either pump saw.
func pumpBothDirections(ctx context.Context, tunnel, target net.Conn, opts Options) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- pump(ctx, target, tunnel, opts.IdleTimeout, func() error {
			return closeWrite(target)
		})
	}()
	go func() {
		errCh <- pump(ctx, tunnel, target, opts.IdleTimeout, func() error {
			return closeWrite(tunnel)
		})
	}()

	var firstErr error
	for range 2 {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	_ = tunnel.Close()
	_ = target.Close()

	if firstErr == nil {
		return nil
	}
	if errors.As(firstErr, new(*gatewayerr.Error)) {
		return firstErr
	}
	return gatewayerr.Wrap(gatewayerr.KindUpstreamUnavailable, "relay-error", firstErr)
}

// pump copies from src to dst until src returns EOF or either side errors,
// resetting the idle deadline on every successful read. On a clean EOF it
// half-closes dst via onEOF and returns nil.
func pump(ctx context.Context, dst io.Writer, src net.Conn, idleTimeout time.Duration, onEOF func() error) error {
	bufPtr := relayBufPool.Get()
	buf := *bufPtr
	defer relayBufPool.Put(bufPtr)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if idleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return onEOF()
			}
			return err
		}
	}
}

// closeWrite half-closes the write side of conn if it supports it
// (net.TCPConn does); for any other conn it does nothing and returns nil.
func closeWrite(conn net.Conn) error {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}
