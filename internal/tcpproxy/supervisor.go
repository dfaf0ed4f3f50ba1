package tcpproxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/gatewayerr"
	"github.com/webegress/gateway/internal/hostpolicy"
)

// Target identifies the already-policy-evaluated connection target from
// C3 (EvaluateTCPHostPolicy's Decision.Target).
type Target struct {
	hostpolicy.Target
	Port int
}

// Resolver is the minimal hostname-resolution contract the supervisor
// needs to re-resolve a DNS target immediately before each connect
// attempt, kept narrow so production code can supply net.DefaultResolver
// and tests can supply a stub.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Open runs spec.md §4.6's opening sequence: admission check, then returns
// a Dialer that re-resolves (for DNS targets) and re-applies egress policy
// to the fresh answer before connecting, so every connect attempt sees a
// current answer rather than a stale one cached at policy-evaluation time.
//
// The caller is responsible for calling admission.Release(clientIP) exactly
// once when the relay (Relay, below) finishes, regardless of outcome.
func Open(tr *admission.Tracker, clientIP string, target Target, policy *hostpolicy.Policy) (Dialer, error) {
	if !tr.TryAcquire(clientIP) {
		return nil, gatewayerr.New(gatewayerr.KindResourceExhausted, "admission-limit-exceeded")
	}

	dial := func(ctx context.Context) (net.Conn, error) {
		return DialTarget(ctx, target, policy)
	}
	return dial, nil
}

// DialTarget re-resolves (for DNS targets) and re-applies egress policy to
// the fresh answer before connecting — the same DNS-TTL-fresh dial logic
// Open's Dialer uses, exported so other entry points (C9's mux dial
// adapter) with an already-admitted, already-policy-evaluated open request
// can reuse it without duplicating resolveTarget.
func DialTarget(ctx context.Context, target Target, policy *hostpolicy.Policy) (net.Conn, error) {
	hostport, err := resolveTarget(ctx, target, policy, net.DefaultResolver)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", hostport)
}

// resolveTarget produces a dial-ready "host:port" string, re-resolving and
// re-evaluating policy for DNS targets (spec.md §4.6(2) and the DNS-rebinding
// defense in §4.3(4)).
func resolveTarget(ctx context.Context, target Target, policy *hostpolicy.Policy, resolver Resolver) (string, error) {
	if target.Kind == hostpolicy.TargetIP {
		return net.JoinHostPort(target.IP, strconv.Itoa(target.Port)), nil
	}

	addrs, err := resolver.LookupHost(ctx, target.Hostname)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.KindPolicyDenied, "dns-resolution-failed", err)
	}

	decision := hostpolicy.EvaluateResolvedIPs(target.Hostname, addrs, policy)
	if !decision.Allowed {
		return "", gatewayerr.New(gatewayerr.KindPolicyDenied, string(decision.Reason))
	}

	chosen := decision.Target.ResolvedIPs[0]
	return net.JoinHostPort(chosen, strconv.Itoa(target.Port)), nil
}

// ParseBracketedTarget parses a "target=host:port" value per spec.md
// §4.9(4): IPv6 literals must be bracketed ("[::1]:80"); an unbracketed
// host containing ':' is ambiguous and rejected.
func ParseBracketedTarget(raw string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return "", 0, gatewayerr.Wrap(gatewayerr.KindInvalidClientInput, "malformed-target", err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return "", 0, gatewayerr.New(gatewayerr.KindInvalidClientInput, fmt.Sprintf("invalid target port: %q", portStr))
	}
	return host, p, nil
}
