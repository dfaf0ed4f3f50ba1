// Package gatewayerr defines the error-kind taxonomy spec.md §7 describes
// and maps each kind onto the WebSocket close code (or HTTP status) an edge
// handler should use when it is the layer that finally has to answer the
// client. Lower layers return a plain wrapped error; only C9's upgrade
// dispatcher and the HTTP handlers consult this mapping.
package gatewayerr

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from spec.md §7 — a closed set describing WHY
// an operation failed, independent of the Go error type that carries it.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidClientInput
	KindPolicyDenied
	KindUpstreamUnavailable
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidClientInput:
		return "invalid-client-input"
	case KindPolicyDenied:
		return "policy-denied"
	case KindUpstreamUnavailable:
		return "upstream-unavailable"
	case KindResourceExhausted:
		return "resource-exhausted"
	default:
		return "internal"
	}
}

// WSCloseCode returns the RFC 6455 close code an upgraded connection should
// use when terminated for this reason.
func (k Kind) WSCloseCode() int {
	switch k {
	case KindInvalidClientInput:
		return 1007
	case KindPolicyDenied:
		return 1008
	case KindUpstreamUnavailable:
		return 1011
	case KindResourceExhausted:
		return 1013
	default:
		return 1011
	}
}

// HTTPStatus returns the pre-upgrade HTTP status code for this reason.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidClientInput:
		return 400
	case KindPolicyDenied:
		return 403
	case KindUpstreamUnavailable:
		return 502
	case KindResourceExhausted:
		return 429
	default:
		return 500
	}
}

// Error carries a Kind, a short machine-readable reason string (reported to
// the peer in an OPEN_ACK error or a pre-upgrade body), and an underlying
// cause for logs.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// As is a small convenience wrapper over errors.As for the common case of
// extracting the *Error from an error chain.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
