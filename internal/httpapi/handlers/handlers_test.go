package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webegress/gateway/internal/dnsresolve"
	"github.com/webegress/gateway/internal/dnswire"
	"github.com/webegress/gateway/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler() *Handler {
	resolver := dnsresolve.NewResolver(dnsresolve.Config{
		QPSPerIP:         1000,
		BurstPerIP:       1000,
		UpstreamTimeout:  2 * time.Second,
		CacheMaxEntries:  1024,
		CacheMaxTTL:      time.Hour,
		CacheNegativeTTL: time.Minute,
		MaxQueryBytes:    4096,
		MaxResponseBytes: 65535,
	}, []dnsresolve.Upstream{dnsresolve.ParseUpstream("127.0.0.1:1", 1)})

	return New(resolver, metrics.New(), BuildInfo{Name: "gatewayd", Version: "test", Commit: "abc123"}, "https://gw.example.com", NewSessionSigner("test-secret", time.Hour), &atomic.Bool{}, nil)
}

func runRequest(h gin.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	h(c)
	return w
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.Healthz, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestReadyz_ReflectsShutdownState(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.Readyz, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)

	h.ShuttingDown.Store(true)
	w = runRequest(h.Readyz, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestVersion_ReturnsBuildInfo(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.Version, http.MethodGet, "/version")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gatewayd")
	assert.Contains(t, w.Body.String(), "abc123")
}

func TestSession_IssuesEndpointsAndCookie(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.Session, http.MethodPost, "/session")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"tcp":"https://gw.example.com/tcp"`)
	assert.Contains(t, w.Body.String(), `"tcp-mux":"https://gw.example.com/tcp-mux"`)
	assert.Contains(t, w.Body.String(), `"cookie"`)
}

func TestSession_NoCookieWhenSigningDisabled(t *testing.T) {
	h := newTestHandler()
	h.SessionSigner = NewSessionSigner("", time.Hour)
	w := runRequest(h.Session, http.MethodPost, "/session")
	assert.NotContains(t, w.Body.String(), `"cookie"`)
}

func TestMetrics_WritesPrometheusText(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.Metrics, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestDNSQueryGet_RejectsMissingParam(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.DNSQueryGet, http.MethodGet, "/dns-query")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDNSQueryGet_RejectsMalformedBase64(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.DNSQueryGet, http.MethodGet, "/dns-query?dns=not!valid!base64")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDNSQueryGet_ValidQueryReachesResolver(t *testing.T) {
	h := newTestHandler()
	query, err := dnswire.Packet{
		Header:    dnswire.Header{ID: 42, Flags: dnswire.RDFlag, QDCount: 1},
		Questions: []dnswire.Question{{Name: "example.com.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
	}.Marshal()
	require.NoError(t, err)
	encoded := base64.RawURLEncoding.EncodeToString(query)

	w := runRequest(h.DNSQueryGet, http.MethodGet, "/dns-query?dns="+encoded)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/dns-message", w.Header().Get("Content-Type"))
}

func TestDNSJSON_RejectsMissingName(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.DNSJSON, http.MethodGet, "/dns-json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDNSJSON_DefaultsToTypeA(t *testing.T) {
	h := newTestHandler()
	w := runRequest(h.DNSJSON, http.MethodGet, "/dns-json?name=example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Question"`)
}

func TestSessionSigner_IssueAndVerifyRoundTrip(t *testing.T) {
	s := NewSessionSigner("secret", time.Minute)
	token := s.Issue()
	require.NotEmpty(t, token)
	assert.NoError(t, s.Verify(token))
}

func TestSessionSigner_VerifyRejectsTampering(t *testing.T) {
	s := NewSessionSigner("secret", time.Minute)
	token := s.Issue()
	tampered := token[:len(token)-1] + "x"
	assert.Error(t, s.Verify(tampered))
}

func TestSessionSigner_VerifyRejectsExpired(t *testing.T) {
	s := NewSessionSigner("secret", -time.Second)
	token := s.Issue()
	err := s.Verify(token)
	assert.ErrorIs(t, err, ErrSessionTokenExpired)
}
