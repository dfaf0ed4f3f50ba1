package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_WriteToIncludesCounters(t *testing.T) {
	r := New()
	r.IncHTTPRequest()
	r.IncHTTPRequest()
	r.TCPProxyOpened()
	r.MuxStreamOpened()
	r.MuxStreamOpened()
	r.MuxStreamClosed()
	r.IncDNSQuery("cache", "NOERROR")
	r.IncDNSQuery("upstream", "NXDOMAIN")
	r.IncDNSQuery("cache", "NOERROR")

	var sb strings.Builder
	err := r.WriteTo(&sb)
	assert.NoError(t, err)

	out := sb.String()
	assert.Contains(t, out, "http_requests_total 2")
	assert.Contains(t, out, "tcp_proxy_active 1")
	assert.Contains(t, out, "mux_streams_active 1")
	assert.Contains(t, out, `dns_queries_total{source="cache",rcode="NOERROR"} 2`)
	assert.Contains(t, out, `dns_queries_total{source="upstream",rcode="NXDOMAIN"} 1`)
}

func TestRegistry_ActiveGaugesGoNegativeNeverPanics(t *testing.T) {
	r := New()
	r.TCPProxyClosed()
	r.MuxStreamClosed()

	var sb strings.Builder
	assert.NoError(t, r.WriteTo(&sb))
	assert.Contains(t, sb.String(), "tcp_proxy_active -1")
}

func TestRegistry_Snapshot(t *testing.T) {
	r := New()
	snap := r.Snapshot()
	assert.GreaterOrEqual(t, snap.NumCPU, 1)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, int64(0))
}
