// Package metrics collects the counters spec.md §6 exposes at /metrics:
// http_requests_total, tcp_proxy_active, dns_queries_total{…},
// mux_streams_active. Modeled on the teacher's internal/server.DNSStats —
// a struct of atomic counters constructed once and injected into the
// handlers that observe events, with a Snapshot/WriteTo method instead of
// a package-global registry.
package metrics

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// dnsLabelKey identifies one dns_queries_total{source,rcode} series.
type dnsLabelKey struct {
	source string
	rcode  string
}

// Registry holds every counter/gauge the gateway exposes. All fields are
// safe for concurrent use; construct one with New and share it by
// injection across internal/httpapi and internal/wsupgrade call sites.
type Registry struct {
	httpRequestsTotal atomic.Uint64
	tcpProxyActive    atomic.Int64
	muxStreamsActive  atomic.Int64

	dnsMu    sync.Mutex
	dnsTotal map[dnsLabelKey]uint64

	startTime time.Time
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		dnsTotal:  map[dnsLabelKey]uint64{},
		startTime: time.Now(),
	}
}

// IncHTTPRequest records one served HTTP request.
func (r *Registry) IncHTTPRequest() {
	r.httpRequestsTotal.Add(1)
}

// TCPProxyOpened/TCPProxyClosed track concurrently-relayed /tcp sessions
// (C6), incremented/decremented at the wsupgrade edge around tcpproxy.Relay.
func (r *Registry) TCPProxyOpened() { r.tcpProxyActive.Add(1) }
func (r *Registry) TCPProxyClosed() { r.tcpProxyActive.Add(-1) }

// MuxStreamOpened/MuxStreamClosed are called once per /tcp-mux session at
// the wsupgrade edge around mux.Session.Serve, so mux_streams_active counts
// open mux sessions; streams multiplexed inside a session are not counted.
func (r *Registry) MuxStreamOpened() { r.muxStreamsActive.Add(1) }
func (r *Registry) MuxStreamClosed() { r.muxStreamsActive.Add(-1) }

// IncDNSQuery records one DNS query outcome, labeled by Result.Source
// ("cache", "upstream", "coalesced", "rejected", "rate-limited") and the
// response's RCODE name, mirroring dnsresolve.Result's own vocabulary.
func (r *Registry) IncDNSQuery(source, rcode string) {
	key := dnsLabelKey{source: source, rcode: rcode}
	r.dnsMu.Lock()
	r.dnsTotal[key]++
	r.dnsMu.Unlock()
}

// WriteTo renders the current state as Prometheus text exposition format
// (the teacher has no Prometheus exporter; this format is the ecosystem
// default gopsutil's own consumers expect, and is what spec.md §6 names).
func (r *Registry) WriteTo(w io.Writer) error {
	var errOut error
	writeLine := func(format string, args ...any) {
		if errOut != nil {
			return
		}
		_, errOut = fmt.Fprintf(w, format+"\n", args...)
	}

	writeLine("# HELP http_requests_total Total HTTP requests served.")
	writeLine("# TYPE http_requests_total counter")
	writeLine("http_requests_total %d", r.httpRequestsTotal.Load())

	writeLine("# HELP tcp_proxy_active Currently active single-stream TCP proxy relays.")
	writeLine("# TYPE tcp_proxy_active gauge")
	writeLine("tcp_proxy_active %d", r.tcpProxyActive.Load())

	writeLine("# HELP mux_streams_active Currently open TCP mux sessions.")
	writeLine("# TYPE mux_streams_active gauge")
	writeLine("mux_streams_active %d", r.muxStreamsActive.Load())

	writeLine("# HELP dns_queries_total Total DNS queries by source and response code.")
	writeLine("# TYPE dns_queries_total counter")
	r.dnsMu.Lock()
	keys := make([]dnsLabelKey, 0, len(r.dnsTotal))
	for k := range r.dnsTotal {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].rcode < keys[j].rcode
	})
	for _, k := range keys {
		writeLine(`dns_queries_total{source=%q,rcode=%q} %d`, k.source, k.rcode, r.dnsTotal[k])
	}
	r.dnsMu.Unlock()

	writeLine("# HELP process_uptime_seconds Seconds since process start.")
	writeLine("# TYPE process_uptime_seconds gauge")
	writeLine("process_uptime_seconds %.0f", time.Since(r.startTime).Seconds())

	writeLine("# HELP process_goroutines Current number of goroutines.")
	writeLine("# TYPE process_goroutines gauge")
	writeLine("process_goroutines %d", runtime.NumGoroutine())

	if vm, err := mem.VirtualMemory(); err == nil {
		writeLine("# HELP system_memory_used_bytes System memory in use.")
		writeLine("# TYPE system_memory_used_bytes gauge")
		writeLine("system_memory_used_bytes %d", vm.Used)
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		writeLine("# HELP system_cpu_used_percent System-wide CPU utilization.")
		writeLine("# TYPE system_cpu_used_percent gauge")
		writeLine("system_cpu_used_percent %.2f", pct[0])
	}

	return errOut
}

// HostStats is a narrow host snapshot in the shape of the teacher's
// handlers.Stats; no HTTP endpoint currently includes it in a response.
type HostStats struct {
	UptimeSeconds int64
	NumCPU        int
}

// Snapshot returns a point-in-time view for handlers that need individual
// fields rather than the full text exposition.
func (r *Registry) Snapshot() HostStats {
	return HostStats{
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
		NumCPU:        runtime.NumCPU(),
	}
}
