package dnsresolve

import (
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/sampleuv"
)

// recoveryDuration is how long a failed upstream is skipped before being
// retried, mirroring the teacher's one-hour cooldown.
const recoveryDuration = time.Hour

// UpstreamKind distinguishes how an upstream address is reached.
type UpstreamKind int

const (
	UpstreamDoH UpstreamKind = iota // HTTPS URL, RFC 8484 wire format over POST
	UpstreamUDP                     // ip:port, classic UDP/TCP-53
)

// Upstream is one configured resolution target.
type Upstream struct {
	Address string // "https://dns.example/dns-query" or "1.1.1.1:53"
	Kind    UpstreamKind
	Weight  float64 // relative selection weight; <= 0 treated as 1
}

// ParseUpstream classifies a configured upstream address string.
func ParseUpstream(addr string, weight float64) Upstream {
	if weight <= 0 {
		weight = 1
	}
	if strings.HasPrefix(addr, "https://") || strings.HasPrefix(addr, "http://") {
		return Upstream{Address: addr, Kind: UpstreamDoH, Weight: weight}
	}
	return Upstream{Address: addr, Kind: UpstreamUDP, Weight: weight}
}

// UpstreamSet tracks health state across a fixed ordered list of upstreams
// and supports both in-order failover and optional weighted-random
// selection among currently-healthy upstreams.
type UpstreamSet struct {
	upstreams []Upstream

	mu       sync.Mutex
	failedAt map[string]time.Time
}

func NewUpstreamSet(upstreams []Upstream) *UpstreamSet {
	if len(upstreams) == 0 {
		upstreams = []Upstream{ParseUpstream("1.1.1.1:53", 1)}
	}
	return &UpstreamSet{
		upstreams: upstreams,
		failedAt:  map[string]time.Time{},
	}
}

// Ordered returns the upstreams to try, starting from a weighted-random
// pick among healthy upstreams and falling back to configuration order for
// the rest (spec.md §4.5(4): "try upstreams in configured order").
func (s *UpstreamSet) Ordered() []Upstream {
	healthy := make([]Upstream, 0, len(s.upstreams))
	for _, u := range s.upstreams {
		if s.canTry(u.Address) {
			healthy = append(healthy, u)
		}
	}
	if len(healthy) == 0 {
		s.resetAll()
		return append([]Upstream{}, s.upstreams...)
	}

	first := s.weightedPick(healthy)
	out := make([]Upstream, 0, len(s.upstreams))
	out = append(out, first)
	for _, u := range s.upstreams {
		if u.Address != first.Address {
			out = append(out, u)
		}
	}
	return out
}

// weightedPick samples one upstream proportional to Weight using gonum's
// weighted-without-replacement sampler, falling back to the first healthy
// entry if every weight collapses to zero.
func (s *UpstreamSet) weightedPick(healthy []Upstream) Upstream {
	if len(healthy) == 1 {
		return healthy[0]
	}
	weights := make([]float64, len(healthy))
	total := 0.0
	for i, u := range healthy {
		w := u.Weight
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return healthy[0]
	}

	sampler := sampleuv.NewWeighted(weights, nil)
	picked, ok := sampler.Take()
	if !ok {
		return healthy[0]
	}
	return healthy[picked]
}

func (s *UpstreamSet) canTry(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	failedAt, ok := s.failedAt[addr]
	if !ok {
		return true
	}
	if time.Since(failedAt) >= recoveryDuration {
		delete(s.failedAt, addr)
		return true
	}
	return false
}

func (s *UpstreamSet) MarkFailed(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failedAt[addr]; !ok {
		s.failedAt[addr] = time.Now()
	}
}

func (s *UpstreamSet) MarkHealthy(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failedAt, addr)
}

func (s *UpstreamSet) resetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedAt = map[string]time.Time{}
}
