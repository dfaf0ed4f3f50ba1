package dnsresolve

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/webegress/gateway/internal/dnswire"
	"github.com/webegress/gateway/internal/ipclassify"
)

// Config holds the DNS_* environment-sourced knobs spec.md §4.5 names.
type Config struct {
	QPSPerIP            float64
	BurstPerIP          int
	AllowAnyQType       bool
	AllowPrivateAnswers bool
	AllowPrivatePTR     bool
	UpstreamTimeout     time.Duration
	CacheMaxEntries     int
	CacheMaxTTL         time.Duration
	CacheNegativeTTL    time.Duration
	MaxQueryBytes       int
	MaxResponseBytes    int
}

// Result is what Resolve returns to the HTTP handler (C4/C5 boundary).
type Result struct {
	ResponseBytes []byte
	Source        string // "cache", "upstream", "coalesced", "rejected", "rate-limited"
}

// Resolver implements spec.md §4.5's resolve(query, clientIp) algorithm:
// admission, policy, cache, upstream round-trip with failover, post-filter,
// cache insert, and a response size cap.
type Resolver struct {
	cfg Config

	buckets    *TokenBuckets
	cache      *Cache
	upstreams  *UpstreamSet
	httpClient *http.Client
	group      singleflight.Group
}

func NewResolver(cfg Config, upstreams []Upstream) *Resolver {
	return &Resolver{
		cfg:        cfg,
		buckets:    NewTokenBuckets(cfg.QPSPerIP, cfg.BurstPerIP, 65536, 60*time.Second),
		cache:      NewCache(cfg.CacheMaxEntries, cfg.CacheMaxTTL, cfg.CacheNegativeTTL),
		upstreams:  NewUpstreamSet(upstreams),
		httpClient: defaultHTTPClient(),
	}
}

// Cache exposes the resolver's answer cache so callers can schedule
// maintenance (e.g. internal/scheduler's periodic PruneExpired).
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve runs a raw wire-format DNS query through the full pipeline.
func (r *Resolver) Resolve(ctx context.Context, rawQuery []byte, clientIP string) (Result, error) {
	if len(rawQuery) > r.cfg.MaxQueryBytes && r.cfg.MaxQueryBytes > 0 {
		return r.servfailRaw(rawQuery), nil
	}

	// 1. Admission.
	if !r.buckets.Allow(clientIP) {
		res := r.servfailRaw(rawQuery)
		res.Source = "rate-limited"
		return res, nil
	}

	q, err := dnswire.ParseDnsQuery(rawQuery)
	if err != nil {
		return r.servfailRaw(rawQuery), nil
	}

	// 2. Policy: QTYPE allow-list.
	if !r.cfg.AllowAnyQType && !dnswire.AllowedQTypes[dnswire.RecordType(q.QType)] {
		resp, buildErr := dnswire.BuildErrorResponse(q, dnswire.RCodeRefused)
		if buildErr != nil {
			return r.servfailRaw(rawQuery), nil
		}
		return Result{ResponseBytes: resp, Source: "rejected"}, nil
	}

	key := CacheKey{QName: q.QName, QType: q.QType, QClass: q.QClass}

	// 3. Cache.
	if cached, age, ok, _ := r.cache.GetWithAge(key); ok {
		adjusted := adjustTTLs(cached, age)
		_ = dnswire.PatchTransactionID(adjusted, q.ID)
		return Result{ResponseBytes: adjusted, Source: "cache"}, nil
	}

	// 4-6. Upstream round-trip (singleflight-coalesced), post-filter, cache insert.
	v, err, shared := r.group.Do(key.QName+"|"+strconv.Itoa(int(key.QType)), func() (any, error) {
		return r.queryAndCache(ctx, key, q, rawQuery)
	})
	if err != nil {
		return r.servfailRaw(rawQuery), nil
	}
	resp := v.([]byte)
	out := make([]byte, len(resp))
	copy(out, resp)
	_ = dnswire.PatchTransactionID(out, q.ID)

	// 7. Response size cap.
	if r.cfg.MaxResponseBytes > 0 && len(out) > r.cfg.MaxResponseBytes {
		return r.servfailRaw(rawQuery), nil
	}

	source := "upstream"
	if shared {
		source = "coalesced"
	}
	return Result{ResponseBytes: out, Source: source}, nil
}

func (r *Resolver) queryAndCache(ctx context.Context, key CacheKey, q dnswire.ParsedQuery, rawQuery []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.UpstreamTimeout)
	defer cancel()

	// Normalize the transaction ID to 0 so cached bytes are shared across
	// clients; the caller patches its own ID back in afterward.
	normalizedQuery := make([]byte, len(rawQuery))
	copy(normalizedQuery, rawQuery)
	if len(normalizedQuery) >= 2 {
		normalizedQuery[0], normalizedQuery[1] = 0, 0
	}

	var lastErr error
	for _, u := range r.upstreams.Ordered() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := queryUpstream(ctx, r.httpClient, u, normalizedQuery)
		if err != nil {
			lastErr = err
			r.upstreams.MarkFailed(u.Address)
			continue
		}
		r.upstreams.MarkHealthy(u.Address)

		filtered, reason, err := dnswire.FilterDnsResponse(resp, dnswire.FilterDnsResponsePolicy{
			AllowPrivate:    r.cfg.AllowPrivateAnswers,
			AllowPrivatePTR: r.cfg.AllowPrivatePTR,
			IsPublic:        ipclassify.IsPublicLiteral,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if reason != dnswire.RejectNone {
			rejected, buildErr := dnswire.BuildErrorResponse(q, dnswire.RCodeRefused)
			if buildErr != nil {
				return nil, buildErr
			}
			return rejected, nil
		}

		r.storeInCache(key, filtered)
		return filtered, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errNoUpstreams
}

func (r *Resolver) storeInCache(key CacheKey, resp []byte) {
	entryType, ttl := classifyForCache(resp)
	if ttl <= 0 {
		return
	}
	r.cache.Set(key, resp, time.Duration(ttl)*time.Second, entryType)
}

func (r *Resolver) servfailRaw(rawQuery []byte) Result {
	id := uint16(0)
	if len(rawQuery) >= 2 {
		id = uint16(rawQuery[0])<<8 | uint16(rawQuery[1])
	}
	q, err := dnswire.ParseDnsQuery(rawQuery)
	if err != nil {
		q = dnswire.ParsedQuery{ID: id}
	}
	resp, buildErr := dnswire.BuildErrorResponse(q, dnswire.RCodeServFail)
	if buildErr != nil {
		return Result{ResponseBytes: nil, Source: "rejected"}
	}
	return Result{ResponseBytes: resp, Source: "rejected"}
}
