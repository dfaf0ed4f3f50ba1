package dnsresolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webegress/gateway/internal/dnswire"
)

func TestTokenBuckets_BurstThenDeny(t *testing.T) {
	b := NewTokenBuckets(1, 2, 100, time.Minute)
	assert.True(t, b.Allow("1.2.3.4"))
	assert.True(t, b.Allow("1.2.3.4"))
	assert.False(t, b.Allow("1.2.3.4"))
}

func TestTokenBuckets_DisabledWhenNonPositive(t *testing.T) {
	b := NewTokenBuckets(0, 0, 100, time.Minute)
	for range 1000 {
		assert.True(t, b.Allow("1.2.3.4"))
	}
}

func TestCache_SetGetExpiry(t *testing.T) {
	c := NewCache(10, time.Hour, time.Minute)
	key := CacheKey{QName: "example.com", QType: 1, QClass: 1}
	c.Set(key, []byte("resp"), 50*time.Millisecond, EntryPositive)

	v, _, ok, _ := c.GetWithAge(key)
	require.True(t, ok)
	assert.Equal(t, []byte("resp"), v)

	time.Sleep(80 * time.Millisecond)
	_, _, ok, _ = c.GetWithAge(key)
	assert.False(t, ok)
}

func TestCache_EvictsLRUBeyondCapacity(t *testing.T) {
	c := NewCache(1, time.Hour, time.Minute)
	c.Set(CacheKey{QName: "a.com"}, []byte("a"), time.Hour, EntryPositive)
	c.Set(CacheKey{QName: "b.com"}, []byte("b"), time.Hour, EntryPositive)

	_, _, ok, _ := c.GetWithAge(CacheKey{QName: "a.com"})
	assert.False(t, ok)
	_, _, ok, _ = c.GetWithAge(CacheKey{QName: "b.com"})
	assert.True(t, ok)
}

func buildAQuery(t *testing.T, qname string) []byte {
	t.Helper()
	pkt := dnswire.Packet{
		Header:    dnswire.Header{ID: 99, Flags: dnswire.RDFlag, QDCount: 1},
		Questions: []dnswire.Question{{Name: qname, Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)
	return b
}

func buildAResponse(t *testing.T, qname string, ip []byte, ttl uint32) []byte {
	t.Helper()
	pkt := dnswire.Packet{
		Header: dnswire.Header{
			ID:    0,
			Flags: dnswire.QRFlag | dnswire.RDFlag | dnswire.RAFlag,
		},
		Questions: []dnswire.Question{{Name: qname, Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
		Answers: []dnswire.Record{
			{Name: qname, Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN), TTL: ttl, Data: ip},
		},
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)
	return b
}

func TestResolver_ResolvesViaDoHUpstreamAndCaches(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/dns-message")
		w.Write(buildAResponse(t, "example.com", []byte{93, 184, 216, 34}, 300))
	}))
	defer server.Close()

	r := NewResolver(Config{
		QPSPerIP:         100,
		BurstPerIP:       100,
		UpstreamTimeout:  2 * time.Second,
		CacheMaxEntries:  100,
		CacheMaxTTL:      time.Hour,
		CacheNegativeTTL: time.Minute,
		MaxQueryBytes:    4096,
		MaxResponseBytes: 65535,
	}, []Upstream{ParseUpstream(server.URL, 1)})

	query := buildAQuery(t, "example.com")

	result, err := r.Resolve(context.Background(), query, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "upstream", result.Source)
	pkt, err := dnswire.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	require.Len(t, pkt.Answers, 1)
	assert.Equal(t, uint16(99), pkt.Header.ID)

	result2, err := r.Resolve(context.Background(), query, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "cache", result2.Source)
	assert.Equal(t, 1, calls)
}

func TestResolver_RateLimitedReturnsServfailWithoutUpstream(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(buildAResponse(t, "example.com", []byte{1, 2, 3, 4}, 60))
	}))
	defer server.Close()

	r := NewResolver(Config{
		QPSPerIP:         1,
		BurstPerIP:       1,
		UpstreamTimeout:  time.Second,
		CacheMaxEntries:  10,
		CacheMaxTTL:      time.Hour,
		CacheNegativeTTL: time.Minute,
		MaxQueryBytes:    4096,
		MaxResponseBytes: 65535,
	}, []Upstream{ParseUpstream(server.URL, 1)})

	query := buildAQuery(t, "example.com")
	_, err := r.Resolve(context.Background(), query, "10.0.0.2")
	require.NoError(t, err)

	result, err := r.Resolve(context.Background(), query, "10.0.0.2")
	require.NoError(t, err)
	pkt, err := dnswire.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeServFail, dnswire.RCodeFromFlags(pkt.Header.Flags))
	assert.Equal(t, 1, calls)
}

func TestResolver_RejectsDisallowedQType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be contacted for a rejected QTYPE")
	}))
	defer server.Close()

	r := NewResolver(Config{
		QPSPerIP:         100,
		BurstPerIP:       100,
		UpstreamTimeout:  time.Second,
		CacheMaxEntries:  10,
		CacheMaxTTL:      time.Hour,
		CacheNegativeTTL: time.Minute,
		MaxQueryBytes:    4096,
		MaxResponseBytes: 65535,
	}, []Upstream{ParseUpstream(server.URL, 1)})

	pkt := dnswire.Packet{
		Header:    dnswire.Header{ID: 1, Flags: dnswire.RDFlag, QDCount: 1},
		Questions: []dnswire.Question{{Name: "example.com", Type: 999, Class: uint16(dnswire.ClassIN)}},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	result, err := r.Resolve(context.Background(), raw, "10.0.0.3")
	require.NoError(t, err)
	parsed, err := dnswire.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeRefused, dnswire.RCodeFromFlags(parsed.Header.Flags))
}

func TestClassifyForCache(t *testing.T) {
	resp := buildAResponse(t, "example.com", []byte{1, 2, 3, 4}, 42)
	entryType, ttl := classifyForCache(resp)
	assert.Equal(t, EntryPositive, entryType)
	assert.Equal(t, 42, ttl)
}

func TestAdjustTTLs_DecrementsByAge(t *testing.T) {
	resp := buildAResponse(t, "example.com", []byte{1, 2, 3, 4}, 100)
	adjusted := adjustTTLs(resp, 40*time.Second)
	pkt, err := dnswire.ParsePacket(adjusted)
	require.NoError(t, err)
	require.Len(t, pkt.Answers, 1)
	assert.Equal(t, uint32(60), pkt.Answers[0].TTL)
}

func TestAdjustTTLs_FloorsAtOne(t *testing.T) {
	resp := buildAResponse(t, "example.com", []byte{1, 2, 3, 4}, 10)
	adjusted := adjustTTLs(resp, 40*time.Second)
	pkt, err := dnswire.ParsePacket(adjusted)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), pkt.Answers[0].TTL)
}
