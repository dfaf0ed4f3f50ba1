package dnsresolve

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/webegress/gateway/internal/dnswire"
)

var errNoUpstreams = errors.New("dnsresolve: no upstream servers available")

// classifyForCache inspects a wire-format response to decide its EntryType
// and TTL-to-cache, mirroring RFC 2308 negative-caching guidance: positive
// responses use the minimum answer TTL, NXDOMAIN/NODATA/SERVFAIL fall back
// to the configured negative TTL (applied by Cache.Set's capTTL).
func classifyForCache(resp []byte) (EntryType, int) {
	pkt, err := dnswire.ParsePacket(resp)
	if err != nil {
		return EntryPositive, 0
	}

	rcode := dnswire.RCodeFromFlags(pkt.Header.Flags)
	switch rcode {
	case dnswire.RCodeServFail:
		return EntryServfail, 30
	case dnswire.RCodeNXDomain:
		return EntryNXDomain, 300
	case dnswire.RCodeNoError:
		if len(pkt.Answers) == 0 {
			return EntryNoData, 300
		}
		return EntryPositive, minTTL(pkt.Answers)
	default:
		return EntryPositive, 0
	}
}

func minTTL(answers []dnswire.Record) int {
	best := -1
	for _, rr := range answers {
		if rr.TTL == 0 {
			continue
		}
		if best < 0 || int(rr.TTL) < best {
			best = int(rr.TTL)
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// adjustTTLs decrements every record's TTL in a cached wire-format response
// by the elapsed cache age, walking the message directly rather than doing
// a full parse/remarshal round-trip. Mirrors the teacher's approach in
// forwarding_resolver.go, adapted to dnswire's name-decoding helpers.
func adjustTTLs(respBytes []byte, age time.Duration) []byte {
	if len(respBytes) < dnswire.HeaderSize || age <= 0 {
		return respBytes
	}
	ageSeconds := uint32(age.Seconds())
	if ageSeconds == 0 {
		return respBytes
	}

	adjusted := make([]byte, len(respBytes))
	copy(adjusted, respBytes)

	qdcount := binary.BigEndian.Uint16(adjusted[4:6])
	ancount := binary.BigEndian.Uint16(adjusted[6:8])
	nscount := binary.BigEndian.Uint16(adjusted[8:10])
	arcount := binary.BigEndian.Uint16(adjusted[10:12])

	off := dnswire.HeaderSize
	for range int(qdcount) {
		if _, err := dnswire.DecodeName(adjusted, &off); err != nil || off+4 > len(adjusted) {
			return respBytes
		}
		off += 4
	}

	total := int(ancount) + int(nscount) + int(arcount)
	for range total {
		if _, err := dnswire.DecodeName(adjusted, &off); err != nil || off+10 > len(adjusted) {
			return respBytes
		}
		rrType := binary.BigEndian.Uint16(adjusted[off : off+2])
		off += 4 // TYPE + CLASS

		if rrType != uint16(dnswire.TypeOPT) {
			oldTTL := binary.BigEndian.Uint32(adjusted[off : off+4])
			newTTL := oldTTL
			if ageSeconds >= oldTTL {
				newTTL = 1
			} else {
				newTTL = oldTTL - ageSeconds
			}
			binary.BigEndian.PutUint32(adjusted[off:off+4], newTTL)
		}
		off += 4 // TTL

		if off+2 > len(adjusted) {
			return respBytes
		}
		rdlen := int(binary.BigEndian.Uint16(adjusted[off : off+2]))
		off += 2
		if off+rdlen > len(adjusted) {
			return respBytes
		}
		off += rdlen
	}

	return adjusted
}
