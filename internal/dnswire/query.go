package dnswire

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Size limits enforced by the codec independent of section-count limits,
// guarding against oversized DoH bodies and upstream responses (spec.md §4.4/§4.5).
const (
	DefaultMaxQueryBytes    = 4096
	DefaultMaxResponseBytes = 65535
)

// ErrMalformedQuery is returned (wrapping ErrWireFormat) for any query
// that fails the structural checks in ParseDnsQuery.
var ErrMalformedQuery = fmt.Errorf("%w: malformed-query", ErrWireFormat)

// ParsedQuery is the minimal shape the resolver needs from an inbound query.
type ParsedQuery struct {
	ID     uint16
	QName  string
	QType  uint16
	QClass uint16
}

// ParseDohGetParam decodes the `dns` query parameter of an RFC 8484 GET
// request: strict, unpadded base64url. Padding characters are rejected
// rather than tolerated, matching the wire format's expectation that
// DoH GET clients omit padding entirely.
func ParseDohGetParam(value string, maxQueryBytes int) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty dns query parameter", ErrWireFormat)
	}
	if strings.ContainsRune(value, '=') {
		return nil, fmt.Errorf("%w: dns query parameter must not be padded", ErrWireFormat)
	}
	decoded, err := base64.RawURLEncoding.Strict().DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64url dns query parameter: %v", ErrWireFormat, err)
	}
	if maxQueryBytes > 0 && len(decoded) > maxQueryBytes {
		return nil, fmt.Errorf("%w: dns query exceeds maximum size (%d > %d)", ErrWireFormat, len(decoded), maxQueryBytes)
	}
	return decoded, nil
}

// ParseDnsQuery validates and extracts the question from a raw DNS query
// message, enforcing spec.md §4.4's structural rules beyond generic
// wire-format validity: exactly one question, QCLASS=IN, and (via
// ParseQuestion) no compression pointers in QNAME.
func ParseDnsQuery(msg []byte) (ParsedQuery, error) {
	off := 0
	header, err := ParseHeader(msg, &off)
	if err != nil {
		return ParsedQuery{}, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if header.QDCount != 1 {
		return ParsedQuery{}, fmt.Errorf("%w: query must have exactly one question, got %d", ErrMalformedQuery, header.QDCount)
	}

	q, err := ParseQuestion(msg, &off)
	if err != nil {
		return ParsedQuery{}, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if q.Class != uint16(ClassIN) {
		return ParsedQuery{}, fmt.Errorf("%w: unsupported QCLASS %d, only IN is accepted", ErrMalformedQuery, q.Class)
	}
	if len(q.Name) > 255 {
		return ParsedQuery{}, fmt.Errorf("%w: QNAME length %d exceeds 255", ErrMalformedQuery, len(q.Name))
	}
	for _, label := range strings.Split(q.Name, ".") {
		if len(label) > 63 {
			return ParsedQuery{}, fmt.Errorf("%w: QNAME label %q exceeds 63 bytes", ErrMalformedQuery, label)
		}
	}

	// Tail after the question (any RRs) is deliberately ignored: the
	// resolver only forwards the question onward.
	return ParsedQuery{ID: header.ID, QName: q.Name, QType: q.Type, QClass: q.Class}, nil
}

// RejectReason enumerates why FilterDnsResponse refused to return a
// filtered message.
type RejectReason string

const (
	RejectNone       RejectReason = ""
	RejectMalformed  RejectReason = "malformed-response"
	RejectPrivatePTR RejectReason = "private-ptr-rejected"
)

// IsPublicIP is the subset of ipclassify's contract FilterDnsResponse
// needs, injected to avoid an import cycle between dnswire and ipclassify.
type IsPublicIP func(ipLiteral string) bool

// FilterDnsResponsePolicy carries the knobs FilterDnsResponse consults.
type FilterDnsResponsePolicy struct {
	AllowPrivate    bool
	AllowPrivatePTR bool
	IsPublic        IsPublicIP
}

// FilterDnsResponse re-parses a resolved response and strips any A/AAAA
// answer RR whose address is not public (unless private addresses are
// allowed), per spec.md §4.4. If stripping empties ANCOUNT on an
// otherwise-successful response, the rcode is rewritten to NXDOMAIN so the
// result remains cacheable as a negative entry.
func FilterDnsResponse(msg []byte, policy FilterDnsResponsePolicy) ([]byte, RejectReason, error) {
	pkt, err := ParsePacket(msg)
	if err != nil {
		return nil, RejectMalformed, fmt.Errorf("%w: %v", ErrWireFormat, err)
	}

	if !policy.AllowPrivatePTR {
		for _, q := range pkt.Questions {
			if q.Type != uint16(TypePTR) {
				continue
			}
			addr, ok := ptrQueryAddress(q.Name)
			if !ok {
				// Not a well-formed in-addr.arpa/ip6.arpa reverse name at
				// all: nothing to filter on address, so let it through.
				continue
			}
			isPublic := policy.IsPublic != nil && policy.IsPublic(addr)
			if !isPublic {
				return nil, RejectPrivatePTR, nil
			}
		}
	}

	if !policy.AllowPrivate && policy.IsPublic != nil {
		filtered := make([]Record, 0, len(pkt.Answers))
		for _, rr := range pkt.Answers {
			if lit, ok := addrLiteral(rr); ok {
				if !policy.IsPublic(lit) {
					continue
				}
			}
			filtered = append(filtered, rr)
		}
		pkt.Answers = filtered
	}

	if len(pkt.Answers) == 0 && RCodeFromFlags(pkt.Header.Flags) == RCodeNoError {
		pkt.Header.Flags = (pkt.Header.Flags &^ RCodeMask) | uint16(RCodeNXDomain)
	}

	out, err := pkt.Marshal()
	if err != nil {
		return nil, RejectMalformed, fmt.Errorf("%w: %v", ErrWireFormat, err)
	}
	return out, RejectNone, nil
}

func addrLiteral(rr Record) (string, bool) {
	if ip, ok := rr.IPv4(); ok {
		return ip, true
	}
	if ip, ok := rr.IPv6(); ok {
		return ip, true
	}
	return "", false
}

// ptrQueryAddress reconstructs the IP address literal embedded in a PTR
// QNAME (spec.md §4.4), so FilterDnsResponse can classify it the same way
// it classifies A/AAAA answers rather than rejecting every reverse lookup
// regardless of the address it names.
func ptrQueryAddress(qname string) (string, bool) {
	qname = strings.TrimSuffix(qname, ".")
	switch {
	case strings.HasSuffix(qname, ".in-addr.arpa"):
		return ptrIPv4Address(strings.TrimSuffix(qname, ".in-addr.arpa"))
	case strings.HasSuffix(qname, ".ip6.arpa"):
		return ptrIPv6Address(strings.TrimSuffix(qname, ".ip6.arpa"))
	default:
		return "", false
	}
}

// ptrIPv4Address expects four dot-separated octet labels in reverse order
// (RFC 1035 §3.5), e.g. "4.3.2.1" for 1.2.3.4.
func ptrIPv4Address(labels string) (string, bool) {
	parts := strings.Split(labels, ".")
	if len(parts) != 4 {
		return "", false
	}
	octets := make([]string, 4)
	for i, l := range parts {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 || n > 255 {
			return "", false
		}
		octets[3-i] = l
	}
	return strings.Join(octets, "."), true
}

// ptrIPv6Address expects 32 single-hex-digit labels in reverse nibble order
// (RFC 3596 §2.5), reassembled into the fully-expanded colon-hex form.
func ptrIPv6Address(labels string) (string, bool) {
	parts := strings.Split(labels, ".")
	if len(parts) != 32 {
		return "", false
	}
	nibbles := make([]byte, 32)
	for i, l := range parts {
		if len(l) != 1 || !isHexDigit(l[0]) {
			return "", false
		}
		nibbles[31-i] = l[0]
	}
	var sb strings.Builder
	for i, c := range nibbles {
		sb.WriteByte(c)
		if i%4 == 3 && i != len(nibbles)-1 {
			sb.WriteByte(':')
		}
	}
	return sb.String(), true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// PatchTransactionID rewrites the 2-byte ID field of an already-marshaled
// DNS message in place, used by the resolver to stamp a cached response
// with the requesting client's transaction ID without a full re-parse.
func PatchTransactionID(msg []byte, id uint16) error {
	if len(msg) < 2 {
		return fmt.Errorf("%w: message too short to contain a transaction ID", ErrWireFormat)
	}
	msg[0] = byte(id >> 8)
	msg[1] = byte(id)
	return nil
}

// BuildErrorResponse constructs a minimal response to a parsed query
// carrying the given rcode and no answer records, used for SERVFAIL/REFUSED
// short-circuits and for replacing a refused upstream answer.
func BuildErrorResponse(q ParsedQuery, rcode RCode) ([]byte, error) {
	pkt := Packet{
		Header: Header{
			ID:    q.ID,
			Flags: QRFlag | RDFlag | uint16(rcode),
		},
		Questions: []Question{{Name: q.QName, Type: q.QType, Class: q.QClass}},
	}
	return pkt.Marshal()
}
