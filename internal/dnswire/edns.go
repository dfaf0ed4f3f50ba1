package dnswire

// EDNS0 (RFC 6891) is carried as an OPT pseudo-record in the additional
// section. Its "Name" is always the root (.), its Class carries the
// requestor's UDP payload size, and its TTL field is repurposed to carry
// extended-RCODE/version/flags rather than a cache lifetime.

// EDNSInfo holds the fields extracted from an OPT record.
type EDNSInfo struct {
	UDPPayloadSize uint16
	ExtRCode       uint8
	Version        uint8
	DO             bool // DNSSEC OK bit
}

// ExtractOPT scans a packet's additional section for an OPT pseudo-record
// and decodes its fields directly from the struct-based Record, rather than
// through a separate record-header interface.
func ExtractOPT(p Packet) (EDNSInfo, bool) {
	for _, rr := range p.Additional {
		if RecordType(rr.Type) != TypeOPT {
			continue
		}
		ttl := rr.TTL
		info := EDNSInfo{
			UDPPayloadSize: rr.Class,
			ExtRCode:       uint8(ttl >> 24),
			Version:        uint8(ttl >> 16),
			DO:             (ttl & 0x8000) != 0,
		}
		return info, true
	}
	return EDNSInfo{}, false
}

// BuildOPT constructs an OPT pseudo-record advertising udpPayloadSize with
// no extended flags set, suitable for a minimal EDNS0-aware response.
func BuildOPT(udpPayloadSize uint16) Record {
	return Record{
		Name:  "",
		Type:  uint16(TypeOPT),
		Class: udpPayloadSize,
		TTL:   0,
		Data:  []byte{},
	}
}
