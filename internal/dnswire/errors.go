// Package dnswire implements the DNS wire-format codec used by the
// recursive DNS façade (C4): parsing and encoding messages, extracting
// QNAME/QTYPE, and filtering answer records against egress policy.
//
// Standards Compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 1034: Domain Names - Concepts and Facilities
//   - RFC 2308: Negative Caching of DNS Queries (NXDOMAIN, NODATA)
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA records)
//   - RFC 6891: Extension Mechanisms for DNS (EDNS, OPT records)
//   - RFC 8484: DNS Queries over HTTPS (DoH wire format)
//
// Record model: every resource record, including the EDNS OPT
// pseudo-record, is represented by the single Record struct in record.go.
// There is no separate interface-based record hierarchy — one consistent
// model, marshaled/parsed by type-switching on RR type.
package dnswire

import "errors"

// ErrWireFormat is the sentinel error for DNS wire-format violations.
var ErrWireFormat = errors.New("dns wire error")
