package hostpolicy

import (
	"github.com/webegress/gateway/internal/ipclassify"
)

// DecisionReason enumerates the Denied reasons from spec.md §3's
// EgressDecision sum type.
type DecisionReason string

const (
	ReasonNone                DecisionReason = ""
	ReasonBlockedByHostPolicy DecisionReason = "blocked-by-host-policy"
	ReasonIPLiteralDisallowed DecisionReason = "ip-literal-disallowed"
	ReasonPrivateIPDisallowed DecisionReason = "private-ip-disallowed"
	ReasonDNSResolutionFailed DecisionReason = "dns-resolution-failed"
	ReasonNoPublicIPs         DecisionReason = "no-public-ips"
)

// TargetKind distinguishes the two EgressDecision.target variants.
type TargetKind int

const (
	TargetIP TargetKind = iota
	TargetDNS
)

// Target is EgressDecision's target field: IpTarget{ip,version} or
// DnsTarget{hostname, resolvedIps[]}.
type Target struct {
	Kind        TargetKind
	IP          string // canonical form, set when Kind == TargetIP
	IPVersion   int    // 4 or 6, set when Kind == TargetIP
	Hostname    string // set when Kind == TargetDNS
	ResolvedIPs []string
}

// Decision is spec.md §3's EgressDecision.
type Decision struct {
	Allowed bool
	Reason  DecisionReason
	Target  Target
}

func denied(reason DecisionReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Policy is the operator-configured allow/block policy C3 evaluates
// against. Block and allow lists each hold both IP-literal entries and
// hostname patterns, parsed once at construction time.
type Policy struct {
	RequireDNSName  bool
	AllowPrivateIPs bool

	blockIPs      []ipclassify.Address
	allowIPs      []ipclassify.Address
	blockPatterns []Pattern
	allowPatterns []Pattern
}

// NewPolicy builds a Policy from raw, comma-separated-free lists of block
// and allow entries (each entry is either an IP literal or a hostname
// pattern); invalid entries are skipped.
func NewPolicy(blockList, allowList []string, requireDNSName, allowPrivateIPs bool) *Policy {
	p := &Policy{RequireDNSName: requireDNSName, AllowPrivateIPs: allowPrivateIPs}
	p.blockIPs, p.blockPatterns = splitEntries(blockList)
	p.allowIPs, p.allowPatterns = splitEntries(allowList)
	return p
}

func splitEntries(entries []string) ([]ipclassify.Address, []Pattern) {
	var ips []ipclassify.Address
	var patterns []Pattern
	for _, e := range entries {
		if addr, ok := ipclassify.ParseLiteral(e); ok {
			ips = append(ips, addr)
			continue
		}
		if pat, err := ParsePattern(e); err == nil {
			patterns = append(patterns, pat)
		}
	}
	return ips, patterns
}

func matchesIPList(list []ipclassify.Address, addr ipclassify.Address) bool {
	for _, e := range list {
		if e.Version == addr.Version && e.Canonical == addr.Canonical {
			return true
		}
	}
	return false
}

// EvaluateTCPHostPolicy is C3's entry point (spec.md §4.3).
func EvaluateTCPHostPolicy(hostString string, p *Policy) Decision {
	if addr, ok := ipclassify.ParseLiteral(hostString); ok {
		if p.RequireDNSName {
			return denied(ReasonIPLiteralDisallowed)
		}
		return evaluateIP(addr, p)
	}

	hostname, err := NormalizeHostname(hostString)
	if err != nil {
		return denied(ReasonBlockedByHostPolicy)
	}

	if MatchesAny(p.blockPatterns, hostname) {
		return denied(ReasonBlockedByHostPolicy)
	}
	if len(p.allowPatterns) > 0 && !MatchesAny(p.allowPatterns, hostname) {
		return denied(ReasonBlockedByHostPolicy)
	}

	// The caller must invoke the resolver and call EvaluateResolvedIPs on
	// the answer before treating this as final (DNS-rebinding defense,
	// spec.md §4.3(4)).
	return Decision{
		Allowed: true,
		Target:  Target{Kind: TargetDNS, Hostname: hostname},
	}
}

// evaluateIP applies the block/allow/private-IP checks common to both a
// directly-supplied IP literal and a re-resolved DNS answer RR.
func evaluateIP(addr ipclassify.Address, p *Policy) Decision {
	if matchesIPList(p.blockIPs, addr) {
		return denied(ReasonBlockedByHostPolicy)
	}
	if len(p.allowIPs) > 0 && !matchesIPList(p.allowIPs, addr) {
		return denied(ReasonBlockedByHostPolicy)
	}
	if !ipclassify.IsPublic(addr) && !p.AllowPrivateIPs {
		return denied(ReasonPrivateIPDisallowed)
	}
	return Decision{
		Allowed: true,
		Target:  Target{Kind: TargetIP, IP: addr.Canonical, IPVersion: addr.Version},
	}
}

// EvaluateResolvedIPs re-applies IP-level policy checks to every DNS answer
// address (spec.md §4.3(4), the DNS-rebinding defense). It returns
// Allowed{DnsTarget} with the subset of answers that passed, or
// Denied(no-public-ips) if none did.
func EvaluateResolvedIPs(hostname string, resolvedIPs []string, p *Policy) Decision {
	var allowed []string
	for _, raw := range resolvedIPs {
		addr, ok := ipclassify.ParseLiteral(raw)
		if !ok {
			continue
		}
		if d := evaluateIP(addr, p); d.Allowed {
			allowed = append(allowed, addr.Canonical)
		}
	}
	if len(allowed) == 0 {
		return denied(ReasonNoPublicIPs)
	}
	return Decision{
		Allowed: true,
		Target:  Target{Kind: TargetDNS, Hostname: hostname, ResolvedIPs: allowed},
	}
}
