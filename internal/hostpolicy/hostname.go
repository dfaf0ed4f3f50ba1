// Package hostpolicy implements hostname normalization, exact/wildcard
// pattern matching (C2), and the egress policy evaluator that combines
// those with ipclassify's IP literal classification (C3).
package hostpolicy

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidHostname is the sentinel for normalization failures (§4.2).
var ErrInvalidHostname = fmt.Errorf("invalid-hostname")

// profile is the IDNA profile used for hostname normalization: it maps
// upper to lower case, rejects disallowed characters, and performs the
// Unicode-to-punycode (ToASCII) conversion spec.md's NormalizedHostname
// requires.
var profile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.BidiRule(),
)

const maxHostnameLength = 253

// NormalizeHostname lowercases, strips a single trailing dot, and
// IDNA-encodes s, matching the NormalizedHostname invariants in spec.md §3:
// lowercase ASCII, no trailing dot, no empty labels, no leading/trailing
// hyphen per label, total length <= 253. Normalization is idempotent.
func NormalizeHostname(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", fmt.Errorf("%w: empty hostname", ErrInvalidHostname)
	}

	ascii, err := profile.ToASCII(s)
	if err != nil {
		return "", fmt.Errorf("%w: idna encoding rejected %q: %v", ErrInvalidHostname, s, err)
	}
	ascii = strings.ToLower(ascii)
	ascii = strings.TrimSuffix(ascii, ".")

	if len(ascii) > maxHostnameLength {
		return "", fmt.Errorf("%w: hostname exceeds %d bytes", ErrInvalidHostname, maxHostnameLength)
	}

	labels := strings.Split(ascii, ".")
	for _, label := range labels {
		if label == "" {
			return "", fmt.Errorf("%w: empty label in %q", ErrInvalidHostname, s)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return "", fmt.Errorf("%w: label %q starts or ends with a hyphen", ErrInvalidHostname, label)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			isAlnum := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-'
			if !isAlnum {
				return "", fmt.Errorf("%w: label %q contains a character outside [A-Za-z0-9-]", ErrInvalidHostname, label)
			}
		}
	}

	return ascii, nil
}
