package ipclassify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteral_NonCanonicalIPv4Forms(t *testing.T) {
	// Scenario B: these must all be recognized as IP literals so the
	// policy layer can reject them when requireDnsName is set.
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"octal", "0177.0.0.1", "127.0.0.1"},
		{"hex", "0x7f.0.0.1", "127.0.0.1"},
		{"integer", "2130706433", "127.0.0.1"},
		{"shorthand-ab", "127.1", "127.0.0.1"},
		{"trailing-dot", "8.8.8.8.", "8.8.8.8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, ok := ParseLiteral(tc.in)
			require.True(t, ok, "expected %q to parse as an IP literal", tc.in)
			assert.Equal(t, tc.want, addr.Canonical)
			assert.Equal(t, 4, addr.Version)
		})
	}
}

func TestParseLiteral_OctalWithInvalidDigitFallsBackToDecimal(t *testing.T) {
	// "08" is not valid octal (8 is out of range); glibc reinterprets
	// the whole component as decimal.
	addr, ok := ParseLiteral("08.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "8.0.0.1", addr.Canonical)
}

func TestParseLiteral_RejectsHostnames(t *testing.T) {
	_, ok := ParseLiteral("example.com")
	assert.False(t, ok)
}

func TestParseLiteral_IPv6StrictRFC4291(t *testing.T) {
	bad := []string{":::1", ":1::", "1:::", "1::2::3", "::ffff:001.002.003.004"}
	for _, in := range bad {
		_, ok := ParseLiteral(in)
		assert.False(t, ok, "expected %q to be rejected", in)
	}

	addr, ok := ParseLiteral("2001:DB8::ABCD")
	require.True(t, ok)
	assert.Equal(t, 6, addr.Version)
	assert.Equal(t, "2001:0db8:0000:0000:0000:0000:0000:abcd", addr.Canonical)
}

func TestIsPublic(t *testing.T) {
	cases := []struct {
		in     string
		public bool
	}{
		{"8.8.8.8", true},
		{"127.0.0.1", false},
		{"10.0.0.1", false},
		{"192.168.1.5", false},
		{"169.254.1.1", false},
		{"100.64.0.1", false},
		{"2001:db8::abcd", false},
		{"fe80::1", false},
		{"fc00::1", false},
		{"2606:4700:4700::1111", true},
		{"::ffff:127.0.0.1", false},
		{"::ffff:8.8.8.8", true},
	}
	for _, tc := range cases {
		addr, ok := ParseLiteral(tc.in)
		require.True(t, ok, tc.in)
		assert.Equal(t, tc.public, IsPublic(addr), tc.in)
	}
}

func TestIsPublicLiteral_NonLiteralIsFalse(t *testing.T) {
	assert.False(t, IsPublicLiteral("example.com"))
}
