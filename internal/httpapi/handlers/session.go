package handlers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// SessionSigner issues and verifies the opaque session token SPEC_FULL §4
// adds to /session: an HMAC over a random id and an expiry, with no
// external session store — the token is self-contained and stateless,
// matching the teacher's preference for in-process state over a database
// dependency for anything this small.
type SessionSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionSigner builds a signer. A nil/empty secret disables signing —
// Issue returns "" and Verify always fails — so deployments that don't set
// SESSION_HMAC_SECRET simply don't get a cookie, matching §6's "cookie?"
// optionality.
func NewSessionSigner(secret string, ttl time.Duration) *SessionSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionSigner{secret: []byte(secret), ttl: ttl}
}

// Issue mints a new opaque token, or "" if no secret is configured.
func (s *SessionSigner) Issue() string {
	if len(s.secret) == 0 {
		return ""
	}
	var id [16]byte
	_, _ = rand.Read(id[:])

	expiry := time.Now().Add(s.ttl).Unix()
	payload := make([]byte, 16+8)
	copy(payload, id[:])
	binary.BigEndian.PutUint64(payload[16:], uint64(expiry))

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	sig := mac.Sum(nil)

	token := append(payload, sig...)
	return base64.RawURLEncoding.EncodeToString(token)
}

var (
	ErrSessionSigningDisabled = errors.New("session signing disabled")
	ErrSessionTokenInvalid    = errors.New("session token invalid")
	ErrSessionTokenExpired    = errors.New("session token expired")
)

// Verify checks a token's signature and expiry.
func (s *SessionSigner) Verify(token string) error {
	if len(s.secret) == 0 {
		return ErrSessionSigningDisabled
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 16+8+sha256.Size {
		return ErrSessionTokenInvalid
	}
	payload, sig := raw[:16+8], raw[16+8:]

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	want := mac.Sum(nil)
	if !hmac.Equal(sig, want) {
		return ErrSessionTokenInvalid
	}

	expiry := int64(binary.BigEndian.Uint64(payload[16:]))
	if time.Now().Unix() > expiry {
		return ErrSessionTokenExpired
	}
	return nil
}
