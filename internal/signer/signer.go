// Package signer computes keyed, deterministic signatures over attribute sets.
package signer

import (
	"encoding/hex"
	"errors"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
)

// Attributes is the unordered set of name/value pairs a signature covers.
// Encoding sorts by name, so insertion order never affects the result.
type Attributes map[string]string

// Canonical returns the byte-stable encoding that is fed to the MAC.
func (a Attributes) Canonical() string {
	v := make(url.Values, len(a))
	for k, val := range a {
		v.Set(k, val)
	}
	return v.Encode()
}

// Signer signs with HMAC-SHA256 under a process-wide secret.
type Signer struct {
	key    []byte
	method *jwt.SigningMethodHMAC
}

// New creates a signer for key.
func New(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("signer: empty key")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k, method: jwt.SigningMethodHS256}, nil
}

// Sign returns the lowercase hex MAC of attrs.
func (s *Signer) Sign(attrs Attributes) (string, error) {
	sig, err := s.method.Sign(attrs.Canonical(), s.key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Verify reports whether signature matches attrs. The comparison is constant
// time; undecodable signatures are simply false.
func (s *Signer) Verify(attrs Attributes, signature string) bool {
	if signature == "" {
		return false
	}
	raw, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return s.method.Verify(attrs.Canonical(), raw, s.key) == nil
}
