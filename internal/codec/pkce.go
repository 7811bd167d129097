package codec

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

var errNoInverse = errors.New("unsupported direction: a code verifier cannot be derived from its challenge")

// PKCE code verifier length bounds from RFC 7636 §4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// DerivePKCEChallenge returns the S256 code challenge for verifier:
// base64url(SHA-256(verifier)) without padding. Whitespace-only input
// returns ErrEmptyInput.
func DerivePKCEChallenge(verifier string) (string, error) {
	if strings.TrimSpace(verifier) == "" {
		return "", ErrEmptyInput
	}
	return oauth2.S256ChallengeFromVerifier(verifier), nil
}

// DerivePKCEVerifier always fails: a verifier cannot be recovered from its
// SHA-256 challenge.
func DerivePKCEVerifier(challenge string) (string, error) {
	if strings.TrimSpace(challenge) == "" {
		return "", ErrEmptyInput
	}
	return "", newError(ErrUnsupportedDirection, "pkce", errNoInverse)
}

// GenerateVerifier returns a fresh random code verifier (32 random bytes,
// base64url encoded).
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ValidVerifier reports whether v satisfies the RFC 7636 verifier grammar:
// 43 to 128 characters from [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
func ValidVerifier(v string) bool {
	if len(v) < MinVerifierLength || len(v) > MaxVerifierLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
