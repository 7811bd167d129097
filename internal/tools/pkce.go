package tools

import (
	"context"
	"strings"

	"github.com/n0madic/go-devcodec/internal/codec"
)

// PKCETool derives code challenges from code verifiers.
type PKCETool struct {
	Base
}

// NewPKCETool returns the PKCE tool. Changing its direction does not
// re-run the current input.
func NewPKCETool() *PKCETool {
	return &PKCETool{Base: Base{
		NameValue:        "pkce",
		DisplayNameValue: "PKCE",
		DescriptionValue: "Derive an S256 code challenge from a PKCE code verifier",
		GroupValue:       "Converters",
		OrderValue:       0,
		KeywordsValue:    []string{"oauth", "verifier", "challenge", "s256"},
		DirectionsValue:  []Direction{VerifierToChallenge, ChallengeToVerifier},
		DefaultModeValue: Mode{Direction: VerifierToChallenge, Encoding: codec.UTF8},
	}}
}

// CanHandle accepts any non-blank text: every string is a candidate verifier.
func (t *PKCETool) CanHandle(data string) bool {
	return strings.TrimSpace(data) != ""
}

func (t *PKCETool) Convert(_ context.Context, input string, mode Mode) (string, error) {
	if mode.Direction == ChallengeToVerifier {
		return codec.DerivePKCEVerifier(input)
	}
	return codec.DerivePKCEChallenge(input)
}

func (t *PKCETool) Languages(mode Mode) (string, string) {
	if mode.Direction == ChallengeToVerifier {
		return "pkce_challenge", "pkce_verifier"
	}
	return "pkce_verifier", "pkce_challenge"
}
