package tools

import (
	"context"
	"strings"

	"github.com/n0madic/go-devcodec/internal/codec"
	"github.com/n0madic/go-devcodec/internal/detect"
)

// SAMLTool converts XML to and from the deflate + base64 + URL transport form.
type SAMLTool struct {
	Base
	// MaxInflateBytes caps decoded payloads; zero means codec.DefaultMaxInflateBytes.
	MaxInflateBytes int64
}

// NewSAMLTool returns the SAML tool. A text encoding change re-runs the
// current input; flipping direction swaps input and output.
func NewSAMLTool(maxInflateBytes int64) *SAMLTool {
	return &SAMLTool{
		Base: Base{
			NameValue:        "saml",
			DisplayNameValue: "Deflate/Inflate + Base64 Encoder/Decoder",
			DescriptionValue: "Encode or decode SAML HTTP-redirect payloads (deflate, base64, URL encoding)",
			GroupValue:       "SAML Tools",
			OrderValue:       1,
			KeywordsValue:    []string{"saml", "base64", "deflate", "inflate", "xml"},
			DirectionsValue:  []Direction{Encode, Decode},
			DefaultModeValue: Mode{Direction: Encode, Encoding: codec.UTF8},
			PolicyValue:      ModePolicy{ReconvertOnEncoding: true, SwapOnDirection: true},
		},
		MaxInflateBytes: maxInflateBytes,
	}
}

// CanHandle accepts strict base64 whose payload is XML-safe text.
func (t *SAMLTool) CanHandle(data string) bool {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return false
	}
	return detect.LooksLikeBase64(trimmed)
}

func (t *SAMLTool) Convert(_ context.Context, input string, mode Mode) (string, error) {
	if mode.Direction == Decode {
		return codec.DecodeSAMLPayloadLimit(input, t.MaxInflateBytes)
	}
	return codec.EncodeSAMLPayload(input, mode.Encoding)
}

func (t *SAMLTool) Languages(mode Mode) (string, string) {
	if mode.Direction == Decode {
		return "text", "xml"
	}
	return "xml", "text"
}
