package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// TextEncoding selects how serialized XML text is turned into bytes before
// compression.
type TextEncoding int

const (
	UTF8 TextEncoding = iota
	ASCII
)

func (e TextEncoding) String() string {
	switch e {
	case ASCII:
		return "ASCII"
	default:
		return "UTF-8"
	}
}

// ParseTextEncoding accepts the persisted names ("UTF-8", "ASCII") and the
// usual spelling variants, case-insensitively.
func ParseTextEncoding(s string) (TextEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "utf-8", "utf8", "unicode", "":
		return UTF8, nil
	case "ascii", "us-ascii":
		return ASCII, nil
	}
	return UTF8, fmt.Errorf("unknown text encoding %q", s)
}

// asciiReplacer maps every rune outside 7-bit ASCII to '?'.
var asciiReplacer = runes.Map(func(r rune) rune {
	if r >= utf8.RuneSelf {
		return '?'
	}
	return r
})

// EncodeText converts s to bytes in the given encoding. ASCII is lossy:
// non-ASCII code points become '?'.
func EncodeText(s string, enc TextEncoding) ([]byte, error) {
	if enc != ASCII {
		return []byte(s), nil
	}
	out, _, err := transform.String(asciiReplacer, s)
	if err != nil {
		return nil, newError(ErrInternal, "encode text", err)
	}
	return []byte(out), nil
}
