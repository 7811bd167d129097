// Package detect decides whether arbitrary text is worth offering to a
// decoding tool.
package detect

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// LooksLikeBase64 reports whether data is strict, padded standard base64 whose
// payload is XML-safe UTF-8 text. It is a heuristic for tool suggestion; a
// true result does not mean the payload is a valid SAML message.
func LooksLikeBase64(data string) bool {
	if len(data) == 0 || len(data)%4 != 0 {
		return false
	}

	for i := 0; i < len(data); i++ {
		if !isBase64Char(data[i]) {
			return false
		}
	}

	// Padding may only occupy the last one or two positions.
	if eq := strings.IndexByte(data, '='); eq != -1 {
		n := len(data)
		if eq != n-1 && !(eq == n-2 && data[n-1] == '=') {
			return false
		}
	}

	decoded, err := base64.StdEncoding.Strict().DecodeString(data)
	if err != nil {
		return false
	}
	return IsXMLText(decoded)
}

// IsXMLText reports whether b is valid UTF-8 containing no replacement
// characters and only code points allowed by XML 1.0.
func IsXMLText(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError {
			// Either invalid UTF-8 or a literal U+FFFD.
			return false
		}
		if !IsXMLChar(r) {
			return false
		}
		b = b[size:]
	}
	return true
}

// IsXMLChar reports whether r is in the XML 1.0 Char production.
func IsXMLChar(r rune) bool {
	switch {
	case r == 0x9, r == 0xA, r == 0xD:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

func isBase64Char(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '/', c == '=':
		return true
	}
	return false
}
