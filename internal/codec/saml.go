package codec

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode"
)

// DefaultMaxInflateBytes caps the size of a decompressed payload.
const DefaultMaxInflateBytes = 10 * 1024 * 1024 // 10 MB

// EncodeSAMLPayload produces the HTTP-redirect transport form of an XML
// document: url(base64(deflate(bytes(compact(xml))))).
func EncodeSAMLPayload(xmlText string, enc TextEncoding) (string, error) {
	if strings.TrimSpace(xmlText) == "" {
		return "", ErrEmptyInput
	}

	root, err := parseXML(xmlText)
	if err != nil {
		return "", newError(ErrInvalidXML, "encode", err)
	}

	data, err := EncodeText(compactXML(root), enc)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", newError(ErrInternal, "encode", err)
	}
	if _, err := zw.Write(data); err != nil {
		return "", newError(ErrInternal, "encode", err)
	}
	if err := zw.Close(); err != nil {
		return "", newError(ErrInternal, "encode", err)
	}

	return url.QueryEscape(base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// DecodeSAMLPayload reverses EncodeSAMLPayload and returns the document in
// indented form with one attribute per line.
func DecodeSAMLPayload(encoded string) (string, error) {
	return DecodeSAMLPayloadLimit(encoded, DefaultMaxInflateBytes)
}

// DecodeSAMLPayloadLimit is DecodeSAMLPayload with an explicit cap on the
// decompressed size. A non-positive maxBytes means DefaultMaxInflateBytes.
func DecodeSAMLPayloadLimit(encoded string, maxBytes int64) (string, error) {
	if strings.TrimSpace(encoded) == "" {
		return "", ErrEmptyInput
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInflateBytes
	}

	compressed, err := decodeBase64(urlUnescape(strings.TrimSpace(encoded)))
	if err != nil {
		return "", newError(ErrInvalidBase64, "decode", err)
	}

	raw, err := inflate(compressed, maxBytes)
	if err != nil {
		return "", newError(ErrInvalidCompression, "decode", err)
	}

	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	root, err := parseXML(text)
	if err != nil {
		return "", newError(ErrInvalidXML, "decode", err)
	}
	return prettyXML(root), nil
}

// urlUnescape percent-decodes s. A literal '+' is kept, so base64 that was
// never URL-encoded survives; malformed escapes leave s untouched and the
// base64 step reports the problem.
func urlUnescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return out
}

// decodeBase64 accepts standard base64 with or without padding and ignores
// embedded whitespace such as line wrapping.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("the input is not a valid Base-64 string: empty after whitespace removal")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if len(s)%4 != 0 && !strings.HasSuffix(s, "=") {
		if data, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("the input is not a valid Base-64 string: %w", err)
}

func inflate(compressed []byte, maxBytes int64) ([]byte, error) {
	zr := flate.NewReader(bytes.NewReader(compressed))
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("the compressed data is corrupt or truncated: %w", err)
	}
	if int64(len(out)) > maxBytes {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxBytes)
	}
	return out, nil
}
