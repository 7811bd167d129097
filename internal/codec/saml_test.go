package codec

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
)

const authnRequest = `<?xml version="1.0" encoding="UTF-8"?>
<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
    xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
    ID="ONELOGIN_809707f0030a5d00620c9d9df97f627afe9dcc24" Version="2.0">
  <saml:Issuer>https://sp.example.com/metadata</saml:Issuer>
  <samlp:NameIDPolicy Format="urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress" AllowCreate="true"/>
</samlp:AuthnRequest>`

// rawDeflate compresses data the same way an independent SAML sender would.
func rawDeflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write(data) //nolint:errcheck
	zw.Close()     //nolint:errcheck
	return buf.Bytes()
}

// unwrap undoes the transport encoding without going through the codec.
func unwrap(t *testing.T, encoded string) string {
	t.Helper()
	b64, err := url.QueryUnescape(encoded)
	if err != nil {
		t.Fatalf("QueryUnescape: %v", err)
	}
	compressed, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	raw, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return string(raw)
}

func TestEncodeSAMLPayloadWireFormat(t *testing.T) {
	encoded, err := EncodeSAMLPayload(authnRequest, UTF8)
	if err != nil {
		t.Fatalf("EncodeSAMLPayload: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("encoded payload %q is not URL-escaped", encoded)
	}

	want := `<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ` +
		`xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ` +
		`ID="ONELOGIN_809707f0030a5d00620c9d9df97f627afe9dcc24" Version="2.0">` +
		`<saml:Issuer>https://sp.example.com/metadata</saml:Issuer>` +
		`<samlp:NameIDPolicy Format="urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress" AllowCreate="true" />` +
		`</samlp:AuthnRequest>`
	if got := unwrap(t, encoded); got != want {
		t.Errorf("compact form mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestEncodeSAMLPayloadASCIIIsLossy(t *testing.T) {
	encoded, err := EncodeSAMLPayload("<name>café ✓</name>", ASCII)
	if err != nil {
		t.Fatalf("EncodeSAMLPayload: %v", err)
	}
	if got := unwrap(t, encoded); got != "<name>caf? ?</name>" {
		t.Errorf("got %q", got)
	}

	encoded, err = EncodeSAMLPayload("<name>café</name>", UTF8)
	if err != nil {
		t.Fatalf("EncodeSAMLPayload: %v", err)
	}
	if got := unwrap(t, encoded); got != "<name>café</name>" {
		t.Errorf("got %q", got)
	}
}

func TestDecodeSAMLPayloadPretty(t *testing.T) {
	doc := `<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_1"><saml:NameID xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion">user@example.com</saml:NameID><samlp:SessionIndex/></samlp:LogoutRequest>`
	encoded := url.QueryEscape(base64.StdEncoding.EncodeToString(rawDeflate(t, []byte(doc))))

	got, err := DecodeSAMLPayload(encoded)
	if err != nil {
		t.Fatalf("DecodeSAMLPayload: %v", err)
	}
	want := "<samlp:LogoutRequest\n" +
		"  xmlns:samlp=\"urn:oasis:names:tc:SAML:2.0:protocol\"\n" +
		"  ID=\"_1\">\n" +
		"  <saml:NameID\n" +
		"    xmlns:saml=\"urn:oasis:names:tc:SAML:2.0:assertion\">user@example.com</saml:NameID>\n" +
		"  <samlp:SessionIndex />\n" +
		"</samlp:LogoutRequest>"
	if got != want {
		t.Errorf("pretty form mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

// TestSAMLRoundTrip checks that decode(encode(x)) re-parses to the same tree.
func TestSAMLRoundTrip(t *testing.T) {
	docs := []string{
		authnRequest,
		`<a/>`,
		`<a x="1" y="two &amp; three"><b>text &lt;escaped&gt;</b><!-- note --><c/></a>`,
		`<p>mixed <b>content</b> stays inline</p>`,
		`<root><?target some data?><child attr="v&#xA;w"/></root>`,
		`<ü>ünïcødé</ü>`,
	}
	for _, doc := range docs {
		encoded, err := EncodeSAMLPayload(doc, UTF8)
		if err != nil {
			t.Fatalf("EncodeSAMLPayload(%q): %v", doc, err)
		}
		decoded, err := DecodeSAMLPayload(encoded)
		if err != nil {
			t.Fatalf("DecodeSAMLPayload(%q): %v", encoded, err)
		}

		wantTree, err := parseXML(doc)
		if err != nil {
			t.Fatal(err)
		}
		gotTree, err := parseXML(decoded)
		if err != nil {
			t.Fatalf("decoded output does not re-parse: %v\n%s", err, decoded)
		}
		if compactXML(gotTree) != compactXML(wantTree) {
			t.Errorf("round trip changed the document\n got: %s\nwant: %s", compactXML(gotTree), compactXML(wantTree))
		}
	}
}

func TestDecodeSAMLPayloadAcceptsUnescapedBase64(t *testing.T) {
	encoded, err := EncodeSAMLPayload(authnRequest, UTF8)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := url.QueryUnescape(encoded)
	if err != nil {
		t.Fatal(err)
	}
	fromEscaped, err := DecodeSAMLPayload(encoded)
	if err != nil {
		t.Fatal(err)
	}
	fromPlain, err := DecodeSAMLPayload(plain)
	if err != nil {
		t.Fatalf("DecodeSAMLPayload(unescaped): %v", err)
	}
	if fromEscaped != fromPlain {
		t.Errorf("escaped and unescaped inputs decode differently")
	}

	wrapped := plain[:len(plain)/2] + "\r\n" + plain[len(plain)/2:]
	if _, err := DecodeSAMLPayload(wrapped); err != nil {
		t.Errorf("line-wrapped base64 should decode: %v", err)
	}
}

func TestSAMLErrors(t *testing.T) {
	notXML := url.QueryEscape(base64.StdEncoding.EncodeToString(rawDeflate(t, []byte("just some words"))))

	tests := []struct {
		name string
		run  func() (string, error)
		want error
	}{
		{"encode empty", func() (string, error) { return EncodeSAMLPayload("  ", UTF8) }, ErrEmptyInput},
		{"encode unclosed", func() (string, error) { return EncodeSAMLPayload("<a>", UTF8) }, ErrInvalidXML},
		{"encode mismatched", func() (string, error) { return EncodeSAMLPayload("<a></b>", UTF8) }, ErrInvalidXML},
		{"encode two roots", func() (string, error) { return EncodeSAMLPayload("<a/><b/>", UTF8) }, ErrInvalidXML},
		{"encode dtd", func() (string, error) { return EncodeSAMLPayload("<!DOCTYPE a><a/>", UTF8) }, ErrInvalidXML},
		{"encode plain text", func() (string, error) { return EncodeSAMLPayload("hello", UTF8) }, ErrInvalidXML},
		{"decode empty", func() (string, error) { return DecodeSAMLPayload("") }, ErrEmptyInput},
		{"decode bad base64", func() (string, error) { return DecodeSAMLPayload("not-valid-base64!!") }, ErrInvalidBase64},
		{"decode not deflate", func() (string, error) { return DecodeSAMLPayload("SGVsbG8=") }, ErrInvalidCompression},
		{"decode not xml", func() (string, error) { return DecodeSAMLPayload(notXML) }, ErrInvalidXML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.run()
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if out != "" {
				t.Errorf("output = %q, want empty on error", out)
			}
			if err.Error() == "" {
				t.Error("error message must not be empty")
			}
		})
	}
}

func TestDecodeSAMLPayloadLimit(t *testing.T) {
	doc := "<a>" + strings.Repeat("x", 4096) + "</a>"
	encoded, err := EncodeSAMLPayload(doc, UTF8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeSAMLPayloadLimit(encoded, 1024); !errors.Is(err, ErrInvalidCompression) {
		t.Errorf("error = %v, want ErrInvalidCompression", err)
	}
	if _, err := DecodeSAMLPayloadLimit(encoded, 0); err != nil {
		t.Errorf("default limit should accept the payload: %v", err)
	}
}

func TestCodecErrorMessagePassesThrough(t *testing.T) {
	_, err := EncodeSAMLPayload("<a>", UTF8)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if cerr.Op != "encode" {
		t.Errorf("Op = %q, want encode", cerr.Op)
	}
	if !strings.Contains(cerr.Error(), "<a>") {
		t.Errorf("message %q should carry the parser detail", cerr.Error())
	}
	if KindName(err) != "invalid_xml" {
		t.Errorf("KindName = %q", KindName(err))
	}
}

func TestEncodeSAMLPayloadRejectsMalformedXML(t *testing.T) {
	for _, doc := range []string{
		`<a b="1" b="2"/>`,
		`<saml:a/>`,
		`<a p:x="1"/>`,
	} {
		out, err := EncodeSAMLPayload(doc, UTF8)
		if !errors.Is(err, ErrInvalidXML) {
			t.Errorf("EncodeSAMLPayload(%q) = %q, %v; want ErrInvalidXML", doc, out, err)
		}
		if err != nil && !strings.HasPrefix(err.Error(), "line 1:") {
			t.Errorf("EncodeSAMLPayload(%q) error %q lacks line number", doc, err)
		}
	}
}
