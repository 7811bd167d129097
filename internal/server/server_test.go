package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/n0madic/go-devcodec/internal/codec"
	"github.com/n0madic/go-devcodec/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{Host: "127.0.0.1", Port: 0, MaxInflateBytes: codec.DefaultMaxInflateBytes, Workers: 2}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	h := New(testConfig(), nil).Handler()
	for _, path := range []string{"/", "/health"} {
		rec := do(t, h, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		if got := decode[map[string]string](t, rec); got["status"] != "ok" {
			t.Errorf("%s: body %v", path, got)
		}
	}
}

func TestListTools(t *testing.T) {
	h := New(testConfig(), nil).Handler()
	rec := do(t, h, http.MethodGet, "/v1/tools", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	got := decode[struct {
		Data []toolInfo `json:"data"`
	}](t, rec)
	if len(got.Data) != 2 || got.Data[0].Name != "pkce" || got.Data[1].Name != "saml" {
		t.Fatalf("tools = %+v", got.Data)
	}
	if got.Data[1].Default.Direction != "Encode" || got.Data[1].Default.Encoding != "UTF-8" {
		t.Errorf("saml default mode = %+v", got.Data[1].Default)
	}
}

func TestDetect(t *testing.T) {
	h := New(testConfig(), nil).Handler()
	cases := []struct {
		data string
		want []string
	}{
		{"SGVsbG8=", []string{"pkce", "saml"}},
		{"plain words", []string{"pkce"}},
		{"   ", []string{}},
	}
	for _, tc := range cases {
		body, _ := json.Marshal(detectRequest{Data: tc.data})
		rec := do(t, h, http.MethodPost, "/v1/detect", string(body), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status %d", tc.data, rec.Code)
		}
		got := decode[detectResponse](t, rec)
		if strings.Join(got.Tools, ",") != strings.Join(tc.want, ",") {
			t.Errorf("%q: tools = %v, want %v", tc.data, got.Tools, tc.want)
		}
	}
}

func TestConvert(t *testing.T) {
	h := New(testConfig(), nil).Handler()

	encoded, err := codec.EncodeSAMLPayload(`<a b="1"/>`, codec.UTF8)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name          string
		req           convertRequest
		wantOutput    string
		wantSucceeded bool
		wantKind      string
		wantOutLang   string
	}{
		{
			name:          "pkce challenge",
			req:           convertRequest{Tool: "pkce", Input: "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"},
			wantOutput:    "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
			wantSucceeded: true,
			wantOutLang:   "pkce_challenge",
		},
		{
			name:        "pkce reverse is unsupported",
			req:         convertRequest{Tool: "pkce", Direction: "ChallengeToVerifier", Input: "abc"},
			wantKind:    "unsupported_direction",
			wantOutLang: "pkce_verifier",
		},
		{
			name:          "saml decode",
			req:           convertRequest{Tool: "saml", Direction: "decode", Input: encoded},
			wantOutput:    "<a\n  b=\"1\" />",
			wantSucceeded: true,
			wantOutLang:   "xml",
		},
		{
			name:        "saml invalid xml",
			req:         convertRequest{Tool: "SAML", Input: "<a"},
			wantKind:    "invalid_xml",
			wantOutLang: "text",
		},
		{
			name:        "blank input",
			req:         convertRequest{Tool: "saml", Input: "  "},
			wantKind:    "empty_input",
			wantOutLang: "text",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.req)
			rec := do(t, h, http.MethodPost, "/v1/convert", string(body), nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			got := decode[convertResponse](t, rec)
			if got.Session == "" {
				t.Error("missing session id")
			}
			if got.Succeeded != tc.wantSucceeded || got.ErrorKind != tc.wantKind {
				t.Errorf("succeeded=%v kind=%q, want %v %q (output %q)", got.Succeeded, got.ErrorKind, tc.wantSucceeded, tc.wantKind, got.Output)
			}
			if tc.wantOutput != "" && got.Output != tc.wantOutput {
				t.Errorf("output = %q, want %q", got.Output, tc.wantOutput)
			}
			if got.OutputLanguage != tc.wantOutLang {
				t.Errorf("output language = %q, want %q", got.OutputLanguage, tc.wantOutLang)
			}
		})
	}
}

func TestConvertRequestErrors(t *testing.T) {
	h := New(testConfig(), nil).Handler()
	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"unknown tool", `{"tool":"jwt","input":"x"}`, http.StatusNotFound},
		{"bad direction", `{"tool":"saml","direction":"VerifierToChallenge","input":"x"}`, http.StatusBadRequest},
		{"bad encoding", `{"tool":"saml","encoding":"EBCDIC","input":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/convert", tc.body, nil)
			if rec.Code != tc.want {
				t.Errorf("status %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
			if got := decode[errorResponse](t, rec); got.Error.Message == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestAuthMiddlewareAccessTokenValidation(t *testing.T) {
	cases := []struct {
		name        string
		method      string
		path        string
		accessToken string
		headers     map[string]string
		want        int
	}{
		{"no configured token", http.MethodGet, "/v1/tools", "", nil, http.StatusOK},
		{"health bypasses", http.MethodGet, "/health", "secret-token", nil, http.StatusOK},
		{"options bypasses", http.MethodOptions, "/v1/convert", "secret-token", nil, http.StatusNoContent},
		{"missing header", http.MethodGet, "/v1/tools", "secret-token", nil, http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/v1/tools", "secret-token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"basic auth", http.MethodGet, "/v1/tools", "secret-token", map[string]string{"Authorization": "Basic c2VjcmV0"}, http.StatusUnauthorized},
		{"valid token", http.MethodGet, "/v1/tools", "secret-token", map[string]string{"Authorization": "Bearer secret-token"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AccessToken = tc.accessToken
			rec := do(t, New(cfg, nil).Handler(), tc.method, tc.path, "", tc.headers)
			if rec.Code != tc.want {
				t.Errorf("status %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), serverAccessTokenError) {
				t.Errorf("body %q", rec.Body.String())
			}
		})
	}
}

func TestCORSHeaders(t *testing.T) {
	h := New(testConfig(), nil).Handler()
	rec := do(t, h, http.MethodOptions, "/v1/convert", "", map[string]string{
		"Access-Control-Request-Headers": "X-Custom",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "X-Custom" {
		t.Errorf("allow headers = %q", got)
	}
}
