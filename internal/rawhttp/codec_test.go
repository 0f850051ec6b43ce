package rawhttp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"repplus/pkg/traffic"
)

func TestEncodeRequest(t *testing.T) {
	h := traffic.Header{
		{Name: "host", Value: "ignored.example"},
		{Name: "Accept", Value: "*/*"},
		{Name: "Cookie", Value: "a=1; b=2"},
	}
	raw, err := Encode("POST", "https://example.com/api/login?next=%2Fhome", h, []byte(`{"u":"x"}`))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := "POST /api/login?next=%2Fhome HTTP/1.1\n" +
		"Host: example.com\n" +
		"Accept: */*\n" +
		"Cookie: a=1; b=2\n" +
		"\n" +
		`{"u":"x"}`
	if raw != want {
		t.Errorf("Encode =\n%q\nwant\n%q", raw, want)
	}
}

func TestEncodeCRLF(t *testing.T) {
	raw, err := Encode("GET", "https://example.com/", nil, nil, WithLineEnding(CRLF))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw != "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n" {
		t.Errorf("Encode = %q", raw)
	}
}

func TestEncodeInvalidURL(t *testing.T) {
	_, err := Encode("GET", "/relative/only", nil, nil)
	var pe *ParseError
	if !errors.As(err, &pe) || !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("err = %v, want ParseError(ErrInvalidURL)", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	raw := "PUT /items/7?x=1 HTTP/1.1\r\n" +
		"host: shop.example:8443\r\n" +
		"Content-Type: application/json\r\n" +
		"Authorization: Bearer abc:def\r\n" +
		"\r\n" +
		"{\"qty\":2}"
	req, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Method != "PUT" || req.Path != "/items/7?x=1" || req.Proto != "HTTP/1.1" {
		t.Errorf("request line = %s %s %s", req.Method, req.Path, req.Proto)
	}
	if req.URL != "https://shop.example:8443/items/7?x=1" {
		t.Errorf("URL = %q", req.URL)
	}
	if got := req.Headers.Get("authorization"); got != "Bearer abc:def" {
		t.Errorf("Authorization = %q", got)
	}
	if string(req.Body) != `{"qty":2}` {
		t.Errorf("Body = %q", req.Body)
	}
}

func TestDecodeForwardedProto(t *testing.T) {
	req, err := Decode("GET /a HTTP/1.1\nHost: internal\nx-forwarded-proto: HTTP\n\n")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.URL != "http://internal/a" {
		t.Errorf("URL = %q, want http://internal/a", req.URL)
	}
}

func TestDecodeAbsoluteTarget(t *testing.T) {
	req, err := Decode("GET http://proxy.example/x?y=1 HTTP/1.1\n\n")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.URL != "http://proxy.example/x?y=1" {
		t.Errorf("URL = %q", req.URL)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmpty},
		{"blank", "\n\n  \n", ErrEmpty},
		{"method only", "GET\nHost: a\n\n", ErrMalformedRequestLine},
		{"missing host", "GET / HTTP/1.1\nAccept: */*\n\n", ErrMissingHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode(tt.raw)
			if req != nil {
				t.Errorf("expected nil request, got %+v", req)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ParseError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "invalid request format") {
				t.Errorf("message = %q", err.Error())
			}
		})
	}
}

func TestDecodeBodyKeepsBlankLines(t *testing.T) {
	body := "line1\n\nline3\nX-Not-A-Header: v\n"
	req, err := Decode("POST / HTTP/1.1\nHost: a\n\n" + body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(req.Body) != body {
		t.Errorf("Body = %q, want %q", req.Body, body)
	}
	if req.Headers.Has("X-Not-A-Header") {
		t.Error("body line leaked into headers")
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		method  string
		url     string
		headers traffic.Header
		body    []byte
	}{
		{"GET", "https://example.com/", traffic.Header{{Name: "Host", Value: "example.com"}}, nil},
		{"GET", "https://example.com/user?id=1&q=a%20b", traffic.Header{
			{Name: "Host", Value: "example.com"},
			{Name: "Accept-Language", Value: "en"},
			{Name: "X-Empty", Value: ""},
		}, nil},
		{"POST", "https://api.example.com:8443/v1/items", traffic.Header{
			{Name: "Host", Value: "api.example.com:8443"},
			{Name: "Content-Type", Value: "application/x-www-form-urlencoded"},
		}, []byte("a=1&b=2")},
		{"DELETE", "http://plain.example/x", traffic.Header{
			{Name: "Host", Value: "plain.example"},
			{Name: "X-Forwarded-Proto", Value: "http"},
		}, []byte("{\n  \"k\": 1\n}")},
	}
	for _, le := range []LineEnding{LF, CRLF} {
		for _, tt := range tests {
			raw, err := Encode(tt.method, tt.url, tt.headers, tt.body, WithLineEnding(le))
			if err != nil {
				t.Fatalf("Encode(%s): %v", tt.url, err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode(%q): %v", raw, err)
			}
			if got.Method != tt.method {
				t.Errorf("method = %q, want %q", got.Method, tt.method)
			}
			if got.URL != tt.url {
				t.Errorf("url = %q, want %q", got.URL, tt.url)
			}
			if !bytes.Equal(got.Body, tt.body) {
				t.Errorf("body = %q, want %q", got.Body, tt.body)
			}
			if len(got.Headers) != len(tt.headers) {
				t.Fatalf("headers = %+v, want %+v", got.Headers, tt.headers)
			}
			for _, f := range tt.headers {
				if !got.Headers.Has(f.Name) || got.Headers.Get(f.Name) != f.Value {
					t.Errorf("header %s = %q, want %q", f.Name, got.Headers.Get(f.Name), f.Value)
				}
			}
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	h := traffic.Header{{Name: "Content-Type", Value: "text/html"}, {Name: "Set-Cookie", Value: "s=1; Path=/"}}
	raw := EncodeResponse(404, "Not Found", h, []byte("<h1>nope</h1>"), WithLineEnding(CRLF))
	if !strings.HasPrefix(raw, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("status line: %q", raw)
	}
	resp, err := DecodeResponse(raw)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.StatusCode != 404 || resp.StatusText != "Not Found" {
		t.Errorf("status = %d %q", resp.StatusCode, resp.StatusText)
	}
	if resp.Headers.Get("set-cookie") != "s=1; Path=/" {
		t.Errorf("Set-Cookie = %q", resp.Headers.Get("set-cookie"))
	}
	if string(resp.Body) != "<h1>nope</h1>" {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	for _, raw := range []string{"", "GET / HTTP/1.1\n\n", "HTTP/1.1 abc OK\n\n", "HTTP/1.1\n\n"} {
		if _, err := DecodeResponse(raw); err == nil {
			t.Errorf("DecodeResponse(%q) expected error", raw)
		}
	}
}
