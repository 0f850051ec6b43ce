package replay

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"repplus/pkg/traffic"
)

func newSender(t *testing.T, opts Options) *Sender {
	t.Helper()
	s, err := NewSender(opts)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	return s
}

func TestSendDecodesGzipWithBrowserAcceptEncoding(t *testing.T) {
	const page = "<html><body>welcome back, admin</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			io.WriteString(w, page)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		io.WriteString(zw, page)
		zw.Close()
	}))
	defer srv.Close()

	s := newSender(t, DefaultOptions())
	resp, err := s.Send(context.Background(), &traffic.Request{
		Method:  "GET",
		URL:     srv.URL + "/user",
		Headers: traffic.Header{{Name: "Accept-Encoding", Value: "gzip, deflate, br"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Body) != page || resp.Size != len(page) {
		t.Errorf("body = %q size = %d", resp.Body, resp.Size)
	}
	if resp.Headers.Has("Content-Encoding") {
		t.Errorf("Content-Encoding left on decoded response: %+v", resp.Headers)
	}
}

func TestSendWithholdsForbiddenHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "created")
	}))
	defer srv.Close()

	s := newSender(t, DefaultOptions())
	req := &traffic.Request{
		Method: "POST",
		URL:    srv.URL + "/items",
		Headers: traffic.Header{
			{Name: "Host", Value: "evil.example"},
			{Name: "Origin", Value: "https://evil.example"},
			{Name: "Referer", Value: "https://evil.example/page"},
			{Name: "User-Agent", Value: "Browser/1.0"},
			{Name: "Expect", Value: "100-continue"},
			{Name: "X-Custom", Value: "kept"},
		},
		Body: []byte("a=1"),
	}
	resp, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != http.StatusCreated || resp.StatusText != "Created" {
		t.Errorf("status = %d %q", resp.Status, resp.StatusText)
	}
	if string(resp.Body) != "created" || resp.Size != 7 {
		t.Errorf("body = %q size = %d", resp.Body, resp.Size)
	}
	if resp.Headers.Get("x-reply") != "yes" {
		t.Errorf("response headers = %+v", resp.Headers)
	}
	if resp.Redirected {
		t.Error("unexpected redirect flag")
	}
	if got.Get("X-Custom") != "kept" {
		t.Error("custom header not forwarded")
	}
	for _, h := range []string{"Origin", "Referer", "Expect"} {
		if got.Get(h) != "" {
			t.Errorf("%s forwarded: %q", h, got.Get(h))
		}
	}
	if got.Get("User-Agent") != defaultUserAgent {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
}

func TestSendGETOmitsBody(t *testing.T) {
	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		n = len(b)
	}))
	defer srv.Close()

	s := newSender(t, DefaultOptions())
	for _, m := range []string{"GET", "HEAD"} {
		_, err := s.Send(context.Background(), &traffic.Request{Method: m, URL: srv.URL, Body: []byte("ignored")})
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if n != 0 {
			t.Errorf("%s sent a body of %d bytes", m, n)
		}
	}
}

func TestSendFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "landed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSender(t, DefaultOptions())
	resp, err := s.Send(context.Background(), &traffic.Request{Method: "GET", URL: srv.URL + "/old"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Redirected || resp.FinalURL != srv.URL+"/new" || string(resp.Body) != "landed" {
		t.Errorf("resp = %+v", resp)
	}

	opts := DefaultOptions()
	opts.FollowRedirects = false
	s = newSender(t, opts)
	resp, err = s.Send(context.Background(), &traffic.Request{Method: "GET", URL: srv.URL + "/old"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != http.StatusFound || resp.Redirected {
		t.Errorf("status = %d redirected = %v", resp.Status, resp.Redirected)
	}
}

func TestSendNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	s := newSender(t, Options{Timeout: time.Second})
	_, err := s.Send(context.Background(), &traffic.Request{Method: "GET", URL: target})
	var nf *NetworkFailure
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *NetworkFailure", err)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("expected errors.Is(err, ErrNetwork)")
	}
	if nf.URL != target {
		t.Errorf("URL = %q", nf.URL)
	}
}

func TestReplayRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		io.WriteString(w, r.Method+" "+r.URL.RequestURI()+" "+string(b))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	raw := "PUT /echo?x=1 HTTP/1.1\nHost: " + host + "\nX-Forwarded-Proto: http\n\npayload"
	s := newSender(t, DefaultOptions())
	resp, err := s.ReplayRaw(context.Background(), raw)
	if err != nil {
		t.Fatalf("ReplayRaw: %v", err)
	}
	if string(resp.Body) != "PUT /echo?x=1 payload" {
		t.Errorf("body = %q", resp.Body)
	}

	if _, err := s.ReplayRaw(context.Background(), "GET / HTTP/1.1\n\n"); err == nil {
		t.Error("expected parse error for missing Host")
	}
}

func TestInvalidProxy(t *testing.T) {
	if _, err := NewSender(Options{Proxy: "://bad"}); err == nil {
		t.Error("expected invalid proxy error")
	}
}
