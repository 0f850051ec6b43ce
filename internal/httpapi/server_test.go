package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"repplus/internal/cdp"
	"repplus/internal/cdp/cdptest"
	"repplus/internal/config"
	"repplus/internal/logger"
	"repplus/internal/service"
)

func newTestServer(t *testing.T) (*httptest.Server, *cdptest.Debugger) {
	t.Helper()
	dbg := cdptest.NewDebugger("tab1")
	svc := service.New(config.NewConfig(), logger.NewNop(), service.WithDebuggerFactory(func(string, logger.Logger) cdp.Debugger { return dbg }))
	srv := httptest.NewServer(NewServer(svc, logger.NewNop(), "test"))
	t.Cleanup(func() {
		srv.Close()
		svc.Close(context.Background())
	})
	return srv, dbg
}

func call(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func createSession(t *testing.T, base string) string {
	t.Helper()
	code, body := call(t, http.MethodPost, base+"/api/v1/sessions", "{}")
	if code != http.StatusCreated {
		t.Fatalf("create session = %d %s", code, body)
	}
	return gjson.Get(body, "id").String()
}

func waitQueueLen(t *testing.T, url string, n int) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := call(t, http.MethodGet, url, "")
		if int(gjson.Get(body, "#").Int()) == n {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue never reached %d items", n)
	return ""
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	code, _ := call(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope/queue", "")
	if code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
	code, _ = call(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope/events", "")
	if code != http.StatusNotFound {
		t.Errorf("events status = %d", code)
	}
}

func TestQueueForwardOverHTTP(t *testing.T) {
	srv, dbg := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/v1/sessions/" + id

	code, body := call(t, http.MethodPost, base+"/intercept", `{"tab":"tab1","enabled":true}`)
	if code != http.StatusOK {
		t.Fatalf("intercept = %d %s", code, body)
	}
	code, _ = call(t, http.MethodPost, base+"/intercept", `{"tab":"tab1","enabled":true}`)
	if code != http.StatusConflict {
		t.Errorf("double enable = %d", code)
	}

	dbg.Session("tab1").Pause("p1", "POST", "https://example.com/login")
	q := waitQueueLen(t, base+"/queue", 1)
	txID := gjson.Get(q, "0.id").String()
	if !strings.HasPrefix(gjson.Get(q, "0.raw").String(), "POST /login HTTP/1.1") {
		t.Errorf("raw = %q", gjson.Get(q, "0.raw").String())
	}

	raw := "POST /login HTTP/1.1\nHost: example.com\nX-Test: 1\n\nuser=admin"
	payload := fmt.Sprintf(`{"raw":%q}`, raw)
	code, body = call(t, http.MethodPost, base+"/queue/"+txID+"/forward", payload)
	if code != http.StatusOK {
		t.Fatalf("forward = %d %s", code, body)
	}
	s := dbg.Session("tab1")
	c, _, _ := s.Counts()
	if c != 1 || string(s.Continued[0].PostData) != "user=admin" {
		t.Errorf("continued = %d", c)
	}

	code, _ = call(t, http.MethodPost, base+"/queue/"+txID+"/forward", "")
	if code != http.StatusNotFound {
		t.Errorf("second forward = %d", code)
	}
	code, _ = call(t, http.MethodPost, base+"/queue/"+txID+"/forward", `{"raw":"garbage"}`)
	if code != http.StatusNotFound {
		t.Errorf("raw forward of missing item = %d", code)
	}
}

func TestRawParseErrorIs400(t *testing.T) {
	srv, dbg := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/v1/sessions/" + id
	call(t, http.MethodPost, base+"/intercept", `{"tab":"tab1","enabled":true}`)
	dbg.Session("tab1").Pause("p1", "GET", "https://example.com/")
	q := waitQueueLen(t, base+"/queue", 1)

	code, _ := call(t, http.MethodPost, base+"/queue/"+gjson.Get(q, "0.id").String()+"/forward", `{"raw":"GET / HTTP/1.1\n\n"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d", code)
	}
	waitQueueLen(t, base+"/queue", 1)
}

func TestSSEReceivesIntercepted(t *testing.T) {
	srv, dbg := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/v1/sessions/" + id
	call(t, http.MethodPost, base+"/intercept", `{"tab":"tab1","enabled":true}`)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/events?types=intercepted", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	dbg.Session("tab1").Pause("p1", "GET", "https://example.com/sse")

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	if event != "intercepted" {
		t.Fatalf("event = %q", event)
	}
	if gjson.Get(data, "transaction.url").String() != "https://example.com/sse" {
		t.Errorf("data = %s", data)
	}
}

func TestReplayAndHistory(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "short and stout")
	}))
	defer target.Close()

	srv, _ := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/v1/sessions/" + id

	host := strings.TrimPrefix(target.URL, "http://")
	raw := "GET /pot HTTP/1.1\nHost: " + host + "\nX-Forwarded-Proto: http\n\n"
	code, body := call(t, http.MethodPost, base+"/replay", fmt.Sprintf(`{"raw":%q}`, raw))
	if code != http.StatusOK {
		t.Fatalf("replay = %d %s", code, body)
	}
	if gjson.Get(body, "status").Int() != http.StatusTeapot || gjson.Get(body, "body").String() != "short and stout" {
		t.Errorf("replay body = %s", body)
	}

	code, body = call(t, http.MethodGet, base+"/history", "")
	if code != http.StatusOK || gjson.Get(body, "#").Int() != 1 {
		t.Fatalf("history = %d %s", code, body)
	}
	code, body = call(t, http.MethodGet, base+"/history?method=POST", "")
	if code != http.StatusOK || gjson.Get(body, "#").Int() != 0 {
		t.Errorf("filtered history = %d %s", code, body)
	}
	code, body = call(t, http.MethodGet, base+"/history?q=%2Fpot&sort=status&order=desc", "")
	if code != http.StatusOK || gjson.Get(body, "#").Int() != 1 {
		t.Errorf("searched history = %d %s", code, body)
	}
	code, _ = call(t, http.MethodGet, base+"/history?q=%28&regex=true", "")
	if code != http.StatusBadRequest {
		t.Errorf("invalid regex status = %d", code)
	}
	code, body = call(t, http.MethodGet, base+"/history.har", "")
	if code != http.StatusOK || gjson.Get(body, "log.entries.#").Int() != 1 {
		t.Errorf("har = %d %s", code, body)
	}
}

func TestAttackExportOverHTTP(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "id="+r.URL.Query().Get("id"))
	}))
	defer target.Close()

	srv, _ := newTestServer(t)
	id := createSession(t, srv.URL)
	base := srv.URL + "/api/v1/sessions/" + id

	host := strings.TrimPrefix(target.URL, "http://")
	tpl := "GET /?id=§1§ HTTP/1.1\nHost: " + host + "\nX-Forwarded-Proto: http\n\n"
	code, body := call(t, http.MethodPost, base+"/attacks", fmt.Sprintf(`{"template":%q,"mode":"sniper","payloadSets":[["a","b","c"]],"threads":2,`+
		`"grepMatch":[{"pattern":"id=b"},{"pattern":"id=","enabled":false}]}`, tpl))
	if code != http.StatusCreated {
		t.Fatalf("start = %d %s", code, body)
	}
	aid := gjson.Get(body, "id").String()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, body = call(t, http.MethodGet, base+"/attacks/"+aid, "")
		if gjson.Get(body, "state").String() == "done" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attack not done: %s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gjson.Get(body, "completed").Int() != 3 {
		t.Errorf("progress = %s", body)
	}

	code, _ = call(t, http.MethodPost, base+"/attacks/"+aid+"/pause", "")
	if code != http.StatusConflict {
		t.Errorf("pause after done = %d", code)
	}

	resp, err := http.Get(base + "/attacks/" + aid + "/export?format=csv")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}
	if lines := strings.Count(strings.TrimSpace(string(data)), "\n"); lines != 3 {
		t.Errorf("csv rows = %d\n%s", lines, data)
	}
	header, _, _ := strings.Cut(string(data), "\n")
	if header != "#,Payload,Status,Length,Time(ms),Diff(%),id=b" {
		t.Errorf("csv header = %q", header)
	}

	code, _ = call(t, http.MethodGet, base+"/attacks/missing", "")
	if code != http.StatusNotFound {
		t.Errorf("missing attack = %d", code)
	}
}
