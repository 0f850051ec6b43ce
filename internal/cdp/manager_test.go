package cdp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"repplus/internal/rawhttp"
	"repplus/internal/scope"
	"repplus/pkg/domain"
	"repplus/pkg/traffic"
)

type fakeSession struct {
	mu        sync.Mutex
	events    chan Event
	continued []*fetch.ContinueRequestArgs
	failed    []*fetch.FailRequestArgs
	fulfilled []*fetch.FulfillRequestArgs
	body      []byte
	bodyErr   error
	cmdErr    error
	enabled   bool
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 16)}
}

func (s *fakeSession) Enable(ctx context.Context) error {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Disable(ctx context.Context) error {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdErr != nil {
		return s.cmdErr
	}
	s.continued = append(s.continued, args)
	return nil
}

func (s *fakeSession) FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdErr != nil {
		return s.cmdErr
	}
	s.failed = append(s.failed, args)
	return nil
}

func (s *fakeSession) FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdErr != nil {
		return s.cmdErr
	}
	s.fulfilled = append(s.fulfilled, args)
	return nil
}

func (s *fakeSession) GetResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error) {
	return s.body, s.bodyErr
}

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) counts() (c, f, ff int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.continued), len(s.failed), len(s.fulfilled)
}

type fakeDebugger struct {
	mu       sync.Mutex
	sessions map[domain.TargetID]*fakeSession
}

func (d *fakeDebugger) Targets(ctx context.Context) ([]domain.TargetInfo, error) {
	return []domain.TargetInfo{{ID: "t1", Type: "page"}, {ID: "t2", Type: "page"}}, nil
}

func (d *fakeDebugger) Attach(ctx context.Context, tab domain.TargetID) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[tab]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return s, nil
}

func setup(t *testing.T, opts domain.InterceptOptions, mopts ...Option) (*Manager, *fakeSession, chan domain.Event) {
	t.Helper()
	sess := newFakeSession()
	dbg := &fakeDebugger{sessions: map[domain.TargetID]*fakeSession{"t1": sess}}
	events := make(chan domain.Event, 64)
	m := New(dbg, append([]Option{WithEvents(events), WithSessionID("s1")}, mopts...)...)
	if err := m.Enable(context.Background(), "t1", opts); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, sess, events
}

func waitEvent(t *testing.T, events <-chan domain.Event, typ string) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func pausedRequest(id, url string) Event {
	return RequestPaused{Paused: Paused{
		RequestID: fetch.RequestID(id),
		URL:       url,
		Method:    "POST",
		Headers:   traffic.Header{{Name: "Host", Value: "example.com"}, {Name: "X-A", Value: "1"}},
		PostData:  []byte("a=1"),
	}}
}

func pausedResponse(id, url string) Event {
	code := 200
	return RequestPaused{Paused: Paused{
		RequestID:          fetch.RequestID(id),
		URL:                url,
		Method:             "GET",
		ResponseStatusCode: &code,
		ResponseHeaders:    traffic.Header{{Name: "Content-Type", Value: "text/html"}},
	}}
}

func TestInterceptQueuesWithoutAutoResume(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/login")

	e := waitEvent(t, events, domain.EventIntercepted)
	if e.Transaction == nil || e.Transaction.ID != "req_1" || e.Session != "s1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	time.Sleep(50 * time.Millisecond)
	if c, f, ff := sess.counts(); c+f+ff != 0 {
		t.Fatalf("paused transaction was resolved without operator action")
	}
	q := m.Queue()
	if len(q) != 1 || q[0].PausedID != "p1" || string(q[0].Body) != "a=1" || q[0].TabID != "t1" {
		t.Fatalf("queue = %+v", q)
	}
}

func TestOutOfScopeContinuesExactlyOnce(t *testing.T) {
	sc := scope.New(scope.Policy{Mode: scope.ModeInclude, Rules: []scope.Rule{scope.NewRule("*target.com*", "")}})
	opts := domain.InterceptOptions{InterceptRequests: true, ScopeFilter: domain.ScopeInScope}
	m, sess, events := setup(t, opts, WithScope(sc))

	sess.events <- pausedRequest("p1", "https://other.com/")
	waitEvent(t, events, domain.EventAutoContinued)
	if m.Len() != 0 {
		t.Fatalf("out of scope request was queued")
	}
	c, _, _ := sess.counts()
	if c != 1 {
		t.Fatalf("continue count = %d, want 1", c)
	}
	if a := sess.continued[0]; a.RequestID != "p1" || a.URL != nil || a.Headers != nil {
		t.Errorf("auto continue must only carry the paused id: %+v", a)
	}

	sess.events <- pausedRequest("p2", "https://api.target.com/")
	waitEvent(t, events, domain.EventIntercepted)
	if m.Len() != 1 {
		t.Fatalf("in scope request not queued")
	}
}

func TestResponseStageDisabledContinues(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedResponse("p1", "https://example.com/")
	waitEvent(t, events, domain.EventAutoContinued)
	if m.Len() != 0 {
		t.Fatal("response queued while response interception is off")
	}
}

func TestForwardUnmodified(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	e := waitEvent(t, events, domain.EventIntercepted)

	if err := m.Forward(context.Background(), *e.Transaction); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	a := sess.continued[0]
	if a.RequestID != "p1" || a.URL != nil || a.Method != nil || a.Headers != nil || a.PostData != nil {
		t.Errorf("unmodified forward carried overrides: %+v", a)
	}
	if m.Len() != 0 {
		t.Error("forwarded transaction still queued")
	}
	waitEvent(t, events, domain.EventForwarded)

	if err := m.Forward(context.Background(), *e.Transaction); !errors.Is(err, ErrNotQueued) {
		t.Errorf("second forward err = %v, want ErrNotQueued", err)
	}
}

func TestForwardModifiedRequestStripsHeaders(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	e := waitEvent(t, events, domain.EventIntercepted)

	tx := *e.Transaction
	tx.Modified = true
	tx.Method = "PUT"
	tx.Headers = traffic.Header{{Name: "Host", Value: "evil"}, {Name: "Content-Length", Value: "9"}, {Name: "X-B", Value: "2"}}
	tx.Body = []byte("b=2")
	if err := m.Forward(context.Background(), tx); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	a := sess.continued[0]
	if a.Method == nil || *a.Method != "PUT" {
		t.Errorf("method override missing")
	}
	if len(a.Headers) != 1 || a.Headers[0].Name != "X-B" {
		t.Errorf("headers = %+v", a.Headers)
	}
	if string(a.PostData) != "b=2" {
		t.Errorf("post data = %q", a.PostData)
	}
	fe := waitEvent(t, events, domain.EventForwarded)
	if !fe.Transaction.Modified || fe.Transaction.Method != "PUT" {
		t.Errorf("forwarded event = %+v", fe.Transaction)
	}
}

func TestForwardModifiedResponseFulfills(t *testing.T) {
	opts := domain.InterceptOptions{InterceptResponses: true, ScopeFilter: domain.ScopeAll}
	m, sess, events := setup(t, opts)
	sess.body = []byte("<html>orig</html>")
	sess.events <- pausedResponse("p1", "https://example.com/")
	e := waitEvent(t, events, domain.EventIntercepted)
	if e.Transaction.ID != "res_1" || string(e.Transaction.Body) != "<html>orig</html>" || e.Transaction.StatusText != "OK" {
		t.Fatalf("response transaction = %+v", e.Transaction)
	}

	raw := rawhttp.EncodeResponse(403, "Forbidden", traffic.Header{{Name: "Content-Type", Value: "text/plain"}, {Name: "Content-Length", Value: "1"}}, []byte("nope"))
	if err := m.ForwardRaw(context.Background(), "res_1", raw); err != nil {
		t.Fatalf("ForwardRaw: %v", err)
	}
	if _, _, ff := sess.counts(); ff != 1 {
		t.Fatalf("fulfill count = %d", ff)
	}
	a := sess.fulfilled[0]
	if a.ResponseCode != 403 || string(a.Body) != "nope" {
		t.Errorf("fulfill args = %+v", a)
	}
	for _, h := range a.ResponseHeaders {
		if h.Name == "Content-Length" {
			t.Error("Content-Length passed to fulfill")
		}
	}
}

func TestBodyOnlyResponseEditKeepsHeaders(t *testing.T) {
	opts := domain.InterceptOptions{InterceptResponses: true, ScopeFilter: domain.ScopeAll}
	m, sess, events := setup(t, opts)
	code := 200
	sess.events <- RequestPaused{Paused: Paused{
		RequestID:          "p1",
		URL:                "https://example.com/",
		Method:             "GET",
		ResponseStatusCode: &code,
		ResponseHeaders: traffic.Header{
			{Name: "Content-Type", Value: "text/html"},
			{Name: "Set-Cookie", Value: "sid=1"},
			{Name: "Content-Length", Value: "17"},
		},
	}}
	waitEvent(t, events, domain.EventIntercepted)

	if err := m.Forward(context.Background(), domain.Transaction{ID: "res_1", Body: []byte("<h1>edited</h1>"), Modified: true}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	a := sess.fulfilled[0]
	if a.ResponseCode != 200 || string(a.Body) != "<h1>edited</h1>" {
		t.Errorf("fulfill args = %+v", a)
	}
	got := map[string]string{}
	for _, h := range a.ResponseHeaders {
		got[h.Name] = h.Value
	}
	if len(got) != 2 || got["Content-Type"] != "text/html" || got["Set-Cookie"] != "sid=1" {
		t.Errorf("headers = %+v", a.ResponseHeaders)
	}
	fe := waitEvent(t, events, domain.EventForwarded)
	if fe.Transaction.Headers.Get("Set-Cookie") != "sid=1" || string(fe.Transaction.Body) != "<h1>edited</h1>" {
		t.Errorf("forwarded transaction = %+v", fe.Transaction)
	}
}

func TestMethodOnlyRequestEditKeepsBody(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	waitEvent(t, events, domain.EventIntercepted)

	if err := m.Forward(context.Background(), domain.Transaction{ID: "req_1", Method: "PUT", Modified: true}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	a := sess.continued[0]
	if len(a.Headers) != 1 || a.Headers[0].Name != "X-A" {
		t.Errorf("headers = %+v", a.Headers)
	}
	if string(a.PostData) != "a=1" {
		t.Errorf("post data = %q", a.PostData)
	}
	fe := waitEvent(t, events, domain.EventForwarded)
	if string(fe.Transaction.Body) != "a=1" || fe.Transaction.Method != "PUT" {
		t.Errorf("forwarded transaction = %+v", fe.Transaction)
	}
}

func TestResponseBodyFailureQueuesEmpty(t *testing.T) {
	opts := domain.InterceptOptions{InterceptResponses: true, ScopeFilter: domain.ScopeAll}
	m, sess, events := setup(t, opts)
	sess.bodyErr = errors.New("no body")
	sess.events <- pausedResponse("p1", "https://example.com/")
	e := waitEvent(t, events, domain.EventIntercepted)
	if len(e.Transaction.Body) != 0 {
		t.Errorf("body = %q", e.Transaction.Body)
	}
	if m.Len() != 1 {
		t.Error("response not queued")
	}
}

func TestForwardRawParseErrorKeepsItem(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	waitEvent(t, events, domain.EventIntercepted)

	err := m.ForwardRaw(context.Background(), "req_1", "GET")
	var pe *rawhttp.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if m.Len() != 1 {
		t.Error("item removed after parse error")
	}
}

func TestDropBlocksByClient(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	waitEvent(t, events, domain.EventIntercepted)

	if err := m.Drop(context.Background(), "req_1"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if a := sess.failed[0]; a.ErrorReason != network.ErrorReasonBlockedByClient || a.RequestID != "p1" {
		t.Errorf("fail args = %+v", a)
	}
	waitEvent(t, events, domain.EventDropped)
}

func TestCommandFailureRemovesItem(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	waitEvent(t, events, domain.EventIntercepted)

	sess.mu.Lock()
	sess.cmdErr = errors.New("Invalid InterceptionId")
	sess.mu.Unlock()

	err := m.Drop(context.Background(), "req_1")
	var cf *CommandFailure
	if !errors.As(err, &cf) || !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("err = %v, want CommandFailure", err)
	}
	if m.Len() != 0 {
		t.Error("failed item still queued")
	}
}

func TestDetachRemovesTabAndLosesQueue(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/")
	waitEvent(t, events, domain.EventIntercepted)

	sess.events <- Detached{Reason: "target_closed"}
	e := waitEvent(t, events, domain.EventDetached)
	if e.Target != "t1" || e.Error != "target_closed" {
		t.Errorf("detached event = %+v", e)
	}
	if m.State("t1") != StateDetached || len(m.Attached()) != 0 {
		t.Error("tab still attached after detach")
	}

	err := m.Drop(context.Background(), "req_1")
	var lost *SessionLostError
	if !errors.As(err, &lost) || !errors.Is(err, ErrSessionLost) {
		t.Fatalf("err = %v, want SessionLostError", err)
	}
	if _, f, _ := sess.counts(); f != 0 {
		t.Error("command sent on lost session")
	}
}

func TestDoubleEnable(t *testing.T) {
	m, _, _ := setup(t, domain.DefaultInterceptOptions())
	err := m.Enable(context.Background(), "t1", domain.DefaultInterceptOptions())
	var ae *AttachError
	if !errors.As(err, &ae) || !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("err = %v, want ErrAlreadyAttached", err)
	}
}

func TestEnableUnknownTarget(t *testing.T) {
	m, _, _ := setup(t, domain.DefaultInterceptOptions())
	err := m.Enable(context.Background(), "missing", domain.DefaultInterceptOptions())
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("err = %v", err)
	}
	if m.State("missing") != StateDetached {
		t.Error("failed attach left state behind")
	}
}

func TestDisableForwardsPending(t *testing.T) {
	m, sess, events := setup(t, domain.DefaultInterceptOptions())
	sess.events <- pausedRequest("p1", "https://example.com/a")
	sess.events <- pausedRequest("p2", "https://example.com/b")
	waitEvent(t, events, domain.EventIntercepted)
	waitEvent(t, events, domain.EventIntercepted)

	if err := m.Disable(context.Background(), "t1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if c, _, _ := sess.counts(); c != 2 {
		t.Errorf("continued = %d, want 2", c)
	}
	if m.Len() != 0 || m.State("t1") != StateDetached {
		t.Error("disable left state behind")
	}
	if !sess.closed {
		t.Error("session not closed")
	}
	// 再次停用为空操作
	if err := m.Disable(context.Background(), "t1"); err != nil {
		t.Errorf("second Disable: %v", err)
	}
}

func TestTargetsMarksAttached(t *testing.T) {
	m, _, _ := setup(t, domain.DefaultInterceptOptions())
	list, err := m.Targets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, ti := range list {
		if ti.Attached != (ti.ID == "t1") {
			t.Errorf("target %s attached = %v", ti.ID, ti.Attached)
		}
	}
}

func TestSetOptionsInvalidFilter(t *testing.T) {
	m := New(&fakeDebugger{})
	m.SetOptions(domain.InterceptOptions{InterceptRequests: true, ScopeFilter: "bogus"})
	if m.Options().ScopeFilter != domain.ScopeAll {
		t.Errorf("filter = %q", m.Options().ScopeFilter)
	}
}
