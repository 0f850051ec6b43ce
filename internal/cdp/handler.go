package cdp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	cdpadapter "repplus/internal/adapter/cdp"
	"repplus/internal/rawhttp"
	"repplus/pkg/domain"
)

// 暂停放行时浏览器不允许覆盖的头部
var (
	requestForbidden  = []string{"Host", "Content-Length"}
	responseForbidden = []string{"Content-Length"}
)

// handle 处理一次暂停事件：不拦截则立即放行，否则入队等待操作者决定
func (m *Manager) handle(ts *targetSession, p Paused) {
	stage := p.Stage()
	opts := m.Options()

	m.targetsMu.Lock()
	disabling := ts.state == StateDisabling
	m.targetsMu.Unlock()
	if disabling {
		m.degradeAndContinue(ts, p, "拦截正在停用")
		return
	}

	enabled := opts.InterceptRequests
	if stage == domain.KindResponse {
		enabled = opts.InterceptResponses
	}
	if !enabled {
		m.degradeAndContinue(ts, p, "该阶段未开启拦截")
		return
	}
	if !m.scope.Allows(opts.ScopeFilter, p.URL) {
		m.degradeAndContinue(ts, p, "不在拦截范围内")
		return
	}

	tx := domain.Transaction{
		Kind:         stage,
		TabID:        ts.id,
		PausedID:     string(p.RequestID),
		Method:       p.Method,
		URL:          p.URL,
		ResourceType: p.ResourceType,
		Timestamp:    time.Now(),
	}
	if stage == domain.KindRequest {
		tx.ID = fmt.Sprintf("req_%d", m.seq.Add(1))
		tx.Headers = p.Headers.Clone()
		tx.Body = p.PostData
	} else {
		tx.ID = fmt.Sprintf("res_%d", m.seq.Add(1))
		tx.Headers = p.ResponseHeaders.Clone()
		if p.ResponseStatusCode != nil {
			tx.StatusCode = *p.ResponseStatusCode
		}
		tx.StatusText = p.ResponseStatusText
		if tx.StatusText == "" {
			tx.StatusText = http.StatusText(tx.StatusCode)
		}
		tx.Body = m.fetchResponseBody(ts, p)
	}

	m.queueMu.Lock()
	m.queue = append(m.queue, &queued{tx: tx, ts: ts})
	m.queueMu.Unlock()

	c := tx.Clone()
	m.sendEvent(domain.Event{
		Type:        domain.EventIntercepted,
		Target:      ts.id,
		Transaction: &c,
		URL:         tx.URL,
		Method:      tx.Method,
		Stage:       stage,
	})
	m.log.Debug("事务已入队", "id", tx.ID, "stage", string(stage), "url", tx.URL)
}

// fetchResponseBody 尽力获取响应体，失败时返回空
func (m *Manager) fetchResponseBody(ts *targetSession, p Paused) []byte {
	if p.ResponseErrorReason != "" {
		return nil
	}
	ctx, cancel := m.commandContext(ts.ctx)
	defer cancel()
	body, err := ts.sess.GetResponseBody(ctx, p.RequestID)
	if err != nil {
		m.log.Warn("获取响应体失败，按空响应体入队", "target", string(ts.id), "url", p.URL, "error", err.Error())
		return nil
	}
	return body
}

// degradeAndContinue 不拦截时原样放行，恰好发出一次 continueRequest
func (m *Manager) degradeAndContinue(ts *targetSession, p Paused, reason string) {
	ctx, cancel := m.commandContext(ts.ctx)
	defer cancel()
	if err := ts.sess.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: p.RequestID}); err != nil {
		m.log.Err(err, "自动放行失败", "target", string(ts.id), "url", p.URL)
		m.sendEvent(domain.Event{Type: domain.EventError, Target: ts.id, URL: p.URL, Method: p.Method, Stage: p.Stage(), Error: err.Error()})
		return
	}
	m.log.Debug("自动放行", "target", string(ts.id), "reason", reason, "url", p.URL)
	m.sendEvent(domain.Event{Type: domain.EventAutoContinued, Target: ts.id, URL: p.URL, Method: p.Method, Stage: p.Stage()})
}

// Queue 按入队顺序返回待处理事务的副本
func (m *Manager) Queue() []domain.Transaction {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	out := make([]domain.Transaction, 0, len(m.queue))
	for _, q := range m.queue {
		out = append(out, q.tx.Clone())
	}
	return out
}

// Get 按标识查找待处理事务
func (m *Manager) Get(id string) (domain.Transaction, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	for _, q := range m.queue {
		if q.tx.ID == id {
			return q.tx.Clone(), true
		}
	}
	return domain.Transaction{}, false
}

// Len 待处理事务数量
func (m *Manager) Len() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return len(m.queue)
}

// take 从队列中取出事务，之后只有调用方能处理它
func (m *Manager) take(id string) (*queued, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	for i, q := range m.queue {
		if q.tx.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return q, true
		}
	}
	return nil, false
}

// Forward 放行事务。未修改时只携带暂停标识；修改过的请求覆盖方法、URL、头部与请求体，
// 修改过的响应以 fulfillRequest 替换
func (m *Manager) Forward(ctx context.Context, tx domain.Transaction) error {
	q, ok := m.take(tx.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, tx.ID)
	}
	if !m.live(q.ts) {
		m.log.Warn("会话已断开，事务被丢弃", "id", tx.ID, "target", string(q.ts.id))
		return &SessionLostError{Tab: q.ts.id, TransactionID: tx.ID}
	}

	orig := q.tx
	id := fetch.RequestID(orig.PausedID)
	if tx.Modified {
		// 未给出头部时沿用原头部，与状态码的回退一致
		if tx.Headers == nil {
			tx.Headers = orig.Headers
		}
		// continueRequest 不能清空 postData，空请求体即保留原值
		if orig.Kind == domain.KindRequest && len(tx.Body) == 0 {
			tx.Body = orig.Body
		}
	}
	cctx, cancel := m.commandContext(ctx)
	defer cancel()

	var (
		command string
		err     error
		sent    = orig
	)
	switch {
	case !tx.Modified:
		command = "Fetch.continueRequest"
		err = q.ts.sess.ContinueRequest(cctx, &fetch.ContinueRequestArgs{RequestID: id})
	case orig.Kind == domain.KindRequest:
		command = "Fetch.continueRequest"
		args := &fetch.ContinueRequestArgs{
			RequestID: id,
			Headers:   cdpadapter.ToHeaderEntries(tx.Headers.Without(requestForbidden...)),
		}
		if tx.URL != "" {
			u := tx.URL
			args.URL = &u
		}
		if tx.Method != "" {
			method := tx.Method
			args.Method = &method
		}
		if len(tx.Body) > 0 {
			args.PostData = tx.Body
		}
		err = q.ts.sess.ContinueRequest(cctx, args)
		sent = mergeEdit(orig, tx)
	default:
		command = "Fetch.fulfillRequest"
		status := tx.StatusCode
		if status == 0 {
			status = orig.StatusCode
		}
		args := &fetch.FulfillRequestArgs{
			RequestID:       id,
			ResponseCode:    status,
			ResponseHeaders: cdpadapter.ToHeaderEntries(tx.Headers.Without(responseForbidden...)),
			Body:            tx.Body,
		}
		if tx.StatusText != "" {
			phrase := tx.StatusText
			args.ResponsePhrase = &phrase
		}
		err = q.ts.sess.FulfillRequest(cctx, args)
		sent = mergeEdit(orig, tx)
		sent.StatusCode = status
	}
	if err != nil {
		m.log.Err(err, "放行失败，事务已移出队列", "id", tx.ID, "command", command)
		m.sendEvent(domain.Event{Type: domain.EventError, Target: q.ts.id, URL: orig.URL, Method: orig.Method, Stage: orig.Kind, Error: err.Error()})
		return &CommandFailure{Command: command, TransactionID: tx.ID, Err: err}
	}

	m.sendEvent(domain.Event{
		Type:        domain.EventForwarded,
		Target:      q.ts.id,
		Transaction: &sent,
		URL:         sent.URL,
		Method:      sent.Method,
		Stage:       orig.Kind,
	})
	m.log.Debug("事务已放行", "id", tx.ID, "modified", tx.Modified)
	return nil
}

// ForwardRaw 解析操作者编辑后的原始文本并放行；解析失败时事务保留在队列中
func (m *Manager) ForwardRaw(ctx context.Context, id, raw string) error {
	orig, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	edited := orig
	edited.Modified = true
	if orig.Kind == domain.KindRequest {
		req, err := rawhttp.Decode(raw)
		if err != nil {
			return err
		}
		edited.Method, edited.URL, edited.Headers, edited.Body = req.Method, req.URL, req.Headers, req.Body
	} else {
		resp, err := rawhttp.DecodeResponse(raw)
		if err != nil {
			return err
		}
		edited.StatusCode, edited.StatusText, edited.Headers, edited.Body = resp.StatusCode, resp.StatusText, resp.Headers, resp.Body
	}
	return m.Forward(ctx, edited)
}

// Drop 以 BlockedByClient 使暂停的请求失败
func (m *Manager) Drop(ctx context.Context, id string) error {
	q, ok := m.take(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	if !m.live(q.ts) {
		m.log.Warn("会话已断开，事务被丢弃", "id", id, "target", string(q.ts.id))
		return &SessionLostError{Tab: q.ts.id, TransactionID: id}
	}

	cctx, cancel := m.commandContext(ctx)
	defer cancel()
	err := q.ts.sess.FailRequest(cctx, &fetch.FailRequestArgs{
		RequestID:   fetch.RequestID(q.tx.PausedID),
		ErrorReason: network.ErrorReasonBlockedByClient,
	})
	if err != nil {
		m.log.Err(err, "丢弃失败，事务已移出队列", "id", id)
		m.sendEvent(domain.Event{Type: domain.EventError, Target: q.ts.id, URL: q.tx.URL, Method: q.tx.Method, Stage: q.tx.Kind, Error: err.Error()})
		return &CommandFailure{Command: "Fetch.failRequest", TransactionID: id, Err: err}
	}

	tx := q.tx
	m.sendEvent(domain.Event{Type: domain.EventDropped, Target: q.ts.id, Transaction: &tx, URL: tx.URL, Method: tx.Method, Stage: tx.Kind})
	m.log.Debug("事务已丢弃", "id", id)
	return nil
}

// ForwardAll 原样放行某标签页的全部待处理事务，tab 为空表示全部标签页，返回成功数量
func (m *Manager) ForwardAll(ctx context.Context, tab domain.TargetID) int {
	n := 0
	for _, tx := range m.pending(tab) {
		tx.Modified = false
		if err := m.Forward(ctx, tx); err == nil {
			n++
		}
	}
	return n
}

// DropAll 丢弃某标签页的全部待处理事务，tab 为空表示全部标签页，返回成功数量
func (m *Manager) DropAll(ctx context.Context, tab domain.TargetID) int {
	n := 0
	for _, tx := range m.pending(tab) {
		if err := m.Drop(ctx, tx.ID); err == nil {
			n++
		}
	}
	return n
}

func (m *Manager) pending(tab domain.TargetID) []domain.Transaction {
	var out []domain.Transaction
	for _, tx := range m.Queue() {
		if tab == "" || tx.TabID == tab {
			out = append(out, tx)
		}
	}
	return out
}

// discardTab 移除某个已关闭会话遗留的事务
func (m *Manager) discardTab(ts *targetSession) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	kept := m.queue[:0]
	for _, q := range m.queue {
		if q.ts != ts {
			kept = append(kept, q)
		}
	}
	clear(m.queue[len(kept):])
	m.queue = kept
}

// mergeEdit 以编辑后的字段覆盖原事务，用于通知与历史记录
func mergeEdit(orig, edit domain.Transaction) domain.Transaction {
	out := orig.Clone()
	out.Modified = true
	if edit.Method != "" {
		out.Method = edit.Method
	}
	if edit.URL != "" {
		out.URL = edit.URL
	}
	out.Headers = edit.Headers.Clone()
	out.Body = edit.Body
	if edit.StatusText != "" {
		out.StatusText = edit.StatusText
	}
	if edit.StatusCode != 0 {
		out.StatusCode = edit.StatusCode
	}
	return out
}
