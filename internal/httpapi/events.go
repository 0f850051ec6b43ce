package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"repplus/internal/logger"
	"repplus/internal/session"
	"repplus/pkg/api"
	"repplus/pkg/domain"
)

// typeFilter 解析 ?types=a,b，为空表示不过滤
func typeFilter(r *http.Request) map[string]bool {
	q := r.URL.Query().Get("types")
	if q == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = true
		}
	}
	return filter
}

func subscribe(svc api.Service, w http.ResponseWriter, r *http.Request) (<-chan domain.Event, func(), bool) {
	id := domain.SessionID(chi.URLParam(r, "id"))
	ch, cancel, err := svc.SubscribeEvents(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return nil, nil, false
	}
	return ch, cancel, true
}

// sseHandler 以 Server-Sent Events 推送会话事件
func sseHandler(svc api.Service, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		filter := typeFilter(r)
		ch, cancel, ok := subscribe(svc, w, r)
		if !ok {
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if filter != nil && !filter[evt.Type] {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					l.Err(err, "事件序列化失败", "type", evt.Type)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
				flusher.Flush()
			}
		}
	}
}

// wsHandler 以 WebSocket 文本帧推送会话事件，客户端消息被忽略
func wsHandler(svc api.Service, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := typeFilter(r)
		ch, cancel, ok := subscribe(svc, w, r)
		if !ok {
			return
		}
		defer cancel()

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			l.Err(err, "WebSocket 升级失败")
			return
		}
		defer conn.Close()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case evt, ok := <-ch:
				if !ok {
					_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "session closed")))
					return
				}
				if filter != nil && !filter[evt.Type] {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					l.Err(err, "事件序列化失败", "type", evt.Type)
					continue
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					l.Debug("WebSocket 写入失败，断开", "error", err.Error())
					return
				}
			}
		}
	}
}
