package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"repplus/internal/ctxkeys"
	"repplus/internal/logger"
)

const traceHeader = "X-Trace-Id"

// traceID 为每个请求分配追踪 ID，历史存储的 SQL 日志会带上它
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(traceHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(traceHeader, id)
		ctx := context.WithValue(r.Context(), ctxkeys.TraceIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.Debug("HTTP请求",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"durationMs", time.Since(start).Milliseconds(),
				"traceId", r.Context().Value(ctxkeys.TraceIDKey{}),
			)
		})
	}
}
