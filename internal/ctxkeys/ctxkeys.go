package ctxkeys

// TraceIDKey 请求追踪 ID 在 context 中的键
type TraceIDKey struct{}

// SessionIDKey 业务会话 ID 在 context 中的键
type SessionIDKey struct{}
