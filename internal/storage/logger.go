package storage

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"repplus/internal/ctxkeys"
	"repplus/internal/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

// GormLogger 将 gorm 日志转发到项目日志器，附带请求追踪 ID
type GormLogger struct {
	logger.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 创建 gorm 日志适配器，默认只记录告警以上
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{
		Logger:        l,
		LogLevel:      gormlogger.Warn,
		SlowThreshold: defaultSlowThreshold,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.LogLevel = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(msg, withTrace(ctx, "data", data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(msg, withTrace(ctx, "data", data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error(msg, withTrace(ctx, "data", data)...)
	}
}

// Trace 记录 SQL 执行，错误与慢查询分别按 error/warn 输出
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := withTrace(ctx,
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds())/1e6,
	)

	switch {
	case err != nil && err != gormlogger.ErrRecordNotFound && l.LogLevel >= gormlogger.Error:
		l.Logger.Error("SQL执行错误", append(fields, "error", err.Error())...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		l.Logger.Warn("慢SQL查询", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == gormlogger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}

func withTrace(ctx context.Context, kv ...any) []any {
	if id, ok := ctx.Value(ctxkeys.TraceIDKey{}).(string); ok && id != "" {
		return append([]any{"traceId", id}, kv...)
	}
	return kv
}
