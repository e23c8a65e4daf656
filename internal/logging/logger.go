package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
)

type ctxKey string

const (
	sessionKeyField ctxKey = "session_key"
	userKeyField    ctxKey = "user_key"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	var err error
	if os.Getenv("DEBUG") == "true" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		logger = zap.NewNop()
	}
}

// L returns the process-wide logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns the logger annotated with fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// WithSession stores the session and user key on ctx for WithCtx.
func WithSession(ctx context.Context, sessionKey, userKey string) context.Context {
	ctx = context.WithValue(ctx, sessionKeyField, sessionKey)
	return context.WithValue(ctx, userKeyField, userKey)
}

// WithCtx returns the logger annotated with request-scoped values found on ctx.
func WithCtx(ctx context.Context) *zap.Logger {
	fields := []zap.Field{}
	if v, ok := ctx.Value(sessionKeyField).(string); ok && v != "" {
		fields = append(fields, zap.String(string(sessionKeyField), v))
	}
	if v, ok := ctx.Value(userKeyField).(string); ok && v != "" {
		fields = append(fields, zap.String(string(userKeyField), v))
	}
	return L().With(fields...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync()
}
