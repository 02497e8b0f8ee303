package context

import (
	stdcontext "context"
	"strings"
)

type key int

const (
	requestIDKey key = iota
	sessionIDKey
	searchIDKey
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return withValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return valueFrom(ctx, requestIDKey)
}

// WithSession records the search session a request belongs to.
func WithSession(ctx stdcontext.Context, sessionID, searchID string) stdcontext.Context {
	ctx = withValue(ctx, sessionIDKey, sessionID)
	return withValue(ctx, searchIDKey, searchID)
}

func SessionIDFromContext(ctx stdcontext.Context) string {
	return valueFrom(ctx, sessionIDKey)
}

func SearchIDFromContext(ctx stdcontext.Context) string {
	return valueFrom(ctx, searchIDKey)
}

func withValue(ctx stdcontext.Context, k key, value string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, k, value)
}

func valueFrom(ctx stdcontext.Context, k key) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(k).(string)
	return value
}
