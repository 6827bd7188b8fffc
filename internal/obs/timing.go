// Package obs holds small observability helpers shared by the service.
package obs

import (
	"context"
	"time"
)

type ctxKey string

// RequestIDKey is the context key under which middleware.RequestID stores
// the request id.
const RequestIDKey ctxKey = "req_id"

// Logger is a printf-style logging function. nil means silent.
type Logger func(format string, args ...any)

// RequestID returns the request id carried by ctx, or "-" when absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return "-"
}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// Time starts a timer for op. Call the returned function (usually deferred)
// with a pointer to the operation's error to log its duration and outcome.
func Time(ctx context.Context, logf Logger, op string) func(errp *error) {
	start := time.Now()
	reqID := RequestID(ctx)

	return func(errp *error) {
		if logf == nil {
			return
		}
		dur := time.Since(start)
		if errp != nil && *errp != nil {
			logf("req_id=%s op=%s dur=%dms err=%v", reqID, op, dur.Milliseconds(), *errp)
			return
		}
		logf("req_id=%s op=%s dur=%dms", reqID, op, dur.Milliseconds())
	}
}
