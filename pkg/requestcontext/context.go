// Package requestcontext carries request-scoped values across layers that
// must not depend on net/http. Middleware writes them; services and stores
// read them.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	keyClientIP key = iota
	keyUserAgent
	keyRequestID
	keyRequestTime
)

func stringValue(ctx context.Context, k key) string {
	s, _ := ctx.Value(k).(string)
	return s
}

func ClientIP(ctx context.Context) string {
	return stringValue(ctx, keyClientIP)
}

func UserAgent(ctx context.Context) string {
	return stringValue(ctx, keyUserAgent)
}

// WithClientMetadata stores the caller's address and User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(context.WithValue(ctx, keyClientIP, clientIP), keyUserAgent, userAgent)
}

// RequestID returns the correlation id, or "" outside a request.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, keyRequestID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now returns the time the request started. Workers and the CLI have no
// request time and get the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(keyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
