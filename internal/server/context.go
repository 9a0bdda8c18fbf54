package server

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	remoteAddrKey
)

// WithRequestID returns a context carrying an operator request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "" when unset.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRemoteAddr returns a context carrying the caller's address.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// RemoteAddrFromContext returns the caller's address, or "" when unset.
func RemoteAddrFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(remoteAddrKey).(string); ok {
		return v
	}
	return ""
}
