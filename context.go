package apiguard

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. Authenticate uses it
// for the invalid-key throttle and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
