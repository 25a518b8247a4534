package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/apiguard/apiguard"
)

// Header names used by Guard.
const (
	DefaultKeyHeader         = "X-Api-Key"
	DefaultKeyIDHeader       = "X-ApiGuard-Key-Id"
	DefaultWorkspaceIDHeader = "X-ApiGuard-Workspace-Id"

	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

// Authenticator is the engine surface Guard needs.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (*apiguard.AuthResult, error)
}

// Options configures Guard. Zero values select the defaults.
type Options struct {
	// KeyHeader carries the presented API key.
	KeyHeader string
	// KeyIDHeader and WorkspaceIDHeader carry the trusted identity to the
	// protected handler. Inbound values are always removed.
	KeyIDHeader       string
	WorkspaceIDHeader string
	// UnavailableStatus is returned when the key store or limiter fails.
	// Zero means 503.
	UnavailableStatus int
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// entry instead of the connection address.
	TrustForwardedFor bool
}

func (o Options) withDefaults() Options {
	if o.KeyHeader == "" {
		o.KeyHeader = DefaultKeyHeader
	}
	if o.KeyIDHeader == "" {
		o.KeyIDHeader = DefaultKeyIDHeader
	}
	if o.WorkspaceIDHeader == "" {
		o.WorkspaceIDHeader = DefaultWorkspaceIDHeader
	}
	if o.UnavailableStatus == 0 {
		o.UnavailableStatus = http.StatusServiceUnavailable
	}
	return o
}

type authResultContextKey struct{}

// ResultFromContext returns the result Guard attached to a forwarded request.
func ResultFromContext(ctx context.Context) (*apiguard.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*apiguard.AuthResult)
	return res, ok
}

// Guard admits requests that present an active API key within its quota and
// rejects everything else with a JSON error body. Forwarded requests carry
// the key and workspace ids in trusted headers and, for keys with a quota,
// the X-RateLimit headers.
func Guard(engine Authenticator, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(opts.KeyIDHeader)
			r.Header.Del(opts.WorkspaceIDHeader)

			if engine == nil {
				writeError(w, http.StatusServiceUnavailable, apiguard.ErrEngineNotReady)
				return
			}

			secret := strings.TrimSpace(r.Header.Get(opts.KeyHeader))
			ctx := apiguard.WithClientIP(r.Context(), clientIP(r, opts.TrustForwardedFor))

			res, err := engine.Authenticate(ctx, secret)
			if err != nil {
				reject(w, err, opts.UnavailableStatus)
				return
			}

			if res.Quota != nil {
				setRateHeaders(w.Header(), *res.Quota)
			}
			r.Header.Set(opts.KeyIDHeader, res.Key.ID)
			r.Header.Set(opts.WorkspaceIDHeader, res.Key.WorkspaceID)

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, authResultContextKey{}, res)))
		})
	}
}

func reject(w http.ResponseWriter, err error, unavailable int) {
	var rl *apiguard.RateLimitError
	if errors.As(err, &rl) {
		setRateHeaders(w.Header(), rl.Quota)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": apiguard.PublicMessage(err),
			"reset": rl.Quota.ResetUnix(),
		})
		return
	}
	writeError(w, apiguard.StatusCode(err, unavailable), err)
}

func setRateHeaders(h http.Header, q apiguard.Quota) {
	h.Set(HeaderRateLimit, strconv.Itoa(q.Limit))
	h.Set(HeaderRateRemaining, strconv.Itoa(q.Remaining))
	h.Set(HeaderRateReset, strconv.FormatInt(q.ResetUnix(), 10))
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": apiguard.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
