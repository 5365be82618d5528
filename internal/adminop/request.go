package adminop

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumenmart/backoffice/internal/audit"
)

// Request carries the transport details copied into operation log entries.
type Request struct {
	Method string
	Target string
	IP     string
	ID     string
}

type requestContextKey struct{}

// ContextWithRequest stores request details in ctx.
func ContextWithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, req)
}

// RequestFromContext returns the stored request details, if any.
func RequestFromContext(ctx context.Context) Request {
	req, _ := ctx.Value(requestContextKey{}).(Request)
	return req
}

// CaptureRequest records method, target, client IP and request id. It expects
// chi's RealIP and RequestID middleware to run first.
func CaptureRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		req := Request{
			Method: r.Method,
			Target: requestTarget(r.URL),
			IP:     ip,
			ID:     middleware.GetReqID(r.Context()),
		}
		next.ServeHTTP(w, r.WithContext(ContextWithRequest(r.Context(), req)))
	})
}

// requestTarget returns the request URI with denylisted query values
// replaced by the redaction marker. A query that does not parse is dropped.
func requestTarget(u *url.URL) string {
	if u.RawQuery == "" {
		return u.RequestURI()
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return path + "?" + audit.RedactedMarker
	}
	redacted := false
	for key, values := range query {
		if audit.IsDeniedKey(key) {
			for i := range values {
				values[i] = audit.RedactedMarker
			}
			redacted = true
		}
	}
	if !redacted {
		return u.RequestURI()
	}
	encoded := strings.ReplaceAll(query.Encode(), url.QueryEscape(audit.RedactedMarker), audit.RedactedMarker)
	return path + "?" + encoded
}
