package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/charityauth"
)

// ClientContext attaches the client IP and User-Agent to the request context.
// When trustProxy is set the first X-Forwarded-For entry wins over
// RemoteAddr; only enable it behind a proxy that overwrites the header.
func ClientContext(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := charityauth.WithClientIP(r.Context(), clientIP(r, trustProxy))
			ctx = charityauth.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
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
