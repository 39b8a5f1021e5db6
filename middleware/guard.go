package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/charityauth"
)

type accessContextKey struct{}

// AccessFromContext returns the token claims stored by Guard.
func AccessFromContext(ctx context.Context) (*charityauth.AccessResult, bool) {
	res, ok := ctx.Value(accessContextKey{}).(*charityauth.AccessResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token with 401.
func Guard(engine *charityauth.Engine) func(http.Handler) http.Handler {
	return guard(engine, nil)
}

// RequireRoles is Guard plus a role check. Holders of none of roles get 403.
func RequireRoles(engine *charityauth.Engine, roles ...charityauth.Role) func(http.Handler) http.Handler {
	allowed := append([]charityauth.Role(nil), roles...)
	return guard(engine, func(res *charityauth.AccessResult) bool {
		return res.Roles.HasAnyOf(allowed...)
	})
}

// RequireAdmin admits ADMIN and SUPER_ADMIN.
func RequireAdmin(engine *charityauth.Engine) func(http.Handler) http.Handler {
	return RequireRoles(engine, charityauth.RoleAdmin, charityauth.RoleSuperAdmin)
}

func guard(engine *charityauth.Engine, authorize func(*charityauth.AccessResult) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(token)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, charityauth.ErrEngineNotReady) {
					status = http.StatusServiceUnavailable
				}
				http.Error(w, http.StatusText(status), status)
				return
			}
			if authorize != nil && !authorize(res) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), accessContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
