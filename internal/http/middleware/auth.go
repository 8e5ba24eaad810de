package middleware

import (
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// TokenVerifier checks an identity token.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Authenticate rejects requests without a valid identity token and stores the
// identity in the request context.
func Authenticate(v TokenVerifier, logger logx.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logx.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(auth.TokenFromRequest(r))
			if err != nil {
				logger.Info("unauthenticated request",
					logx.String("req_id", chimw.GetReqID(r.Context())),
					logx.String("path", r.URL.Path),
					logx.Err(err),
				)
				writeDenied(w, logger, http.StatusUnauthorized, `{"code":"unauthorized","error":"missing or invalid token"}`)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole lets through only identities holding one of roles. It must run
// after Authenticate.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.FromContext(r.Context())
			if !ok {
				writeDenied(w, logx.Nop(), http.StatusUnauthorized, `{"code":"unauthorized","error":"missing or invalid token"}`)
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				writeDenied(w, logx.Nop(), http.StatusForbidden, `{"code":"forbidden","error":"role not allowed"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, logger logx.Logger, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body+"\n"); err != nil {
		logger.Debug("auth response write failed", logx.Err(err))
	}
}
