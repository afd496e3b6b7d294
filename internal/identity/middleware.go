package identity

import (
	"net/http"

	"limitgate/pkg/errors"
)

// RequireAuth resolves the bearer token on every request and rejects
// unauthenticated callers with 401. The resolved identity is stored in the
// request context for downstream handlers.
func (r *Resolver) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token, err := ExtractBearer(req.Header.Get("Authorization"))
		if err != nil {
			errors.WriteHTTP(w, err)
			return
		}

		id, err := r.Resolve(req.Context(), token)
		if err != nil {
			errors.WriteHTTP(w, err)
			return
		}

		next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), id)))
	})
}

// RequireRole rejects callers whose resolved identity lacks the role with
// 403. Must run after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id, ok := FromContext(req.Context())
			if !ok {
				errors.WriteHTTP(w, errors.NewError(errors.ErrorTypeUnauthorized, "authentication required"))
				return
			}
			if id.Role != role {
				errors.WriteHTTP(w, errors.NewError(errors.ErrorTypeForbidden, "insufficient permissions").
					WithDetail("required_role", role))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
