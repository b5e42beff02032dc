package chi

import (
	"context"
	"net/http"
)

// Identity is the upstream-authenticated caller. The gateway in front of this
// service terminates user auth and forwards the result in trusted headers.
type Identity struct {
	UserID string
	OrgID  string
}

type identityCtxKey struct{}

const (
	headerUserID = "X-User-ID"
	headerOrgID  = "X-Org-ID"
)

// IdentityMiddleware reads the identity headers into the request context.
// Requests without headers pass through anonymously; handlers that need an
// identity reject them.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{
				UserID: r.Header.Get(headerUserID),
				OrgID:  r.Header.Get(headerOrgID),
			}
			if id.UserID != "" || id.OrgID != "" {
				r = r.WithContext(context.WithValue(r.Context(), identityCtxKey{}, id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// identityFromContext returns the caller identity, if any.
func identityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// requireIdentity writes a 401 and returns false when the caller identity is
// missing or incomplete.
func requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := identityFromContext(r.Context())
	if !ok || id.UserID == "" || id.OrgID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized,
			"missing "+headerUserID+" or "+headerOrgID+" header")
		return Identity{}, false
	}
	return id, true
}
