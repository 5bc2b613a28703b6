package middleware

import (
	"net/http"

	"github.com/wardenkit/warden"
)

// RequireAdmin returns middleware that rejects non-admin callers with 403
// after the usual bearer-token check. The introspection result is still
// injected into the request context for the wrapped handler.
//
//	Docs: docs/middleware.md
func RequireAdmin(engine *warden.Engine) func(http.Handler) http.Handler {
	guard := Guard(engine)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := IntrospectionFromContext(r.Context())
			if !ok || !res.IsAdmin {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
