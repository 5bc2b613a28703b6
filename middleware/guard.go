package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/wardenkit/warden"
)

type introspectionContextKey struct{}

func IntrospectionFromContext(ctx context.Context) (warden.IntrospectionResult, bool) {
	res, ok := ctx.Value(introspectionContextKey{}).(warden.IntrospectionResult)
	return res, ok
}

func Guard(engine *warden.Engine) func(http.Handler) http.Handler {
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

			res := engine.Introspect(r.Context(), token)
			if !res.Active {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), introspectionContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
