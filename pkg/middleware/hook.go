package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/platinummonkey/keystone/pkg/httputil"
)

// HookSecretHeader carries the shared secret on identity provider callbacks.
const HookSecretHeader = "X-Hook-Secret"

// RequireHookSecret rejects requests whose X-Hook-Secret does not match
// secret. An empty secret rejects everything.
func RequireHookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HookSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				httputil.WriteUnauthorized(w, "invalid hook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
