package api

import (
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "X-Api-Key"

// requireAPIKey rejects requests whose X-Api-Key header matches none of keys.
// With no keys configured every request passes.
func requireAPIKey(keys []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(apiKeyHeader))
			for _, k := range allowed {
				if subtle.ConstantTimeCompare(got, k) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, "missing or invalid api key")
		})
	}
}
