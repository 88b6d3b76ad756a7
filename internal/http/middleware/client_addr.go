package middleware

import (
	"context"
	"net/http"
)

type clientAddrKey struct{}

// ClientAddr stashes the request's remote address in the context so
// handlers behind the OpenAPI layer can record it. Runs after RealIP so
// the address reflects forwarding headers.
func ClientAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientAddr returns the remote address recorded by ClientAddr, or
// empty when the middleware did not run.
func GetClientAddr(ctx context.Context) string {
	addr, _ := ctx.Value(clientAddrKey{}).(string)
	return addr
}
