package middleware

import (
	"crypto/rand"
	"fmt"
	"net/http"
)

// Middleware wraps a handler, producing a new handler that runs before or
// after the wrapped one.
type Middleware func(next http.HandlerFunc) http.HandlerFunc

// Chain composes middlewares into one, applied in the given order — the
// first middleware listed is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(final http.HandlerFunc) http.HandlerFunc {
		h := final
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// CORS reflects the request's Origin back as the allowed origin only when it
// matches the request's own Host, so cross-origin calls from arbitrary
// domains are rejected while same-origin browser clients work.
func CORS() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				requestHost := r.Host
				if requestHost != "" && (origin == "http://"+requestHost || origin == "https://"+requestHost) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next(w, r)
		}
	}
}

// RequestID stamps every response with a random X-Request-Id header so a
// client-reported failure can be located in the logs.
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 8)
			rand.Read(id)
			w.Header().Set("X-Request-Id", fmt.Sprintf("%x", id))
			next(w, r)
		}
	}
}
