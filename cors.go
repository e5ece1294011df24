package main

import (
	"net/http"
	"slices"
)

// CORSMiddleware adds CORS headers to every response and answers OPTIONS
// preflight requests so browser-based S3 clients can talk to geckomem
// directly. With no allowed origins configured every origin is echoed back.
func CORSMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowOrigins) == 0 || slices.Contains(allowOrigins, "*"):
				if origin == "" {
					origin = "*"
				}
			case !slices.Contains(allowOrigins, origin):
				origin = ""
			}

			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, HEAD, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers",
					"Authorization, Content-Type, Content-Length, Range, X-Amz-Content-Sha256, "+
						"X-Amz-Date, X-Amz-Copy-Source, X-Amz-User-Agent, X-Geckomem-Move")
				w.Header().Set("Access-Control-Expose-Headers", "ETag, Content-Range")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
