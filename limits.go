package main

import (
	"net/http"

	"golang.org/x/time/rate"
)

// MaxClientsMiddleware caps the number of requests served at once. Requests
// arriving while every slot is busy get a 503 SlowDown.
func MaxClientsMiddleware(n int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		slots := make(chan struct{}, n)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				next.ServeHTTP(w, r)
			default:
				writeS3Error(w, "SlowDown", "Too many concurrent requests", http.StatusServiceUnavailable)
			}
		})
	}
}

// RateLimitMiddleware applies a token bucket of rps requests per second with
// the given burst. A non-positive rps disables limiting.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(rps), burst)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeS3Error(w, "SlowDown", "Please reduce your request rate", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
