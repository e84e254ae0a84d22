package api

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/shehryarbajwa/texbridge/internal/compiler"
	"github.com/shehryarbajwa/texbridge/internal/ratelimit"
)

// RateLimitMiddleware creates a middleware that enforces rate limits
func RateLimitMiddleware(limiter *ratelimit.Limiter, requestsPerHour int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			ok, remaining, retryAfter := limiter.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
			if !ok {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests,
					fmt.Sprintf("Rate limit exceeded. Maximum %d requests per hour per project.", requestsPerHour))
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey is the project id when the client names one, else its address
func rateLimitKey(r *http.Request) string {
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		return "project:" + projectID
	}
	if projectID := r.Header.Get(compiler.ProjectHeader); projectID != "" {
		return "project:" + projectID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// AuthMiddleware requires Authorization: Bearer <token>. An empty token
// disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimitMiddleware caps request bodies at maxBytes
func BodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("Request too large. Maximum size is %s.", humanize.Bytes(uint64(maxBytes))))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
