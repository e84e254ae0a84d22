package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/texbridge/internal/ratelimit"
)

// RouteConfig carries the policies applied to compile routes
type RouteConfig struct {
	// AuthToken is required on compile routes when set
	AuthToken       string
	MaxRequestSize  int64
	RequestsPerHour int
}

// SetupRoutes configures all HTTP routes. accounts may be nil when no
// entitlement backend is configured.
func (h *Handler) SetupRoutes(accounts *AccountHandler, rateLimiter *ratelimit.Limiter, cfg RouteConfig) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", h.Status).Methods("GET")

	// Entitlement endpoints authenticate with the account token
	if accounts != nil {
		r.HandleFunc("/user/me", accounts.Me).Methods("GET")
		r.HandleFunc("/compile/authorize", accounts.Authorize).Methods("POST")
	}

	// Compile endpoints (size capped, authenticated, rate limited)
	compileAPI := r.PathPrefix("").Subrouter()
	compileAPI.Use(BodyLimitMiddleware(cfg.MaxRequestSize))
	compileAPI.Use(AuthMiddleware(cfg.AuthToken))
	if rateLimiter != nil {
		compileAPI.Use(RateLimitMiddleware(rateLimiter, cfg.RequestsPerHour))
	}
	compileAPI.HandleFunc("/compile", h.Compile).Methods("POST", "OPTIONS")
	compileAPI.HandleFunc("/compile-zip", h.CompileZip).Methods("POST", "OPTIONS")
	compileAPI.HandleFunc("/compile-delta", h.CompileDelta).Methods("POST", "OPTIONS")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
