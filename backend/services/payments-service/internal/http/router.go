package httpserver

import (
	"net/http"
	"strings"

	"chargepay/backend/services/payments-service/internal/http/middleware"
)

const sessionsPrefix = "/api/v1/sessions/"

// Routes groups handlers.
type Routes struct {
	SessionStart       http.HandlerFunc
	SessionStop        http.HandlerFunc
	SessionCancel      http.HandlerFunc
	RecreateLink       http.HandlerFunc
	Refund             http.HandlerFunc
	GetLink            http.HandlerFunc
	SyncLink           http.HandlerFunc
	BalanceChecks      http.HandlerFunc
	UserSessions       http.HandlerFunc
	BalanceCheck       http.HandlerFunc
	RecentBalanceCheck http.HandlerFunc
	SessionEvents      http.HandlerFunc
	Precheck           http.HandlerFunc
	Providers          http.HandlerFunc
	StripeWebhook      http.Handler
	Health             http.HandlerFunc
	Metrics            http.Handler
}

// NewRouter registers endpoints. authMiddleware may be nil to serve the API unauthenticated;
// the webhook, health and metrics endpoints never require a token.
func NewRouter(routes Routes, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	authenticated := func(handler http.HandlerFunc) http.Handler {
		if authMiddleware == nil {
			return handler
		}
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("/api/v1/sessions/start", authenticated(method(http.MethodPost, routes.SessionStart)))
	mux.Handle("/api/v1/sessions/stop", authenticated(method(http.MethodPost, routes.SessionStop)))
	mux.Handle("/api/v1/sessions/cancel", authenticated(method(http.MethodPost, routes.SessionCancel)))
	mux.Handle("/api/v1/sessions/recreate-link", authenticated(method(http.MethodPost, routes.RecreateLink)))
	mux.Handle("/api/v1/sessions/refund", authenticated(method(http.MethodPost, routes.Refund)))
	mux.Handle(sessionsPrefix, authenticated(sessionPaths(routes)))

	mux.Handle("/api/v1/payments/precheck", authenticated(method(http.MethodPost, routes.Precheck)))
	mux.Handle("/api/v1/payments/providers", method(http.MethodGet, routes.Providers))

	mux.Handle("/api/v1/stripe/webhook", method(http.MethodPost, routes.StripeWebhook.ServeHTTP))

	mux.Handle("/health", method(http.MethodGet, routes.Health))
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, routes.Metrics.ServeHTTP))
	}
	return mux
}

// sessionPaths dispatches the parameterized session routes. Their first segment is either a
// keyword or an id, which ServeMux wildcards cannot tell apart without conflicting patterns.
func sessionPaths(routes Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, sessionsPrefix), "/"), "/")
		for _, p := range parts {
			if p == "" {
				http.NotFound(w, r)
				return
			}
		}

		var (
			handler http.HandlerFunc
			verb    = http.MethodGet
		)
		switch {
		case len(parts) == 2 && parts[0] == "link":
			r.SetPathValue("sessionId", parts[1])
			handler = routes.GetLink
		case len(parts) == 3 && parts[0] == "link" && parts[2] == "sync":
			r.SetPathValue("sessionId", parts[1])
			handler, verb = routes.SyncLink, http.MethodPost
		case len(parts) == 2 && parts[0] == "balance-check":
			r.SetPathValue("id", parts[1])
			handler = routes.BalanceCheck
		case len(parts) == 2 && parts[0] == "recent-balance-check":
			r.SetPathValue("userId", parts[1])
			handler = routes.RecentBalanceCheck
		case len(parts) == 2 && parts[1] == "balance-checks":
			r.SetPathValue("userId", parts[0])
			handler = routes.BalanceChecks
		case len(parts) == 2 && parts[1] == "sessions":
			r.SetPathValue("userId", parts[0])
			handler = routes.UserSessions
		case len(parts) == 2 && parts[1] == "events":
			r.SetPathValue("sessionId", parts[0])
			handler = routes.SessionEvents
		}
		if handler == nil {
			http.NotFound(w, r)
			return
		}
		method(verb, handler)(w, r)
	}
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
