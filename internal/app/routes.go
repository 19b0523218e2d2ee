package app

import (
	"net/http"

	"area-connect/internal/handlers"
	"area-connect/internal/middleware"
	"area-connect/internal/ratelimit"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, rateLimiter *ratelimit.Limiter, metrics http.Handler) {
	router.Use(middleware.Recover)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	limit := func(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
		if rateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return rateLimiter.HTTPMiddleware(keyFunc)
	}

	// Health and metrics (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	// Provider redirect target. The state token identifies the user.
	router.Handle("/auth/oauth/{provider}/callback/",
		limit(ratelimit.IPKey)(http.HandlerFunc(h.OAuthCallback))).Methods(http.MethodGet)

	// Protected routes - require a bearer token
	protected := router.PathPrefix("/auth").Subrouter()
	protected.Use(authMiddleware)

	protected.Handle("/oauth/{provider}/",
		limit(ratelimit.UserOrIPKey)(http.HandlerFunc(h.InitiateOAuth))).Methods(http.MethodGet)

	// Connected services
	protected.HandleFunc("/services/", h.ListServices).Methods(http.MethodGet)
	protected.HandleFunc("/services/{provider}/disconnect/", h.DisconnectService).Methods(http.MethodDelete)

	// Notification feed; fixed paths before {id}
	protected.HandleFunc("/notifications/", h.ListNotifications).Methods(http.MethodGet)
	protected.HandleFunc("/notifications/unread_count/", h.UnreadNotificationCount).Methods(http.MethodGet)
	protected.HandleFunc("/notifications/mark_all_read/", h.MarkAllNotificationsRead).Methods(http.MethodPost)
	protected.HandleFunc("/notifications/{id}/mark_read/", h.MarkNotificationRead).Methods(http.MethodPost)
	protected.HandleFunc("/notifications/{id}/mark_resolved/", h.MarkNotificationResolved).Methods(http.MethodPost)
}
