// Package handlers exposes the connection lifecycle over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"area-connect/internal/auth"
	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"
	"area-connect/internal/connect"
	"area-connect/internal/notifications"
)

// ConnectionManager is the part of connect.Manager the handlers drive.
type ConnectionManager interface {
	Providers() []string
	InitiateFlow(ctx context.Context, userID, providerKey string) (*connect.Flow, error)
	CompleteFlow(ctx context.Context, code, state string) (*connect.FlowResult, error)
	ListConnections(ctx context.Context, userID string) ([]connect.Connection, error)
	Disconnect(ctx context.Context, userID, providerKey string) (bool, error)
}

// NotificationFeed is the user-facing side of the notification emitter.
type NotificationFeed interface {
	List(ctx context.Context, userID string, filter notifications.Filter) ([]*notifications.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkResolved(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handlers struct {
	manager     ConnectionManager
	feed        NotificationFeed
	frontendURL string
	checks      []HealthCheck
	now         func() time.Time
}

func New(manager ConnectionManager, feed NotificationFeed, frontendURL string, checks ...HealthCheck) *Handlers {
	return &Handlers{
		manager:     manager,
		feed:        feed,
		frontendURL: frontendURL,
		checks:      checks,
		now:         time.Now,
	}
}

// HealthCheck reports whether every dependency answers
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			logging.WithContext(ctx).Warn("Health check failed",
				logging.String("dependency", check.Name), logging.Err(err))
			results[check.Name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    overall,
		"timestamp": h.now().UTC(),
		"checks":    results,
	})
}

// userID reads the caller set by auth.RequireAuth. Routes without it are
// misconfigured, so a missing user is a 401.
func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, r, errors.AuthError("authentication required"))
	}
	return id, ok
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps err to a status and a client-safe body. Causes are only
// logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: "internal server error", Code: string(errors.ErrTypeInternal)}
	if appErr, ok := errors.As(err); ok && status != http.StatusInternalServerError {
		resp = errorResponse{Error: appErr.Message, Code: string(appErr.Type)}
	}

	log := logging.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", err, logging.String("path", r.URL.Path))
	} else {
		log.Debug("Request rejected", logging.Err(err), logging.String("path", r.URL.Path))
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeInvalidState:
		return http.StatusBadRequest
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeNotFound, errors.ErrTypeUnknownProvider, errors.ErrTypeNotConnected:
		return http.StatusNotFound
	case errors.ErrTypeExchange, errors.ErrTypeRefresh, errors.ErrTypeRevocation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
