package handlers

import (
	"net/http"
	"strconv"

	"area-connect/internal/common/errors"
	"area-connect/internal/notifications"

	"github.com/gorilla/mux"
)

type notificationsResponse struct {
	Notifications []*notifications.Notification `json:"notifications"`
	Count         int                           `json:"count"`
}

// ListNotifications returns the caller's notification feed, newest first
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param is_read query bool false "Filter by read state"
// @Param is_resolved query bool false "Filter by resolved state"
// @Param service_name query string false "Filter by provider"
// @Param limit query int false "Maximum number of results"
// @Success 200 {object} notificationsResponse
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Router /auth/notifications/ [get]
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.feed.List(r.Context(), userID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*notifications.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: list, Count: len(list)})
}

// MarkNotificationRead marks one notification as read
// @Summary Mark notification read
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} errorResponse
// @Router /auth/notifications/{id}/mark_read/ [post]
func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.feed.MarkRead(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_read": true})
}

// MarkNotificationResolved marks one notification as resolved
// @Summary Mark notification resolved
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} errorResponse
// @Router /auth/notifications/{id}/mark_resolved/ [post]
func (h *Handlers) MarkNotificationResolved(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.feed.MarkResolved(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_resolved": true})
}

// MarkAllNotificationsRead marks the caller's whole feed as read
// @Summary Mark all notifications read
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int64
// @Router /auth/notifications/mark_all_read/ [post]
func (h *Handlers) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	n, err := h.feed.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": n})
}

// UnreadNotificationCount returns the number of unread notifications
// @Summary Unread notification count
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int
// @Router /auth/notifications/unread_count/ [get]
func (h *Handlers) UnreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	n, err := h.feed.UnreadCount(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

func parseFilter(r *http.Request) (notifications.Filter, error) {
	query := r.URL.Query()
	filter := notifications.Filter{ProviderKey: query.Get("service_name")}

	var err error
	if filter.IsRead, err = parseBoolParam(query.Get("is_read"), "is_read"); err != nil {
		return filter, err
	}
	if filter.IsResolved, err = parseBoolParam(query.Get("is_resolved"), "is_resolved"); err != nil {
		return filter, err
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > notifications.DefaultLimit {
			return filter, errors.ValidationError("limit must be between 1 and " + strconv.Itoa(notifications.DefaultLimit))
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseBoolParam(raw, name string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.ValidationError(name + " must be true or false")
	}
	return &v, nil
}
