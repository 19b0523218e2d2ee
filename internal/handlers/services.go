package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type connectedService struct {
	ServiceName      string     `json:"service_name"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	IsExpired        bool       `json:"is_expired"`
	ExpiresInMinutes *int       `json:"expires_in_minutes"`
	HasRefreshToken  bool       `json:"has_refresh_token"`
}

type servicesResponse struct {
	ConnectedServices  []connectedService `json:"connected_services"`
	AvailableProviders []string           `json:"available_providers"`
	TotalConnected     int                `json:"total_connected"`
}

// ListServices returns the caller's connected services without token values
// @Summary List connected services
// @Tags services
// @Produce json
// @Security BearerAuth
// @Success 200 {object} servicesResponse
// @Failure 401 {object} errorResponse
// @Router /auth/services/ [get]
func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	connections, err := h.manager.ListConnections(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.now()
	services := make([]connectedService, 0, len(connections))
	for _, c := range connections {
		svc := connectedService{
			ServiceName:     c.ProviderKey,
			CreatedAt:       c.CreatedAt,
			ExpiresAt:       c.ExpiresAt,
			IsExpired:       c.IsExpired,
			HasRefreshToken: c.HasRefreshToken,
		}
		if c.ExpiresAt != nil {
			minutes := 0
			if remaining := c.ExpiresAt.Sub(now); remaining > 0 {
				minutes = int(remaining / time.Minute)
			}
			svc.ExpiresInMinutes = &minutes
		}
		services = append(services, svc)
	}

	writeJSON(w, http.StatusOK, servicesResponse{
		ConnectedServices:  services,
		AvailableProviders: h.manager.Providers(),
		TotalConnected:     len(services),
	})
}

type disconnectResponse struct {
	Message           string `json:"message"`
	Service           string `json:"service"`
	RevokedAtProvider bool   `json:"revoked_at_provider"`
}

// DisconnectService revokes and removes one connection
// @Summary Disconnect a service
// @Description Revokes the grant at the provider when possible and always deletes the local connection
// @Tags services
// @Produce json
// @Security BearerAuth
// @Param provider path string true "Provider key"
// @Success 200 {object} disconnectResponse
// @Failure 401 {object} errorResponse
// @Failure 404 {object} errorResponse "Service not connected"
// @Router /auth/services/{provider}/disconnect/ [delete]
func (h *Handlers) DisconnectService(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	provider := mux.Vars(r)["provider"]
	revoked, err := h.manager.Disconnect(r.Context(), userID, provider)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, disconnectResponse{
		Message:           "Successfully disconnected from " + provider,
		Service:           provider,
		RevokedAtProvider: revoked,
	})
}
