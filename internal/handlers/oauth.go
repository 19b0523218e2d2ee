package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"

	"github.com/gorilla/mux"
)

// Callback error kinds reported to the frontend.
const (
	callbackInvalidState      = "invalid_state"
	callbackExchangeFailed    = "exchange_failed"
	callbackAccessDenied      = "access_denied"
	callbackMissingParameters = "missing_parameters"
	callbackInternalError     = "internal_error"
)

// InitiateOAuth starts an authorization flow for the caller
// @Summary Start OAuth authorization
// @Description Mints a single-use CSRF state and returns the provider consent URL
// @Tags oauth
// @Produce json
// @Security BearerAuth
// @Param provider path string true "Provider key"
// @Success 200 {object} connect.Flow
// @Failure 401 {object} errorResponse
// @Failure 404 {object} errorResponse "Unknown provider"
// @Router /auth/oauth/{provider}/ [get]
func (h *Handlers) InitiateOAuth(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	flow, err := h.manager.InitiateFlow(r.Context(), userID, mux.Vars(r)["provider"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// OAuthCallback completes an authorization flow and redirects to the frontend
// @Summary OAuth callback
// @Description Provider redirect target. The state token identifies the user; no bearer token is needed.
// @Tags oauth
// @Param provider path string true "Provider key"
// @Param code query string false "Authorization code"
// @Param state query string false "CSRF state"
// @Param error query string false "Provider error, e.g. access_denied"
// @Success 302 {string} string "Redirect to <frontend>/auth/callback/{provider}"
// @Router /auth/oauth/{provider}/callback/ [get]
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	query := r.URL.Query()
	log := logging.WithContext(r.Context()).WithFields(logging.String("provider", provider))

	if providerErr := query.Get("error"); providerErr != "" {
		message := query.Get("error_description")
		if message == "" {
			message = "Authorization was denied: " + providerErr
		}
		log.Info("Provider reported authorization error", logging.String("error", providerErr))
		h.redirectError(w, r, provider, callbackAccessDenied, message)
		return
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		h.redirectError(w, r, provider, callbackMissingParameters, "Missing code or state parameter")
		return
	}

	result, err := h.manager.CompleteFlow(r.Context(), code, state)
	if result != nil && result.ProviderKey != "" {
		if result.ProviderKey != provider {
			log.Warn("Callback provider does not match state",
				logging.String("state_provider", result.ProviderKey))
		}
		provider = result.ProviderKey
	}
	if err != nil {
		kind, message := callbackFailure(err)
		if kind == callbackInternalError {
			log.Error("Authorization callback failed", err)
		}
		h.redirectError(w, r, provider, kind, message)
		return
	}

	params := url.Values{}
	params.Set("success", "true")
	params.Set("service", provider)
	params.Set("created", strconv.FormatBool(result.Created))
	http.Redirect(w, r, h.callbackURL(provider, params), http.StatusFound)
}

func callbackFailure(err error) (string, string) {
	switch errors.GetType(err) {
	case errors.ErrTypeInvalidState:
		return callbackInvalidState, "Invalid or expired authorization state"
	case errors.ErrTypeExchange:
		return callbackExchangeFailed, "Failed to exchange authorization code"
	default:
		return callbackInternalError, "Unable to complete the connection"
	}
}

func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, provider, kind, message string) {
	params := url.Values{}
	params.Set("error", kind)
	params.Set("message", message)
	http.Redirect(w, r, h.callbackURL(provider, params), http.StatusFound)
}

func (h *Handlers) callbackURL(provider string, params url.Values) string {
	return h.frontendURL + "/auth/callback/" + url.PathEscape(provider) + "?" + params.Encode()
}
