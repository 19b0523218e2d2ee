package app

import (
	"strings"

	"area-connect/internal/circuitbreaker"
	"area-connect/internal/common/errors"
	commonhttp "area-connect/internal/common/http"
	"area-connect/internal/common/logging"
	"area-connect/internal/providers"
)

func (app *App) initializeProviders() error {
	registry := providers.NewRegistry()
	client := commonhttp.NewHTTPClientWithTimeout(app.Config.ProviderTimeout)
	breaker := circuitbreaker.OAuthConfig

	options := func(key, clientID, clientSecret string) providers.Options {
		return providers.Options{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL(app.Config.BackendURL, key),
			Timeout:      app.Config.ProviderTimeout,
			HTTPClient:   client,
			Breaker:      &breaker,
			Logger:       logging.GetGlobalLogger(),
		}
	}

	if app.Config.HasGoogle() {
		google, err := providers.NewGoogleProvider(options(providers.GoogleKey, app.Config.GoogleClientID, app.Config.GoogleClientSecret))
		if err != nil {
			return err
		}
		registry.Register(google)
	}

	if app.Config.HasGitHub() {
		github, err := providers.NewGitHubProvider(options(providers.GitHubKey, app.Config.GitHubClientID, app.Config.GitHubClientSecret))
		if err != nil {
			return err
		}
		registry.Register(github)
	}

	if registry.Len() == 0 {
		return errors.ConfigError("no OAuth providers configured")
	}

	app.Registry = registry
	app.Logger.Info("OAuth providers registered", logging.Field{Key: "providers", Value: registry.Keys()})
	return nil
}

// callbackURL is the redirect URI registered with the provider.
func callbackURL(backendURL, providerKey string) string {
	return strings.TrimRight(backendURL, "/") + "/auth/oauth/" + providerKey + "/callback/"
}
