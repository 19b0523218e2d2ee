package app

import (
	"area-connect/internal/auth"
	"area-connect/internal/common/logging"
	"area-connect/internal/ratelimit"
)

func (app *App) initializeAuth() error {
	authInstance, err := auth.New(app.Config.JWTSecret, auth.WithLeeway(auth.DefaultLeeway))
	if err != nil {
		return err
	}
	app.Auth = authInstance

	if !app.Config.RateLimitEnabled() {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: app.Config.RateLimitRPS,
		BurstSize:         app.Config.RateLimitBurst,
	})
	if err != nil {
		return err
	}
	app.RateLimiter = limiter
	app.Logger.Info("Rate Limiting: Enabled",
		logging.Field{Key: "requests_per_second", Value: app.Config.RateLimitRPS},
		logging.Field{Key: "burst", Value: app.Config.RateLimitBurst},
	)
	return nil
}
