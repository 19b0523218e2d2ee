package app

import (
	"context"

	"area-connect/internal/handlers"
	"area-connect/internal/server"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP handler with all routes configured
func (app *App) Router() *mux.Router {
	checks := []handlers.HealthCheck{{Name: "database", Check: app.DB.PingContext}}
	if app.RedisClient != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: func(context.Context) error {
			return app.RedisClient.Health()
		}})
	}

	h := handlers.New(app.Manager, app.Notifications, app.Config.FrontendURL, checks...)

	router := mux.NewRouter()
	metrics := promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{Registry: app.Metrics})
	SetupRoutes(router, h, app.Auth.RequireAuth, app.RateLimiter, metrics)
	return router
}

// RunServer creates the HTTP server and starts the background sweeper
func (app *App) RunServer() *server.Server {
	if app.Sweeper != nil {
		app.Sweeper.Start()
	}
	return server.New(app.Router(), app.Config.Port, "", "")
}

// Shutdown gracefully stops background work
func (app *App) Shutdown(ctx context.Context) error {
	if app.Sweeper != nil {
		if err := app.Sweeper.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}
