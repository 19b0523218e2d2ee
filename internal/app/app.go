package app

import (
	"context"
	"fmt"

	"area-connect/internal/auth"
	"area-connect/internal/common/logging"
	"area-connect/internal/config"
	"area-connect/internal/connect"
	"area-connect/internal/crypto"
	"area-connect/internal/csrf"
	"area-connect/internal/database"
	"area-connect/internal/locks"
	"area-connect/internal/notifications"
	"area-connect/internal/providers"
	"area-connect/internal/ratelimit"
	"area-connect/internal/redis"
	"area-connect/internal/tokens"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds all the application dependencies
type App struct {
	Config        *config.Config
	DB            *database.DB
	Sealer        *crypto.TokenSealer
	Tokens        tokens.Store
	Notifications *notifications.Emitter
	States        csrf.Store
	RedisClient   *redis.Client
	Locks         *locks.RedsyncManager
	Registry      *providers.Registry
	Manager       *connect.Manager
	Sweeper       *connect.Sweeper
	Auth          *auth.Auth
	RateLimiter   *ratelimit.Limiter
	Metrics       *prometheus.Registry
	Logger        logging.Logger
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Metrics: prometheus.NewRegistry(),
		Logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	app.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize components in order of dependency
	if err := app.initializeStorage(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeProviders(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeManager(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

func (app *App) initializeManager() error {
	metrics, err := connect.NewMetrics(app.Metrics)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	managerConfig := connect.Config{
		Registry:        app.Registry,
		Tokens:          app.Tokens,
		States:          app.States,
		Notifier:        app.Notifications,
		RefreshWindow:   app.Config.RefreshWindow,
		ProviderTimeout: app.Config.ProviderTimeout,
		Logger:          logging.GetGlobalLogger(),
		Metrics:         metrics,
	}
	if app.Locks != nil {
		managerConfig.Locker = app.Locks
	}

	manager, err := connect.NewManager(managerConfig)
	if err != nil {
		return err
	}
	app.Manager = manager

	if app.Config.ProactiveRefreshSchedule == "" {
		app.Logger.Info("Proactive refresh: Disabled")
		return nil
	}

	sweeper, err := connect.NewSweeper(manager, app.Config.ProactiveRefreshSchedule, 0)
	if err != nil {
		return err
	}
	app.Sweeper = sweeper
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			app.Logger.Warn("Error releasing distributed locks", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
	if app.DB != nil {
		app.DB.Close()
	}
}
