package app

import (
	"context"
	"fmt"

	"area-connect/internal/common/logging"
	"area-connect/internal/crypto"
	"area-connect/internal/database"
	"area-connect/internal/notifications"
	"area-connect/internal/tokens"
)

func (app *App) initializeStorage(ctx context.Context) error {
	dbConfig := database.Config{Type: app.Config.DatabaseType}

	if app.Config.IsPostgres() {
		app.Logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
		dbConfig.PostgresDSN = app.Config.PostgresDSN()
	} else {
		app.Logger.Info("Database: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
		dbConfig.Path = app.Config.DatabasePath
	}

	db, err := database.Open(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db

	sealer, err := crypto.NewTokenSealer(app.Config.TokenEncryptionKey)
	if err != nil {
		return err
	}
	app.Sealer = sealer

	tokenStore, err := tokens.NewSQLStore(ctx, db, sealer)
	if err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}
	app.Tokens = tokenStore

	noteStore, err := notifications.NewSQLStore(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to initialize notification store: %w", err)
	}
	app.Notifications = notifications.NewEmitter(noteStore)

	app.Logger.Info("Token storage: Database (encrypted)")
	return nil
}
