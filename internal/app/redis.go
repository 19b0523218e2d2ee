package app

import (
	"strconv"

	"area-connect/internal/common/logging"
	"area-connect/internal/config"
	"area-connect/internal/csrf"
	"area-connect/internal/locks"
	"area-connect/internal/redis"
)

func (app *App) initializeRedis() error {
	stateOptions := csrf.Options{TTL: app.Config.StateTTL}

	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (in-memory CSRF states, process-local refresh locks)")
		app.States = csrf.NewMemoryStore(stateOptions)
		return nil
	}

	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		return err
	}
	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})

	lockManager, err := locks.NewRedsyncManager(redisClient, locks.DefaultOptions(app.Config.ProviderTimeout))
	if err != nil {
		return err
	}
	app.Locks = lockManager
	app.Logger.Info("Distributed Locks: Enabled")

	if app.Config.CSRFStore == config.CSRFStoreRedis {
		store, err := csrf.NewRedisStore(redisClient, stateOptions)
		if err != nil {
			return err
		}
		app.States = store
		app.Logger.Info("CSRF states: Redis")
		return nil
	}

	app.States = csrf.NewMemoryStore(stateOptions)
	app.Logger.Info("CSRF states: Memory")
	return nil
}
