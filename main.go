package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamesession/auth"
	"gamesession/config"
	"gamesession/handlers"
	"gamesession/middleware"
	"gamesession/routes"
	"gamesession/services"
	"gamesession/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session store
	var sessions services.SessionStorage
	switch cfg.StoreBackend {
	case config.StoreMemory:
		sessions = store.NewMemoryStore()
	default:
		redisClient := config.InitRedis(cfg)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		sessions = store.NewRedisStore(redisClient,
			store.WithKeyPrefix(cfg.RedisKeyPrefix),
			store.WithTTL(cfg.SessionLifetime+time.Hour),
		)
	}

	// Session ledger
	var ledger services.Ledger = services.NewMemoryLedger()
	if cfg.DBHost != "" {
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		gormLedger := services.NewGormLedger(db)
		if err := gormLedger.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		ledger = gormLedger
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	sessionFunctions := services.NewSessionFunctions(sessions, verifier, ledger, cfg.SessionLifetime)

	hub := services.NewHub(sessions)
	go hub.Run(ctx)

	reaper := services.NewReaper(sessions, ledger, cfg.ReapInterval)
	go reaper.Run(ctx)

	functionsHandler := handlers.NewFunctionsHandler(sessionFunctions, cfg.RequestTimeout)
	storeHandler := handlers.NewStoreHandler(sessions)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, functionsHandler, storeHandler, hub, verifier)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreBackend).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
