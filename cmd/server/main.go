package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairdesk/qr-auth-server/internal/config"
	"github.com/pairdesk/qr-auth-server/internal/database"
	"github.com/pairdesk/qr-auth-server/internal/handler"
	"github.com/pairdesk/qr-auth-server/internal/jobs"
	"github.com/pairdesk/qr-auth-server/internal/middleware"
	"github.com/pairdesk/qr-auth-server/internal/qr"
	"github.com/pairdesk/qr-auth-server/internal/redis"
	"github.com/pairdesk/qr-auth-server/internal/repository"
	"github.com/pairdesk/qr-auth-server/internal/service"
	"github.com/pairdesk/qr-auth-server/internal/sse"
	"github.com/pairdesk/qr-auth-server/internal/token"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	codec, err := token.NewCodec(cfg.TokenSecret, cfg.PairingTTL(), cfg.SessionTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid token secret")
	}

	userRepo := repository.NewUserRepository(db.DB)
	codeRepo := repository.NewQRCodeRepository(db.DB)
	deviceRepo := repository.NewDeviceRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	userService := service.NewUserService(userRepo, codec, cfg.BcryptCost, log.Logger)
	pairingService := service.NewPairingService(
		db, userRepo, codeRepo, deviceRepo,
		codec, qr.NewRenderer(), broker,
		cfg.PairingTTL(), log.Logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(userRepo, codec)

	userHandler := handler.NewUserHandler(userService, authMiddleware.Handler)
	pairingHandler := handler.NewPairingHandler(pairingService, broker, authMiddleware.Handler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Mount("/qr", pairingHandler.Routes())
		r.Mount("/", userHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(codeRepo, cfg.PairingTTL(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// SSE connections stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
