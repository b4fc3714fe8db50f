package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/email-verification/configs"
	"github.com/avatarctic/email-verification/internal/application/services"
	"github.com/avatarctic/email-verification/internal/core/ports"
	"github.com/avatarctic/email-verification/internal/infrastructure/db"
	"github.com/avatarctic/email-verification/internal/infrastructure/email"
	"github.com/avatarctic/email-verification/internal/infrastructure/health"
	"github.com/avatarctic/email-verification/internal/infrastructure/httpserver"
	"github.com/avatarctic/email-verification/internal/infrastructure/redis"
	"github.com/avatarctic/email-verification/internal/infrastructure/repositories"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := newLogger(&cfg.Log)
	logger.WithFields(logrus.Fields{
		"store":          cfg.Store.Backend,
		"email_provider": cfg.Email.Provider,
	}).Info("Starting email verification service...")

	store, checkers, closeStore := newStore(cfg, logger)
	defer closeStore()

	dispatcher, err := email.NewDispatcher(&cfg.Email, logger)
	if err != nil {
		logger.Fatal("Failed to initialize email dispatcher:", err)
	}
	dispatcher = email.WithTimeout(dispatcher, cfg.Email.SendTimeout)
	checkers = append(checkers, health.NewEmailHealthChecker(cfg.Email.Provider, dispatcher))

	clock := services.SystemClock{}
	verificationService := services.NewVerificationService(
		store,
		dispatcher,
		services.NewDigitCodeGenerator(nil),
		services.NewRandomHandleGenerator(nil),
		clock,
		services.VerificationConfig{
			CodeLength:     cfg.Verification.CodeLength,
			CodeTTL:        cfg.Verification.CodeTTL,
			MaxAttempts:    cfg.Verification.MaxAttempts,
			MaxResends:     cfg.Verification.MaxResends,
			ResendCooldown: cfg.Verification.ResendCooldown,
			Template: ports.EmailTemplate{
				Subject: cfg.Verification.EmailSubject,
				Body:    cfg.Verification.EmailBody,
			},
		},
		logger,
	)

	serverConfig := &httpserver.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		TLSCertFile:    cfg.Server.TLSCertFile,
		TLSKeyFile:     cfg.Server.TLSKeyFile,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	server := httpserver.NewServer(serverConfig, logger, httpserver.ServerDeps{
		VerificationService: verificationService,
		HealthCheckers:      checkers,
		ResendCooldown:      cfg.Verification.ResendCooldown,
		Clock:               clock,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	logger.Infof("Server started on %s:%s", cfg.Server.Host, cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}

func newLogger(cfg *config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}
	return logger
}

// newStore builds the configured session store along with its health checkers and a
// cleanup func for the underlying connection.
func newStore(cfg *config.Config, logger *logrus.Logger) (ports.VerificationStore, []ports.HealthChecker, func()) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		database, err := db.NewDatabaseWithConfig(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database:", err)
		}
		logger.Info("Connected to database successfully")

		if err := database.Migrate(cfg.Database.MigrationsPath); err != nil {
			logger.Fatal("Failed to run migrations:", err)
		}

		store := repositories.NewVerificationDBRepository(database, logger)
		return store, []ports.HealthChecker{health.NewDBHealthChecker(database)}, func() { _ = database.Close() }

	case config.StoreBackendRedis:
		redisClient, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis:", err)
		}
		logger.Info("Connected to Redis successfully")

		store := repositories.NewVerificationRedisRepository(redisClient, cfg.Store.RedisRetention, logger)
		return store, []ports.HealthChecker{health.NewRedisHealthChecker(redisClient)}, func() { _ = redisClient.Close() }

	default:
		logger.Warn("Using in-memory verification store; sessions are lost on restart")
		return repositories.NewVerificationMemoryRepository(), nil, func() {}
	}
}
