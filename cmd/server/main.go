package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/AuthServiceTochka/internal/api"
	"github.com/honeynil/AuthServiceTochka/internal/config"
	"github.com/honeynil/AuthServiceTochka/internal/database"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/kafka"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/redis"
	"github.com/honeynil/AuthServiceTochka/internal/observability"
	"github.com/honeynil/AuthServiceTochka/internal/repository"
	"github.com/honeynil/AuthServiceTochka/internal/repository/cached"
	core "github.com/honeynil/AuthServiceTochka/internal/repository/postgres"
	service "github.com/honeynil/AuthServiceTochka/internal/services"
)

const consumerGroup = "auth-service-last-seen"

func main() {
	if err := run(); err != nil {
		slog.Error("auth service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Логи, метрики, трейсы
	metrics, shutdownTracing, err := observability.Setup(ctx, api.ServiceName, cfg.IsDevelopment(), cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(cfg.PostgresDSN); err != nil {
			return err
		}
	}

	db, err := database.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var userRepo repository.UserRepository = core.NewPostgresUserRepository(db)

	if cfg.RedisAddr != "" {
		redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Warn("redis unavailable, user cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer redisClient.Close()
			userRepo = cached.NewUserRepository(userRepo, redisClient, cfg.UserCacheTTL)
		}
	}

	tokens, err := auth.NewTokenService(cfg.TokenConfig())
	if err != nil {
		return err
	}

	var (
		events  service.EventPublisher
		toucher auth.LastSeenToucher = service.RepositoryToucher{Users: userRepo}
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher := kafka.NewEventPublisher(producer, cfg.KafkaUsersTopic)
		events = publisher
		toucher = publisher

		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaUsersTopic, consumerGroup, userRepo)
		defer consumer.Close()
		go consumer.Consume(ctx)
	}

	svc := service.NewAuthService(userRepo, tokens, service.NewBcryptHasher(cfg.BcryptCost), events, metrics)

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.SetupRouter(api.RouterConfig{
			Service:        svc,
			Tokens:         tokens,
			Toucher:        toucher,
			Metrics:        metrics,
			CORSOrigin:     cfg.CORSOrigin,
			RequestTimeout: cfg.RequestTimeout,
			Development:    cfg.IsDevelopment(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
