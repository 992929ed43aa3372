package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredislib "github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-proc-requisitions/internal/client"
	"github.com/pesio-ai/be-proc-requisitions/internal/config"
	"github.com/pesio-ai/be-proc-requisitions/internal/database"
	"github.com/pesio-ai/be-proc-requisitions/internal/handler"
	"github.com/pesio-ai/be-proc-requisitions/internal/locker"
	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
	"github.com/pesio-ai/be-proc-requisitions/internal/notify"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
	"github.com/pesio-ai/be-proc-requisitions/internal/service"
)

// store is what the service layer needs from either backend.
type store interface {
	service.RequisitionStore
	service.TagStore
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("driver", cfg.Database.Driver).
		Msg("Starting Requisitions Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, ping, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()
	log.Info().Msg("Store ready")

	lk, err := openLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize locker")
	}

	hub := notify.NewHub(log)
	publishers := []service.Publisher{hub}

	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		publishers = append(publishers, client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log))
		log.Info().Str("subject_prefix", cfg.NATS.SubjectPrefix).Msg("NATS publishing enabled")
	}

	workflowService := service.NewWorkflowService(st, st, lk, log, publishers...)

	httpHandler := handler.NewHTTPHandler(workflowService, hub, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	grpcHandler := handler.NewGRPCHandler(cfg.Service.Name, ping, log)
	go grpcHandler.Watch(ctx, 15*time.Second)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcHandler.Server().Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// SSE streams never finish on their own; closing the hub ends them.
	hub.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcHandler.Shutdown()

	log.Info().Msg("Server stopped")
}

// openStore migrates and returns the configured backend, a health ping for it
// and its close function.
func openStore(ctx context.Context, cfg *config.Config) (store, handler.PingFunc, func(), error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := database.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := repository.MigrateSQLite(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return repository.NewSQLiteStore(db), db.PingContext, func() { db.Close() }, nil
	default:
		db, err := database.New(ctx, database.Config{
			DSN:         cfg.Database.DSN(),
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := repository.MigratePostgres(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return repository.NewPostgresStore(db), db.Ping, db.Close, nil
	}
}

func openLocker(ctx context.Context, cfg *config.Config, log *logger.Logger) (locker.Locker, error) {
	if cfg.Locker.Backend != "redis" {
		return locker.NewLocal(), nil
	}

	rdb := goredislib.NewClient(&goredislib.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	opts := locker.DefaultRedisOptions()
	opts.Expiry = cfg.Locker.Expiry
	opts.Tries = cfg.Locker.Tries

	lk, err := locker.NewRedis(ctx, rdb, opts, log)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis locker enabled")
	return lk, nil
}
