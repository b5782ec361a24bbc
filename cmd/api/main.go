package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/infra"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/notification"
	"github.com/congo-pay/walletcore/internal/server"
	"github.com/congo-pay/walletcore/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.AppName, "env", cfg.AppEnv)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := infra.Migrate(cfg.DatabaseURL); err != nil {
				logger.Error("run migrations", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	notifiers := notification.Multi{notification.NewLoggerNotifier(logger)}
	if cfg.AMQPURL != "" {
		events, err := notification.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("connect amqp", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := events.Close(); err != nil {
				logger.Warn("close amqp", "error", err)
			}
		}()
		notifiers = append(notifiers, events)
	}

	eng := server.NewEngine(cfg, db, nil, notifiers, logger)

	srv, err := server.New(cfg, db, cache, eng, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	reconciler := worker.NewReconciler(eng, cfg.ReconcileInterval, cfg.ReconcileAfter, cfg.ReconcileBatch, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		reconciler.Run(ctx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		stop()
		<-workerDone
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	stop()
	<-workerDone

	logger.Info("server exited cleanly")
}
