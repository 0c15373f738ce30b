package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-rounds/internal/app"
	"auction-rounds/internal/config"
	"auction-rounds/internal/notify"
	"auction-rounds/internal/repository"
	"auction-rounds/utils"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		utils.Fatal("auction server stopped", map[string]any{"error": err.Error()})
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer durable.Close()

	if err := app.SeedCollection(ctx, durable, cfg.SeedCollection, cfg.SeedItems); err != nil {
		return err
	}

	deps := app.Deps{Durable: durable}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(errors.New("redis unreachable"), err)
		}
		deps.Runtime = repository.NewRedisRuntimeRepo(client)
		utils.Info("runtime store: redis", map[string]any{"addr": cfg.RedisAddr})
	} else {
		deps.Runtime = repository.NewMemoryRuntimeRepo()
		utils.Warn("runtime store: in-process, round state will not survive restarts", nil)
	}

	if cfg.AMQPURL != "" {
		conn, err := notify.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		publisher, err := notify.NewAMQPPublisher(conn.Channel, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		deps.Publishers = append(deps.Publishers, publisher)
		utils.Info("event bus connected", map[string]any{"exchange": cfg.AMQPExchange})
	}

	application := app.New(cfg, deps)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer application.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           application.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		utils.Info("starting auction server", map[string]any{"addr": cfg.Addr()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	utils.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
