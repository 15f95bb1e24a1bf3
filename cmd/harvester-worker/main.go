// Command harvester-worker runs the pipeline stages. Any number of workers
// can run in parallel against the same broker; stage handlers are idempotent,
// so redeliveries and competing consumers are safe.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/catalog-harvester/pkg/auth"
	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
	"github.com/Sternrassler/catalog-harvester/pkg/config"
	"github.com/Sternrassler/catalog-harvester/pkg/logging"
	"github.com/Sternrassler/catalog-harvester/pkg/metrics"
	"github.com/Sternrassler/catalog-harvester/pkg/pipeline"
	"github.com/Sternrassler/catalog-harvester/pkg/pricing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{Level: logging.LogLevel(cfg.Log.Level), Pretty: cfg.Log.Pretty})
	logger := logging.NewLogger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	broker, err := pipeline.DialAMQP(cfg.Broker.URL, logging.NewLogger("broker"))
	if err != nil {
		return err
	}
	defer broker.Close()

	adapter := client.New(client.Config{
		Retries:    cfg.API.Retries,
		RetryDelay: cfg.API.RetryDelay,
		Timeout:    cfg.API.Timeout,
	}, logging.NewLogger("client"))
	signer := auth.NewSigner(cfg.API.Salt)
	tokens := auth.NewTokenProvider(adapter, signer, auth.TokenConfig{
		BaseURL: cfg.API.BaseURL,
		Headers: cfg.Headers(),
		TTL:     cfg.API.TokenTTL,
		Redis:   redisClient,
	}, logging.NewLogger("auth"))

	cat := catalog.New(adapter, tokens, signer, catalog.Config{
		BaseURL: cfg.API.BaseURL,
		Headers: cfg.Headers(),
	}, logging.NewLogger("catalog"))
	prc := pricing.New(adapter, tokens, signer, pricing.Config{
		BaseURL:               cfg.API.BaseURL,
		Headers:               cfg.Headers(),
		BatchSize:             cfg.Pipeline.BatchSize,
		MaxConcurrentRequests: cfg.Pipeline.MaxConcurrentRequests,
	}, logging.NewLogger("pricing"))

	backend := pipeline.NewRedisBackend(redisClient)
	worker := pipeline.NewWorker(broker, backend, cat, prc, logger)

	// Metrics endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	server := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Msg("Worker started, consuming stage queues")
	return worker.Run(ctx)
}
