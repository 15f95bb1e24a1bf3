// Command harvester dispatches one harvest run and saves the result.
//
// Usage:
//
//	harvester [flags] <category> <city> <min_goods> <output-file>
//
// Category and city are human-readable names resolved against the API's
// directories; the output format follows the file extension (json, csv,
// xlsx). The pipeline itself runs in harvester-worker processes; this binary
// only dispatches and waits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/catalog-harvester/pkg/auth"
	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
	"github.com/Sternrassler/catalog-harvester/pkg/config"
	"github.com/Sternrassler/catalog-harvester/pkg/logging"
	"github.com/Sternrassler/catalog-harvester/pkg/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	args := positionalArgs(os.Args[1:])
	if len(args) != 4 {
		return fmt.Errorf("usage: harvester [flags] <category> <city> <min_goods> <output-file>")
	}
	categoryName, cityName, outputPath := args[0], args[1], args[3]
	minGoods, err := strconv.Atoi(args[2])
	if err != nil || minGoods < 0 {
		return fmt.Errorf("min_goods must be a non-negative integer, got %q", args[2])
	}

	logging.Setup(logging.Config{Level: logging.LogLevel(cfg.Log.Level), Pretty: cfg.Log.Pretty})
	logger := logging.NewLogger("harvester")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	broker, err := pipeline.DialAMQP(cfg.Broker.URL, logging.NewLogger("broker"))
	if err != nil {
		return err
	}
	defer broker.Close()

	// Name resolution happens in-process; only the heavy stages go through
	// the pipeline.
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
	resolver := catalog.New(adapter, tokens, signer, catalog.Config{
		BaseURL: cfg.API.BaseURL,
		Headers: cfg.Headers(),
	}, logging.NewLogger("catalog"))

	cityID, err := resolver.ResolveCity(ctx, cityName)
	if err != nil {
		return fmt.Errorf("resolve city %q: %w", cityName, err)
	}
	categoryID, err := resolver.ResolveCategory(ctx, categoryName, cityID)
	if err != nil {
		return fmt.Errorf("resolve category %q: %w", categoryName, err)
	}
	logger.Info().
		Str("city_id", cityID).
		Str("category_id", categoryID).
		Msg("Resolved city and category")

	backend := pipeline.NewRedisBackend(redisClient)
	orch := pipeline.NewOrchestrator(broker, backend, pipeline.OrchestratorConfig{
		ChainTimeout: cfg.Pipeline.ChainTimeout,
		PollInterval: cfg.Pipeline.PollInterval,
	}, logging.NewLogger("orchestrator"))

	runID, err := orch.Dispatch(ctx, pipeline.Request{
		CategoryID: categoryID,
		CityID:     cityID,
		MinGoods:   minGoods,
	})
	if err != nil {
		return err
	}

	products, err := orch.Wait(ctx, runID)
	if err != nil {
		return err
	}

	if err := orch.DispatchSave(ctx, runID, products, outputPath); err != nil {
		return err
	}
	if err := orch.WaitSave(ctx, runID); err != nil {
		return err
	}

	logger.Info().
		Int("products", len(products)).
		Str("path", outputPath).
		Msg("Harvest complete")
	return nil
}

// positionalArgs returns the arguments that are not flags. Flags are consumed
// by the config loader; everything else is ours.
func positionalArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if len(arg) > 0 && arg[0] == '-' {
			continue
		}
		out = append(out, arg)
	}
	return out
}
