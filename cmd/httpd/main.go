// Command httpd runs the reviewguard detection engine HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reviewguard/reviewguard/internal/api"
	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/detect"
	"github.com/reviewguard/reviewguard/internal/elasticsearch"
	"github.com/reviewguard/reviewguard/internal/logger"
	"github.com/reviewguard/reviewguard/internal/metrics"
	"github.com/reviewguard/reviewguard/internal/retry"
	"github.com/reviewguard/reviewguard/internal/service"
	"github.com/reviewguard/reviewguard/internal/sweeper"
)

const (
	connectTimeout   = 30 * time.Second
	provisionTimeout = 15 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg, err := config.Load(config.GetConfigPath("config.yml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer func() {
		_ = log.Sync()
	}()

	log.Info("starting reviewguard",
		logger.String("version", cfg.Service.Version),
		logger.Int("port", cfg.Service.Port))

	esClient, err := connectElasticsearch(cfg, log)
	if err != nil {
		log.Fatal("failed to connect to elasticsearch", logger.Error(err))
	}
	log.Info("elasticsearch client initialized",
		logger.String("url", cfg.Elasticsearch.URL))

	provisionCtx, cancelProvision := context.WithTimeout(context.Background(), provisionTimeout)
	if err := esClient.EnsureIndexes(provisionCtx); err != nil {
		cancelProvision()
		log.Fatal("failed to provision indexes", logger.Error(err))
	}
	cancelProvision()

	m := metrics.New()
	classifier := detect.NewClassifier(cfg.Detection.Thresholds)

	statsService := service.NewStatsService(esClient, classifier, cfg.Detection, log)
	ledgerService := service.NewLedgerService(esClient, log)
	responseService := service.NewResponseService(esClient, ledgerService, cfg.Response, log)
	sweepService := service.NewSweepService(
		esClient, statsService, ledgerService, responseService,
		classifier, cfg.Sweep, m, log)

	runner := sweeper.NewRunner(sweepService, cfg.Sweep.RunnerInterval.Std(), log)
	if cfg.Sweep.RunnerEnabled {
		runner.Start(context.Background())
	}

	handler := api.NewHandler(
		statsService, ledgerService, sweepService, runner,
		esClient, cfg.Service.Version, log)
	server := api.NewServer(handler, cfg, m, log)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	log.Info("reviewguard started", logger.Int("port", cfg.Service.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error("server error", logger.Error(err))
	case sig := <-sigChan:
		log.Info("received signal", logger.String("signal", sig.String()))
	}

	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", logger.Error(err))
	}

	log.Info("reviewguard stopped")
}

// connectElasticsearch dials the cluster with exponential backoff so the
// service survives a store that comes up after it does.
func connectElasticsearch(cfg *config.Config, log logger.Logger) (*elasticsearch.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var client *elasticsearch.Client
	err := retry.Retry(ctx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		IsRetryable:  func(error) bool { return true },
	}, func() error {
		var connectErr error
		client, connectErr = elasticsearch.NewClient(&cfg.Elasticsearch)
		if connectErr != nil {
			log.Warn("elasticsearch not ready, retrying", logger.Error(connectErr))
		}
		return connectErr
	})
	return client, err
}
