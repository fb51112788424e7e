package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/config"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/runner"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	consumerPrefetch = 16
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "campaign-worker",
	})
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	limiter, closeLimiter, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	defer closeLimiter()

	transport, err := newTransport(cfg, logger)
	if err != nil {
		logger.Fatal("message transport initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	campaignRepo := repository.NewGormCampaignRepo(db)
	directory := repository.NewCachedRecipientDirectory(
		repository.NewGormRecipientRepo(db),
		cfg.RecipientCacheSize,
		cfg.RecipientCacheTTL,
	)

	executor, err := service.NewExecutor(
		campaignRepo,
		repository.NewGormDeliveryRepo(db),
		service.NewAudienceResolver(directory),
		transport,
		limiter,
		service.ExecutorConfig{RetryDelay: cfg.RetryDelay, SendTimeout: cfg.SendTimeout},
		logger,
	)
	if err != nil {
		logger.Fatal("executor initialization failed", zap.Error(err))
	}
	executor.SetMetrics(metrics)

	campaignRunner, err := runner.New(executor, cfg.RunnerWorkers, cfg.RunnerQueueSize, logger)
	if err != nil {
		logger.Fatal("runner initialization failed", zap.Error(err))
	}

	campaigns, err := service.NewCampaignService(campaignRepo, campaignRunner, logger)
	if err != nil {
		logger.Fatal("campaign service initialization failed", zap.Error(err))
	}
	campaigns.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(
		campaignRepo,
		campaigns,
		campaignRunner,
		cfg.SchedulerSpec,
		cfg.SchedulerBatchSize,
		cfg.SchedulerStaleAfter,
		logger,
	)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger)
	defer consumer.Close() //nolint:errcheck

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return campaignRunner.Start(groupCtx)
	})
	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})
	g.Go(func() error {
		return consumer.Consume(groupCtx, campaignRunner.HandleCommand)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("campaign-engine worker started",
		zap.String("transport", transport.Name()),
		zap.Int("runnerWorkers", cfg.RunnerWorkers),
		zap.String("schedulerSpec", cfg.SchedulerSpec),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("campaign-engine worker stopped")
}

func newRateLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.RateLimiter, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("using in-process rate limiter", zap.Int("limitPerSec", cfg.RateLimitPerSec))
		return ratelimit.NewLocalRateLimiter(cfg.RateLimitPerSec), func() {}, nil
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	logger.Info("using redis rate limiter", zap.Int("limitPerSec", cfg.RateLimitPerSec))
	return limiter, func() { _ = rdb.Close() }, nil
}

func newTransport(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	var next provider.Provider
	switch cfg.Transport {
	case config.TransportWebhook:
		webhook, err := provider.NewWebhookProvider(cfg.WebhookURL, provider.WebhookOptions{
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.SendTimeout,
		})
		if err != nil {
			return nil, err
		}
		next = webhook
	case config.TransportTelegram:
		telegram, err := provider.NewTelegramProvider(cfg.TelegramBotToken, cfg.SendTimeout)
		if err != nil {
			return nil, err
		}
		next = telegram
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	return provider.NewBreakerProvider(next, provider.BreakerSettings{
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
	}, logger), nil
}
