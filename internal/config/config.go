package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	TransportTelegram = "telegram"
	TransportWebhook  = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL"`

	Transport        string `env:"TRANSPORT,default=telegram"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	WebhookURL       string `env:"WEBHOOK_URL"`
	WebhookSecret    string `env:"WEBHOOK_SECRET"`

	RateLimitPerSec int `env:"RATE_LIMIT_PER_SEC,default=30"`

	RunnerWorkers   int `env:"RUNNER_WORKERS,default=4"`
	RunnerQueueSize int `env:"RUNNER_QUEUE_SIZE,default=256"`

	SchedulerSpec       string        `env:"SCHEDULER_SPEC,default=@every 1m"`
	SchedulerBatchSize  int           `env:"SCHEDULER_BATCH_SIZE,default=100"`
	SchedulerStaleAfter time.Duration `env:"SCHEDULER_STALE_AFTER,default=5m"`

	RetryDelay  time.Duration `env:"RETRY_DELAY,default=2s"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT,default=15s"`

	RecipientCacheSize int           `env:"RECIPIENT_CACHE_SIZE,default=10000"`
	RecipientCacheTTL  time.Duration `env:"RECIPIENT_CACHE_TTL,default=5m"`

	BreakerConsecutiveFailures int           `env:"BREAKER_CONSECUTIVE_FAILURES,default=20"`
	BreakerOpenTimeout         time.Duration `env:"BREAKER_OPEN_TIMEOUT,default=30s"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportTelegram:
		if strings.TrimSpace(c.TelegramBotToken) == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required for telegram transport")
		}
	case TransportWebhook:
		if strings.TrimSpace(c.WebhookURL) == "" {
			return fmt.Errorf("WEBHOOK_URL is required for webhook transport")
		}
	default:
		return fmt.Errorf("unsupported TRANSPORT %q", c.Transport)
	}
	return nil
}
