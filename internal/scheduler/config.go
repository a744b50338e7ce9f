package scheduler

import (
	"time"

	"github.com/smallbiznis/acpgateway/internal/config"
)

const (
	JobWebhookRetry     = "webhook_retry"
	JobSessionRetention = "session_retention"
	JobWebhookRetention = "webhook_retention"
	JobLogRetention     = "log_retention"
	// JobIdempotencySweep runs on every instance; it clears local memory only.
	JobIdempotencySweep = "idempotency_sweep"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval   time.Duration
	RetryInterval time.Duration
	CleanupEvery  time.Duration
	SweepInterval time.Duration
	RetryBatch    int
	LeaseTTL      time.Duration
	JobTimeout    time.Duration

	SessionRetention time.Duration
	WebhookRetention time.Duration
	LogRetention     time.Duration

	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		RetryInterval:    15 * time.Minute,
		CleanupEvery:     24 * time.Hour,
		SweepInterval:    5 * time.Minute,
		RetryBatch:       10,
		LeaseTTL:         5 * time.Minute,
		JobTimeout:       2 * time.Minute,
		SessionRetention: 30 * 24 * time.Hour,
		WebhookRetention: 30 * 24 * time.Hour,
		LogRetention:     30 * 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		RetryInterval:    cfg.Scheduler.RetryInterval,
		CleanupEvery:     cfg.Scheduler.CleanupEvery,
		SweepInterval:    cfg.Scheduler.SweepInterval,
		RetryBatch:       cfg.Webhook.RetryBatch,
		SessionRetention: days(cfg.Retention.SessionDays),
		WebhookRetention: days(cfg.Retention.WebhookDays),
		LogRetention:     days(cfg.Retention.LogDays),
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = defaults.CleanupEvery
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.RetryBatch <= 0 {
		c.RetryBatch = defaults.RetryBatch
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = defaults.SessionRetention
	}
	if c.WebhookRetention <= 0 {
		c.WebhookRetention = defaults.WebhookRetention
	}
	if c.LogRetention <= 0 {
		c.LogRetention = defaults.LogRetention
	}
	return c
}
