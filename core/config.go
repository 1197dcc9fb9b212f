package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRefreshLeadWindow             = 5 * time.Minute
	DefaultMaxRefreshAttempts            = 3
	DefaultRetryBackoffInitial           = 1 * time.Second
	DefaultRetryBackoffMax               = 30 * time.Second
	DefaultWarnAfterFailures             = 2
	DefaultDisconnectAfterFailures       = 3
	DefaultRateLimitNoticeAfterTransient = 5
	DefaultSweepBatchSize                = 100
	DefaultRefreshLockTTL                = 30 * time.Second
	DefaultProviderCallTimeout           = 15 * time.Second
	DefaultRenewalLeadWindow             = 24 * time.Hour
)

type TokenConfig struct {
	RefreshLeadWindow             time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	MaxRefreshAttempts            int           `koanf:"max_refresh_attempts" mapstructure:"max_refresh_attempts"`
	RetryBackoffInitial           time.Duration `koanf:"retry_backoff_initial" mapstructure:"retry_backoff_initial"`
	RetryBackoffMax               time.Duration `koanf:"retry_backoff_max" mapstructure:"retry_backoff_max"`
	WarnAfterFailures             int           `koanf:"warn_after_failures" mapstructure:"warn_after_failures"`
	DisconnectAfterFailures       int           `koanf:"disconnect_after_failures" mapstructure:"disconnect_after_failures"`
	RateLimitNoticeAfterTransient int           `koanf:"rate_limit_notice_after_transient" mapstructure:"rate_limit_notice_after_transient"`
	SweepBatchSize                int           `koanf:"sweep_batch_size" mapstructure:"sweep_batch_size"`
	RefreshLockTTL                time.Duration `koanf:"refresh_lock_ttl" mapstructure:"refresh_lock_ttl"`
}

type TriggerConfig struct {
	RenewalLeadWindow time.Duration `koanf:"renewal_lead_window" mapstructure:"renewal_lead_window"`
	WebhookBaseURL    string        `koanf:"webhook_base_url" mapstructure:"webhook_base_url"`
}

type Config struct {
	ServiceName         string        `koanf:"service_name" mapstructure:"service_name"`
	ProviderCallTimeout time.Duration `koanf:"provider_call_timeout" mapstructure:"provider_call_timeout"`
	Tokens              TokenConfig   `koanf:"tokens" mapstructure:"tokens"`
	Triggers            TriggerConfig `koanf:"triggers" mapstructure:"triggers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:         "integrations",
		ProviderCallTimeout: DefaultProviderCallTimeout,
		Tokens: TokenConfig{
			RefreshLeadWindow:             DefaultRefreshLeadWindow,
			MaxRefreshAttempts:            DefaultMaxRefreshAttempts,
			RetryBackoffInitial:           DefaultRetryBackoffInitial,
			RetryBackoffMax:               DefaultRetryBackoffMax,
			WarnAfterFailures:             DefaultWarnAfterFailures,
			DisconnectAfterFailures:       DefaultDisconnectAfterFailures,
			RateLimitNoticeAfterTransient: DefaultRateLimitNoticeAfterTransient,
			SweepBatchSize:                DefaultSweepBatchSize,
			RefreshLockTTL:                DefaultRefreshLockTTL,
		},
		Triggers: TriggerConfig{
			RenewalLeadWindow: DefaultRenewalLeadWindow,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Tokens.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: tokens.refresh_lead_window must not be negative")
	}
	if c.Tokens.MaxRefreshAttempts < 0 {
		return fmt.Errorf("core: tokens.max_refresh_attempts must not be negative")
	}
	if c.Tokens.WarnAfterFailures < 0 || c.Tokens.DisconnectAfterFailures < 0 {
		return fmt.Errorf("core: tokens failure thresholds must not be negative")
	}
	if c.Tokens.WarnAfterFailures > 0 && c.Tokens.DisconnectAfterFailures > 0 &&
		c.Tokens.WarnAfterFailures > c.Tokens.DisconnectAfterFailures {
		return fmt.Errorf("core: tokens.warn_after_failures must not exceed tokens.disconnect_after_failures")
	}
	if c.ProviderCallTimeout < 0 {
		return fmt.Errorf("core: provider_call_timeout must not be negative")
	}
	return nil
}

func (c TokenConfig) refreshLeadWindow() time.Duration {
	if c.RefreshLeadWindow <= 0 {
		return DefaultRefreshLeadWindow
	}
	return c.RefreshLeadWindow
}

func (c TokenConfig) maxRefreshAttempts() int {
	if c.MaxRefreshAttempts < 1 {
		return DefaultMaxRefreshAttempts
	}
	return c.MaxRefreshAttempts
}

func (c TokenConfig) retryBackoffInitial() time.Duration {
	if c.RetryBackoffInitial <= 0 {
		return DefaultRetryBackoffInitial
	}
	return c.RetryBackoffInitial
}

func (c TokenConfig) retryBackoffMax() time.Duration {
	if c.RetryBackoffMax <= 0 {
		return DefaultRetryBackoffMax
	}
	return c.RetryBackoffMax
}

func (c TokenConfig) warnAfterFailures() int {
	if c.WarnAfterFailures < 1 {
		return DefaultWarnAfterFailures
	}
	return c.WarnAfterFailures
}

func (c TokenConfig) disconnectAfterFailures() int {
	if c.DisconnectAfterFailures < 1 {
		return DefaultDisconnectAfterFailures
	}
	return c.DisconnectAfterFailures
}

func (c TokenConfig) rateLimitNoticeAfterTransient() int {
	if c.RateLimitNoticeAfterTransient < 1 {
		return DefaultRateLimitNoticeAfterTransient
	}
	return c.RateLimitNoticeAfterTransient
}

func (c TokenConfig) sweepBatchSize() int {
	if c.SweepBatchSize < 1 {
		return DefaultSweepBatchSize
	}
	return c.SweepBatchSize
}

func (c TokenConfig) refreshLockTTL() time.Duration {
	if c.RefreshLockTTL <= 0 {
		return DefaultRefreshLockTTL
	}
	return c.RefreshLockTTL
}

func (c Config) providerCallTimeout() time.Duration {
	if c.ProviderCallTimeout <= 0 {
		return DefaultProviderCallTimeout
	}
	return c.ProviderCallTimeout
}

func (c TriggerConfig) renewalLeadWindow() time.Duration {
	if c.RenewalLeadWindow <= 0 {
		return DefaultRenewalLeadWindow
	}
	return c.RenewalLeadWindow
}
