package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL      string `env:"RABBITMQ_URL,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	PushGatewayURL   string `env:"PUSH_GATEWAY_URL,required=true"`
	SMSGatewayURL    string `env:"SMS_GATEWAY_URL,required=true"`
	DirectoryBaseURL string `env:"DIRECTORY_BASE_URL,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM,required=true"`

	RateLimitPerSec      int `env:"RATE_LIMIT_PER_SEC,default=100"`
	SMSRateLimitPerSec   int `env:"SMS_RATE_LIMIT_PER_SEC,default=10"`
	EmailRateLimitPerSec int `env:"EMAIL_RATE_LIMIT_PER_SEC,default=50"`

	FanoutWorkers        int     `env:"FANOUT_WORKERS,default=8"`
	DeliveryTimeoutSec   int     `env:"DELIVERY_TIMEOUT_SEC,default=5"`
	MaxRetries           int     `env:"MAX_RETRIES,default=3"`
	DeliveryTTLHours     int     `env:"DELIVERY_TTL_HOURS,default=24"`
	RetryScanIntervalSec int     `env:"RETRY_SCAN_INTERVAL_SEC,default=15"`
	RetryScanLimit       int     `env:"RETRY_SCAN_LIMIT,default=100"`
	IntakePrefetch       int     `env:"INTAKE_PREFETCH,default=16"`
	SubscriptionGCDays   int     `env:"SUBSCRIPTION_GC_DAYS,default=90"`
	DefaultAlertRadiusKm float64 `env:"DEFAULT_ALERT_RADIUS_KM,default=8"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// ChannelRateLimits maps channel names to their per-second override
// limits; channels absent here fall back to RateLimitPerSec.
func (c *Config) ChannelRateLimits() map[string]int {
	return map[string]int{
		"sms":   c.SMSRateLimitPerSec,
		"email": c.EmailRateLimitPerSec,
	}
}
