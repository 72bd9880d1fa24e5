package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the coordinator service.
type Config struct {
	LogLevel        string
	HTTPPort        string
	KafkaBrokers    string
	RedisAddr       string
	PostgresDSN     string
	MaxAttempts     int
	TaskTimeout     time.Duration
	RequestTimeout  time.Duration
	RetryBaseDelay  time.Duration
	RateLimit       int
	RateWindow      time.Duration
	JanitorSchedule string
	RetentionWindow time.Duration
	MetricsAddr     string
	OTelEndpoint    string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetString("http_port"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		MaxAttempts:     v.GetInt("max_attempts"),
		TaskTimeout:     v.GetDuration("task_timeout"),
		RequestTimeout:  v.GetDuration("request_timeout"),
		RetryBaseDelay:  v.GetDuration("retry_base_delay"),
		RateLimit:       v.GetInt("rate_limit"),
		RateWindow:      v.GetDuration("rate_window"),
		JanitorSchedule: v.GetString("janitor_schedule"),
		RetentionWindow: v.GetDuration("retention_window"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
	}
}
