package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for an agent process.
type Config struct {
	LogLevel          string
	KafkaBrokers      string
	RedisAddr         string
	Role              string
	CapabilityTimeout time.Duration
	AnthropicAPIKey   string
	AnthropicModel    string
	MetricsAddr       string
	OTelEndpoint      string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:          v.GetString("log_level"),
		KafkaBrokers:      v.GetString("kafka_brokers"),
		RedisAddr:         v.GetString("redis_addr"),
		Role:              v.GetString("role"),
		CapabilityTimeout: v.GetDuration("capability_timeout"),
		AnthropicAPIKey:   v.GetString("anthropic_api_key"),
		AnthropicModel:    v.GetString("anthropic_model"),
		MetricsAddr:       v.GetString("metrics_addr"),
		OTelEndpoint:      v.GetString("otel_endpoint"),
	}
}
