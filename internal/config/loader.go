package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/antirek/chatapp-sub000/internal/constants"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.rabbitmq.url", "BROKER_RABBITMQ_URL")
	viper.BindEnv("broker.rabbitmq.exchange", "BROKER_RABBITMQ_EXCHANGE")
	viper.BindEnv("broker.rabbitmq.prefetch", "BROKER_RABBITMQ_PREFETCH")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("directory.base_url", "DIRECTORY_BASE_URL")
	viper.BindEnv("directory.token", "DIRECTORY_TOKEN")

	viper.BindEnv("channel_sender.base_url", "CHANNEL_SENDER_BASE_URL")
	viper.BindEnv("channel_sender.token", "CHANNEL_SENDER_TOKEN")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func setDefaults() {
	viper.SetDefault("broker.type", "rabbitmq")
	viper.SetDefault("broker.rabbitmq.exchange", constants.Exchange)
	viper.SetDefault("broker.rabbitmq.prefetch", 32)
	viper.SetDefault("broker.rabbitmq.queue_ttl", constants.DefaultQueueTTL)
	viper.SetDefault("broker.rabbitmq.queue_expiry", constants.DefaultQueueExpiry)
	viper.SetDefault("broker.rabbitmq.reconnect.initial_interval", "1s")
	viper.SetDefault("broker.rabbitmq.reconnect.max_interval", "30s")
	viper.SetDefault("broker.rabbitmq.reconnect.multiplier", 2.0)

	viper.SetDefault("directory.timeout", constants.DefaultHTTPTimeout)
	viper.SetDefault("channel_sender.timeout", constants.DefaultHTTPTimeout)

	viper.SetDefault("gateway.session_prefix", constants.SessionKeyPrefix)
	viper.SetDefault("gateway.typing_cache_size", constants.DefaultTypingCacheLen)
	viper.SetDefault("gateway.typing_cache_ttl", constants.DefaultTypingCacheTTL)
	viper.SetDefault("gateway.send_buffer", constants.DefaultSendBuffer)

	viper.SetDefault("botworker.queue", constants.BotQueueName)
	viper.SetDefault("botworker.dedup_size", constants.DefaultDedupSize)

	viper.SetDefault("relay.queue", constants.RelayQueueName)
	viper.SetDefault("relay.dedup_size", constants.DefaultDedupSize)
	viper.SetDefault("relay.dialog_type_tag", constants.DialogTypeTag)
	viper.SetDefault("relay.max_attempts", 5)

	viper.SetDefault("logging.level", "info")
}
