package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Directory      DirectoryConfig      `mapstructure:"directory"`
	ChannelSender  ChannelSenderConfig  `mapstructure:"channel_sender"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	BotWorker      BotWorkerConfig      `mapstructure:"botworker"`
	Bots           []BotConfig          `mapstructure:"bots"`
	Relay          RelayConfig          `mapstructure:"relay"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	URL         string          `mapstructure:"url"`
	Exchange    string          `mapstructure:"exchange"`
	Prefetch    int             `mapstructure:"prefetch"`
	QueueTTL    time.Duration   `mapstructure:"queue_ttl"`
	QueueExpiry time.Duration   `mapstructure:"queue_expiry"`
	Reconnect   ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DirectoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChannelSenderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GatewayConfig struct {
	SessionPrefix   string          `mapstructure:"session_prefix"`
	TypingCacheSize int             `mapstructure:"typing_cache_size"`
	TypingCacheTTL  time.Duration   `mapstructure:"typing_cache_ttl"`
	SendBuffer      int             `mapstructure:"send_buffer"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type BotWorkerConfig struct {
	Queue     string `mapstructure:"queue"`
	DedupSize int    `mapstructure:"dedup_size"`
}

// BotConfig describes one active automated participant. Settings are
// handler-specific (classify keyword, prompts, fallback user, ...).
type BotConfig struct {
	ID       string            `mapstructure:"id"`
	Handler  string            `mapstructure:"handler"`
	Settings map[string]string `mapstructure:"settings"`
}

type RelayConfig struct {
	Queue         string `mapstructure:"queue"`
	DedupSize     int    `mapstructure:"dedup_size"`
	DialogTypeTag string `mapstructure:"dialog_type_tag"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}
