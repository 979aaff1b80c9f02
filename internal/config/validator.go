package config

import (
	"fmt"

	"github.com/antirek/chatapp-sub000/pkg/errors"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks startup-required configuration. Failures here are
// Fatal-Config: the process must not start.
func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}
	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}
	if err := validateDirectory(cfg.Directory); err != nil {
		errs = append(errs, err)
	}
	if err := validateBots(cfg.Bots); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.FatalConfig("invalid configuration", fmt.Errorf("%v", errs))
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type != "rabbitmq" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q", cfg.Type),
		}
	}
	if cfg.RabbitMQ.URL == "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.url",
			Message: "url is required",
		}
	}
	if cfg.RabbitMQ.QueueTTL <= 0 || cfg.RabbitMQ.QueueExpiry <= 0 {
		return &ValidationError{
			Field:   "broker.rabbitmq.queue_ttl",
			Message: "queue ttl and expiry must be positive",
		}
	}
	return nil
}

func validateDirectory(cfg DirectoryConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "directory.base_url",
			Message: "base_url is required",
		}
	}
	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "directory.timeout",
			Message: "timeout must be positive",
		}
	}
	return nil
}

func validateBots(bots []BotConfig) error {
	seen := make(map[string]bool, len(bots))
	for _, b := range bots {
		if b.ID == "" {
			return &ValidationError{Field: "bots.id", Message: "bot id is required"}
		}
		if b.Handler == "" {
			return &ValidationError{
				Field:   "bots.handler",
				Message: fmt.Sprintf("handler is required for bot %s", b.ID),
			}
		}
		if seen[b.ID] {
			return &ValidationError{
				Field:   "bots.id",
				Message: fmt.Sprintf("duplicate bot id %s", b.ID),
			}
		}
		seen[b.ID] = true
	}
	return nil
}
