package broker

import (
	"fmt"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/logger"
)

func New(cfg config.BrokerConfig, log logger.Logger) (Bus, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewAMQPBus(cfg.RabbitMQ, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
