package bootstrap

import (
	"context"
	"fmt"

	"github.com/antirek/chatapp-sub000/internal/broker"
	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/logger"
)

// Base holds the pieces every service shares: configuration, logging and
// the bus connection.
type Base struct {
	Config *config.Config
	Logger logger.Logger
	Bus    broker.Bus
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBus(ctx context.Context) error {
	bus, err := broker.New(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	b.Bus = bus
	return nil
}

func (b *Base) ShutdownBus() []error {
	var errs []error

	if b.Bus != nil {
		if err := b.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBus()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
