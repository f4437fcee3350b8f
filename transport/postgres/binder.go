package postgres

import (
	"context"

	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
)

// KeyRegistrationBinder binds routing keys to the channel of one node.
type KeyRegistrationBinder struct {
	bindings Bindings
	channel  string
	logger   loggingpkg.ServiceLogger
}

func NewKeyRegistrationBinder(bindings Bindings, channel string, logger loggingpkg.ServiceLogger) *KeyRegistrationBinder {
	return &KeyRegistrationBinder{
		bindings: bindings,
		channel:  channel,
		logger:   loggingpkg.OrNop(logger),
	}
}

func (b *KeyRegistrationBinder) Channel() string { return b.channel }

// Bind is idempotent; errors are returned for the caller to retry.
func (b *KeyRegistrationBinder) Bind(ctx context.Context, routingKey string) error {
	if err := b.bindings.Bind(ctx, routingKey, b.channel); err != nil {
		return err
	}
	b.logger.Debug("Bound routing key", loggingpkg.LogFields{"routing_key": routingKey, "channel": b.channel})
	return nil
}

// Unbind removes only this node's row for routingKey.
func (b *KeyRegistrationBinder) Unbind(ctx context.Context, routingKey string) error {
	if err := b.bindings.Unbind(ctx, routingKey, b.channel); err != nil {
		return err
	}
	b.logger.Debug("Unbound routing key", loggingpkg.LogFields{"routing_key": routingKey, "channel": b.channel})
	return nil
}
