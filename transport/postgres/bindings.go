package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// Bindings records which node channels listen to which routing keys.
type Bindings interface {
	Bind(ctx context.Context, routingKey, channel string) error
	Unbind(ctx context.Context, routingKey, channel string) error
	Channels(ctx context.Context, routingKey string) ([]string, error)
}

// BindingStore implements Bindings on the (routing_key, channel) table.
// Every write is idempotent.
type BindingStore struct {
	exec *Executor

	insertSQL string
	deleteSQL string
	selectSQL string
}

func NewBindingStore(exec *Executor) *BindingStore {
	table := pq.QuoteIdentifier(exec.BindingsTable())
	return &BindingStore{
		exec:      exec,
		insertSQL: fmt.Sprintf(`INSERT INTO %s (routing_key, channel) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE routing_key = $1 AND channel = $2`, table),
		selectSQL: fmt.Sprintf(`SELECT channel FROM %s WHERE routing_key = $1`, table),
	}
}

func (s *BindingStore) Bind(ctx context.Context, routingKey, channel string) error {
	if _, err := s.exec.DB().ExecContext(ctx, s.insertSQL, routingKey, channel); err != nil {
		return fmt.Errorf("bind %s to %s: %w", routingKey, channel, err)
	}
	return nil
}

func (s *BindingStore) Unbind(ctx context.Context, routingKey, channel string) error {
	if _, err := s.exec.DB().ExecContext(ctx, s.deleteSQL, routingKey, channel); err != nil {
		return fmt.Errorf("unbind %s from %s: %w", routingKey, channel, err)
	}
	return nil
}

// Channels lists the channels bound to routingKey, in no particular order.
func (s *BindingStore) Channels(ctx context.Context, routingKey string) ([]string, error) {
	var channels []string
	if err := s.exec.DB().SelectContext(ctx, &channels, s.selectSQL, routingKey); err != nil {
		return nil, fmt.Errorf("list channels of %s: %w", routingKey, err)
	}
	return channels, nil
}
