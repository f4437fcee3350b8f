package postgres

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

// MaxNotifyPayload is the PostgreSQL limit: payloads must be shorter.
const MaxNotifyPayload = 8000

// Notifier sends NOTIFY through the pool.
type Notifier struct {
	exec *Executor
}

func NewNotifier(exec *Executor) *Notifier {
	return &Notifier{exec: exec}
}

func (n *Notifier) Notify(ctx context.Context, channel, payload string) error {
	if err := CheckPayloadSize(payload); err != nil {
		return err
	}
	if _, err := n.exec.DB().ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// CheckPayloadSize fails with ErrPayloadTooLarge when payload cannot be sent.
func CheckPayloadSize(payload string) error {
	if len(payload) >= MaxNotifyPayload {
		return fmt.Errorf("%w: %d bytes", errspkg.ErrPayloadTooLarge, len(payload))
	}
	return nil
}
