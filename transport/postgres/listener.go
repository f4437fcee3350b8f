package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/drblury/eventbus/internal/runtime/keychannel"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
)

// Notification is one NOTIFY received on a listened channel.
type Notification struct {
	Channel string
	Payload string
}

// ListenConn is a session able to LISTEN and wait for notifications.
type ListenConn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (Notification, error)
	Close(ctx context.Context) error
}

type pgxListenConn struct {
	conn *pgx.Conn
}

func (c *pgxListenConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+keychannel.QuoteChannel(channel))
	return err
}

func (c *pgxListenConn) WaitForNotification(ctx context.Context) (Notification, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return Notification{}, err
	}
	return Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

func (c *pgxListenConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

const closeTimeout = 5 * time.Second

// ChannelListener runs LISTEN loops, each on its own dedicated connection.
type ChannelListener struct {
	connect func(ctx context.Context) (ListenConn, error)
	logger  loggingpkg.ServiceLogger
}

// NewChannelListener opens connections through exec.
func NewChannelListener(exec *Executor, logger loggingpkg.ServiceLogger) *ChannelListener {
	return NewChannelListenerWithConnector(exec.ListenConnection, logger)
}

func NewChannelListenerWithConnector(connect func(ctx context.Context) (ListenConn, error), logger loggingpkg.ServiceLogger) *ChannelListener {
	return &ChannelListener{connect: connect, logger: loggingpkg.OrNop(logger)}
}

// Listen blocks until ctx is done or the notification stream fails. ready is
// called once LISTEN is in effect. onNotification runs on the loop goroutine
// and must not block for long. A cancelled ctx returns nil. The connection is
// closed on every exit path.
func (l *ChannelListener) Listen(ctx context.Context, channel string, ready func(), onNotification func(payload string)) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			l.logger.Error("Failed to close LISTEN connection", err, loggingpkg.LogFields{"channel": channel})
		}
	}()

	if err := conn.Listen(ctx, channel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	l.logger.Info("Listening for key notifications", loggingpkg.LogFields{"channel": channel})
	if ready != nil {
		ready()
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification on %s: %w", channel, err)
		}
		if n.Channel != channel {
			continue
		}
		onNotification(n.Payload)
	}
}
