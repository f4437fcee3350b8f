// Package channel carries group registrations over in-memory Go channels.
// Every subscription of a topic receives every message, which matches group
// semantics as long as each group subscribes once. Nothing survives a restart.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a process-local transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return NewTransport(Factory(gochannel.Config{}, logger)), nil
}

// NewTransport shares pubSub between buses of the same process.
func NewTransport(pubSub *gochannel.GoChannel) transport.Transport {
	return transport.Transport{
		Publisher: pubSub,
		NewGroupSubscriber: func(string) (message.Subscriber, error) {
			return groupSubscriber{pubSub}, nil
		},
		Close: pubSub.Close,
	}
}

// groupSubscriber leaves the shared pub/sub open when a group stops.
// Subscriptions end with their context.
type groupSubscriber struct {
	pubSub *gochannel.GoChannel
}

func (s groupSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.pubSub.Subscribe(ctx, topic)
}

func (s groupSubscriber) Close() error { return nil }

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
