// Package nats carries group registrations over NATS JetStream. Every group
// is a durable queue group, so each group receives every event and the nodes
// of one group share its deliveries.
package nats

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsio "github.com/nats-io/nats.go"

	"github.com/drblury/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates the JetStream publisher. Streams are provisioned on first use.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	natsCfg, ok := cfg.(transport.NATSConfig)
	if !ok || natsCfg.GetNATSURL() == "" {
		return transport.Transport{}, errors.New("NATS URL is required")
	}
	url := natsCfg.GetNATSURL()
	exchange := cfg.GetExchange()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: connectionOptions("eventbus-publisher"),
			Marshaler:   marshaler,
			JetStream: nats.JetStreamConfig{
				AutoProvision: true,
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	newGroupSubscriber := func(group string) (message.Subscriber, error) {
		queue := SubjectName(transport.QueueName(exchange, group))
		return SubscriberFactory(GroupConfig(url, queue, marshaler), logger)
	}

	return transport.MapTopics(transport.Transport{
		Publisher:          publisher,
		NewGroupSubscriber: newGroupSubscriber,
		Close:              publisher.Close,
	}, SubjectName), nil
}

// GroupConfig subscribes as the durable queue group queue.
func GroupConfig(url, queue string, unmarshaler nats.Unmarshaler) nats.SubscriberConfig {
	return nats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: queue,
		NatsOptions:      connectionOptions(queue),
		Unmarshaler:      unmarshaler,
		JetStream: nats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: queue,
		},
	}
}

func connectionOptions(name string) []natsio.Option {
	return []natsio.Option{
		natsio.Name(name),
		natsio.RetryOnFailedConnect(true),
		natsio.MaxReconnects(-1),
	}
}

// SubjectName replaces the characters JetStream rejects in stream and
// consumer names.
func SubjectName(name string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(name)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
