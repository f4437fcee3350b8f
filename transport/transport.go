// Package transport defines the brokers carrying group registrations.
// Each implementation (rabbitmq, kafka, nats, aws, channel) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport publishes to the shared event topic and opens one durable
// subscription per group.
type Transport struct {
	Publisher message.Publisher
	// NewGroupSubscriber returns a subscriber consuming the group's own queue.
	// Every topic subscribed through it feeds that single queue.
	NewGroupSubscriber func(group string) (message.Subscriber, error)
	// Close releases resources shared by the publisher and the subscribers.
	// It may be nil.
	Close func() error
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
type Config interface {
	// GetGroupTransport returns the transport name.
	GetGroupTransport() string
	// GetExchange names the shared event topic.
	GetExchange() string

	// RabbitMQ
	GetRabbitMQURL() string

	// Kafka
	GetKafkaBrokers() []string
}

// NATSConfig is implemented by configs that can select the nats transport.
type NATSConfig interface {
	GetNATSURL() string
}

// AWSConfig is implemented by configs that can select the aws transport.
// Empty values fall back to the AWS default configuration chain.
type AWSConfig interface {
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// EventTopic is the topic every group consumes.
func EventTopic(exchange string) string {
	return exchange
}

// RetryTopic is the private topic a single group consumes redeliveries from.
func RetryTopic(exchange, group string) string {
	return exchange + "-retry-" + sanitize(group)
}

// QueueName names the durable queue (or consumer group) of a group.
func QueueName(exchange, group string) string {
	return exchange + "-workQueue-" + sanitize(group)
}

// sanitize keeps names within the character set brokers accept for topics.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
