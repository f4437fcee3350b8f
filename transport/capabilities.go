package transport

// Capabilities describes what a group transport guarantees.
type Capabilities struct {
	Name string

	// Durable reports that queues outlive the process, so a group catches up
	// on events published while its node was down.
	Durable bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a nacked message is redelivered.
	SupportsNack bool

	// SupportsOrdering indicates the transport preserves publish order per queue.
	SupportsOrdering bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true for at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	// ChannelCapabilities for the in-memory transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		Durable:          false,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		Durable:          true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		Durable:          true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// NATSCapabilities for NATS JetStream durable queue groups.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		Durable:          true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: false,
		MaxMessageSize:   1048576,
	}

	// AWSCapabilities for SNS fan-out into per-group SQS queues.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		Durable:          true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: false,
		MaxMessageSize:   262144,
	}
)
