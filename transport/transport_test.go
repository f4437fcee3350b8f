package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "eventbus", EventTopic("eventbus"))
	assert.Equal(t, "eventbus-retry-indexer", RetryTopic("eventbus", "indexer"))
	assert.Equal(t, "eventbus-workQueue-indexer", QueueName("eventbus", "indexer"))
}

func TestTopicNames_SanitizeGroup(t *testing.T) {
	assert.Equal(t, "eventbus-retry-org.example.Quota_Listener_1", RetryTopic("eventbus", "org.example.Quota$Listener 1"))
	assert.Equal(t, "eventbus-workQueue-a_b", QueueName("eventbus", "a/b"))
}

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
	assert.False(t, Capabilities{SupportsAck: true}.SupportsReliableDelivery())
	assert.False(t, ChannelCapabilities.Durable)
	assert.True(t, KafkaCapabilities.Durable)
}
