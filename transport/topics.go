package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// MapTopics rewrites every topic published or subscribed through t. Brokers
// with stricter naming rules than EventTopic and RetryTopic produce use it.
func MapTopics(t Transport, mapTopic func(string) string) Transport {
	newGroupSubscriber := t.NewGroupSubscriber
	return Transport{
		Publisher: mappedPublisher{Publisher: t.Publisher, mapTopic: mapTopic},
		NewGroupSubscriber: func(group string) (message.Subscriber, error) {
			sub, err := newGroupSubscriber(group)
			if err != nil {
				return nil, err
			}
			return mappedSubscriber{Subscriber: sub, mapTopic: mapTopic}, nil
		},
		Close: t.Close,
	}
}

type mappedPublisher struct {
	message.Publisher
	mapTopic func(string) string
}

func (p mappedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(p.mapTopic(topic), messages...)
}

type mappedSubscriber struct {
	message.Subscriber
	mapTopic func(string) string
}

func (s mappedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.mapTopic(topic))
}
