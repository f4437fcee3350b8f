package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/ids"
	"github.com/drblury/eventbus/internal/runtime/keychannel"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport"
	"github.com/drblury/eventbus/transport/postgres"
)

// Metadata keys set on group messages.
const (
	MetadataEventID   = "event_id"
	MetadataEventType = "event_type"
)

// EventDispatcherConfig wires an EventDispatcher.
type EventDispatcherConfig struct {
	EventBusID  EventBusID
	Exchange    string
	Publisher   message.Publisher
	Registry    *LocalListenerRegistry
	Serializer  EventSerializer
	Bindings    postgres.Bindings
	Notifier    ChannelPublisher
	DeadLetters EventDeadLetters

	Retry         RetryPolicy
	ExecutionRate int

	Logger  loggingpkg.ServiceLogger
	Metrics *Metrics
	Hooks   ListenerHooks
}

// EventDispatcher sends events to every group through the group transport
// and to the nodes bound to the event's keys through NOTIFY.
type EventDispatcher struct {
	conf   EventDispatcherConfig
	logger loggingpkg.ServiceLogger
	runner listenerRunner

	mu      sync.RWMutex
	started bool
}

func NewEventDispatcher(conf EventDispatcherConfig) (*EventDispatcher, error) {
	if conf.Serializer == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	if conf.Publisher == nil || conf.Bindings == nil || conf.Notifier == nil {
		return nil, errors.New("event dispatcher requires a publisher, bindings and a notifier")
	}
	if conf.Registry == nil {
		conf.Registry = NewLocalListenerRegistry()
	}
	if conf.DeadLetters == nil {
		conf.DeadLetters = NewMemoryEventDeadLetters()
	}
	if conf.ExecutionRate <= 0 {
		conf.ExecutionRate = 1
	}
	logger := loggingpkg.OrNop(conf.Logger)
	return &EventDispatcher{
		conf:   conf,
		logger: logger,
		runner: listenerRunner{logger: logger, metrics: conf.Metrics, hooks: conf.Hooks},
	}, nil
}

func (d *EventDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
}

func (d *EventDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
}

func (d *EventDispatcher) checkStarted() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.started {
		return errspkg.ErrHandlerNotStarted
	}
	return nil
}

// Dispatch runs the local synchronous listeners of keys inline, then sends
// the event to all groups and to the nodes bound to keys. A group publishing
// failure stores the event as a dead letter of DispatchingFailureGroup; key
// notification failures are logged only.
func (d *EventDispatcher) Dispatch(ctx context.Context, event Event, keys ...RegistrationKey) error {
	if event == nil {
		return errspkg.ErrEventRequired
	}
	if err := d.checkStarted(); err != nil {
		return err
	}
	if event.IsNoop() {
		return nil
	}

	routingKeys, err := distinctRoutingKeys(keys)
	if err != nil {
		return err
	}
	d.dispatchToLocalSynchronousListeners(ctx, event, routingKeys)
	return d.dispatchToRemote(ctx, event, routingKeys)
}

func distinctRoutingKeys(keys []RegistrationKey) ([]RoutingKey, error) {
	seen := make(map[RoutingKey]struct{}, len(keys))
	out := make([]RoutingKey, 0, len(keys))
	for _, k := range keys {
		if k == nil {
			continue
		}
		rk, err := routingKeyOf(k)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[rk]; ok {
			continue
		}
		seen[rk] = struct{}{}
		out = append(out, rk)
	}
	return out, nil
}

func (d *EventDispatcher) dispatchToLocalSynchronousListeners(ctx context.Context, event Event, keys []RoutingKey) {
	for _, key := range keys {
		for _, l := range d.conf.Registry.Listeners(key) {
			if l.ExecutionMode() != Synchronous {
				continue
			}
			d.runner.runKey(ctx, l, event, key)
		}
	}
}

func (d *EventDispatcher) dispatchToRemote(ctx context.Context, event Event, keys []RoutingKey) error {
	eventJSON, err := d.conf.Serializer.ToJSON(event)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", event.EventType(), err)
	}

	var g errgroup.Group
	var groupErr error
	g.Go(func() error {
		groupErr = d.publish(ctx, transport.EventTopic(d.conf.Exchange), event, eventJSON)
		return nil
	})
	g.Go(func() error {
		d.notifyKeys(ctx, event, eventJSON, keys)
		return nil
	})
	_ = g.Wait()

	if groupErr == nil {
		return nil
	}

	fields := loggingpkg.LogFields{"event_id": event.EventID(), "event_class": event.EventType()}
	d.logger.Error("Failed to dispatch event to groups, storing dead letter", groupErr, fields)
	if _, err := d.conf.DeadLetters.Store(context.WithoutCancel(ctx), DispatchingFailureGroup, event); err != nil {
		d.logger.Error("Failed to store dispatching failure", err, fields)
		return errors.Join(groupErr, err)
	}
	d.conf.Metrics.RecordDeadLetter(DispatchingFailureGroup.GroupName())
	return nil
}

// DispatchToAllGroups publishes event to every group. Unlike Dispatch, a
// failure is returned instead of being stored as a dead letter.
func (d *EventDispatcher) DispatchToAllGroups(ctx context.Context, event Event) error {
	return d.publishEvent(ctx, transport.EventTopic(d.conf.Exchange), event)
}

// DispatchToGroup sends event to the retry topic only group consumes.
func (d *EventDispatcher) DispatchToGroup(ctx context.Context, group Group, event Event) error {
	return d.publishEvent(ctx, transport.RetryTopic(d.conf.Exchange, group.GroupName()), event)
}

func (d *EventDispatcher) publishEvent(ctx context.Context, topic string, event Event) error {
	if err := d.checkStarted(); err != nil {
		return err
	}
	eventJSON, err := d.conf.Serializer.ToJSON(event)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", event.EventType(), err)
	}
	return d.publish(ctx, topic, event, eventJSON)
}

func (d *EventDispatcher) publish(ctx context.Context, topic string, event Event, eventJSON string) error {
	return d.conf.Retry.Do(ctx, d.logger, "publish", func(ctx context.Context) error {
		msg := message.NewMessage(ids.CreateULID(), []byte(eventJSON))
		msg.Metadata.Set(MetadataEventID, event.EventID())
		msg.Metadata.Set(MetadataEventType, event.EventType())
		msg.SetContext(ctx)
		return d.conf.Publisher.Publish(topic, msg)
	})
}

func (d *EventDispatcher) notifyKeys(ctx context.Context, event Event, eventJSON string, keys []RoutingKey) {
	if len(keys) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(d.conf.ExecutionRate)
	for _, key := range keys {
		g.Go(func() error {
			if err := d.notifyKey(ctx, key, eventJSON); err != nil {
				d.logger.Error("Failed to notify key listeners", err, loggingpkg.LogFields{
					"event_id":    event.EventID(),
					"event_class": event.EventType(),
					"routing_key": string(key),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *EventDispatcher) notifyKey(ctx context.Context, key RoutingKey, eventJSON string) error {
	channels, err := retryValue(ctx, d.conf.Retry, d.logger, "list channels", func(ctx context.Context) ([]string, error) {
		return d.conf.Bindings.Channels(ctx, string(key))
	})
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return nil
	}

	payload := keychannel.New(d.conf.EventBusID, string(key), eventJSON).Serialize()
	if err := postgres.CheckPayloadSize(payload); err != nil {
		return err
	}

	var errs []error
	for _, channel := range channels {
		err := d.conf.Retry.Do(ctx, d.logger, "notify", func(ctx context.Context) error {
			return d.conf.Notifier.Notify(ctx, channel, payload)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}
