package runtime

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport"
	"github.com/drblury/eventbus/transport/postgres"
)

// Dependencies are the collaborators an EventBus is assembled from.
// BuildDependencies produces them from a Config.
type Dependencies struct {
	Serializer  EventSerializer
	Converter   *RoutingKeyConverter
	Bindings    postgres.Bindings
	Subscriber  ChannelSubscriber
	Notifier    ChannelPublisher
	Transport   transport.Transport
	DeadLetters EventDeadLetters

	Logger  loggingpkg.ServiceLogger
	Metrics *Metrics
	// Hooks observe every key and group listener execution.
	Hooks ListenerHooks
}

// EventBus routes events to key listeners over PostgreSQL notifications and
// to groups over the group transport.
type EventBus struct {
	id   EventBusID
	conf configpkg.Config
	deps Dependencies

	logger loggingpkg.ServiceLogger

	mu         sync.Mutex
	running    bool
	stopping   bool
	registry   *LocalListenerRegistry
	keys       *KeyRegistrationHandler
	groups     *GroupRegistrationHandler
	dispatcher *EventDispatcher
}

// NewEventBus assembles a bus with a fresh EventBusID. Call Start before use.
func NewEventBus(conf configpkg.Config, deps Dependencies) (*EventBus, error) {
	if deps.Serializer == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	if deps.Converter == nil {
		deps.Converter = DefaultRoutingKeyConverter()
	}
	if deps.DeadLetters == nil {
		deps.DeadLetters = NewMemoryEventDeadLetters()
	}
	if deps.Bindings == nil || deps.Subscriber == nil || deps.Notifier == nil {
		return nil, errors.New("event bus requires bindings, a channel subscriber and a notifier")
	}
	if deps.Transport.Publisher == nil || deps.Transport.NewGroupSubscriber == nil {
		return nil, errors.New("event bus requires a group transport")
	}

	id := ids.NewEventBusID()
	logger := loggingpkg.OrNop(deps.Logger).With(loggingpkg.LogFields{"event_bus_id": id.String()})
	deps.Logger = logger

	return &EventBus{
		id:     id,
		conf:   conf.WithDefaults(),
		deps:   deps,
		logger: logger,
	}, nil
}

func (b *EventBus) ID() EventBusID { return b.id }

// Start builds the local registry, the key and group registration handlers
// and the dispatcher, then starts the dispatcher and the key handler.
func (b *EventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errspkg.ErrAlreadyRunning
	}

	retry := RetryPolicyFromConfig(b.conf)
	registry := NewLocalListenerRegistry()

	keys, err := NewKeyRegistrationHandler(KeyRegistrationHandlerConfig{
		EventBusID:     b.id,
		Registry:       registry,
		Serializer:     b.deps.Serializer,
		Converter:      b.deps.Converter,
		Bindings:       b.deps.Bindings,
		Subscriber:     b.deps.Subscriber,
		Retry:          retry,
		BindingTimeout: b.conf.BindingTimeout,
		ExecutionRate:  b.conf.ExecutionRate,
		Reconnect:      b.conf.ListenerReconnect,
		Logger:         b.logger,
		Metrics:        b.deps.Metrics,
		Hooks:          b.deps.Hooks,
	})
	if err != nil {
		return err
	}

	groups, err := NewGroupRegistrationHandler(GroupRegistrationHandlerConfig{
		Exchange:    b.conf.Exchange,
		Transport:   b.deps.Transport,
		Serializer:  b.deps.Serializer,
		DeadLetters: b.deps.DeadLetters,
		Retry:       retry,
		Logger:      b.logger,
		Metrics:     b.deps.Metrics,
		Hooks:       b.deps.Hooks,
	})
	if err != nil {
		return err
	}

	dispatcher, err := NewEventDispatcher(EventDispatcherConfig{
		EventBusID:    b.id,
		Exchange:      b.conf.Exchange,
		Publisher:     b.deps.Transport.Publisher,
		Registry:      registry,
		Serializer:    b.deps.Serializer,
		Bindings:      b.deps.Bindings,
		Notifier:      b.deps.Notifier,
		DeadLetters:   b.deps.DeadLetters,
		Retry:         retry,
		ExecutionRate: b.conf.ExecutionRate,
		Logger:        b.logger,
		Metrics:       b.deps.Metrics,
		Hooks:         b.deps.Hooks,
	})
	if err != nil {
		return err
	}

	dispatcher.Start()
	if err := keys.Start(ctx); err != nil {
		dispatcher.Stop()
		return err
	}

	b.registry = registry
	b.keys = keys
	b.groups = groups
	b.dispatcher = dispatcher
	b.running = true
	b.logger.Info("Event bus started", loggingpkg.LogFields{"channel": keys.Channel()})
	return nil
}

// Stop stops the key handler, the group handler, then the dispatcher. It is
// a no-op when the bus is not running or already stopping.
func (b *EventBus) Stop() error {
	b.mu.Lock()
	if !b.running || b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	keys, groups, dispatcher := b.keys, b.groups, b.dispatcher
	b.mu.Unlock()

	keys.Stop()
	err := groups.Stop()
	dispatcher.Stop()

	b.mu.Lock()
	b.running = false
	b.stopping = false
	b.mu.Unlock()
	b.logger.Info("Event bus stopped", nil)
	return err
}

// IsRunning reports whether the bus accepts operations.
func (b *EventBus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.stopping
}

func (b *EventBus) components() (*KeyRegistrationHandler, *GroupRegistrationHandler, *EventDispatcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running || b.stopping {
		return nil, nil, nil, errspkg.ErrNotRunning
	}
	return b.keys, b.groups, b.dispatcher, nil
}

// Register adds a key listener.
func (b *EventBus) Register(ctx context.Context, listener EventListener, key RegistrationKey) (Registration, error) {
	keys, _, _, err := b.components()
	if err != nil {
		return nil, err
	}
	return keys.Register(ctx, listener, key)
}

// RegisterGroup starts consuming group on this node.
func (b *EventBus) RegisterGroup(ctx context.Context, listener EventListener, group Group) (Registration, error) {
	_, groups, _, err := b.components()
	if err != nil {
		return nil, err
	}
	return groups.Register(ctx, listener, group)
}

// Dispatch delivers event to every group and to the listeners of keys.
// No-op events return immediately.
func (b *EventBus) Dispatch(ctx context.Context, event Event, keys ...RegistrationKey) error {
	_, _, dispatcher, err := b.components()
	if err != nil {
		return err
	}
	if event == nil {
		return errspkg.ErrEventRequired
	}
	if event.IsNoop() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "EventBus.Dispatch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.EventID()),
		attribute.String("event.type", event.EventType()),
		attribute.Int("event.keys", len(keys)),
	)
	timer := b.deps.Metrics.DispatchTimer(event.EventType())
	defer timer.ObserveDuration()

	if err := dispatcher.Dispatch(ctx, event, keys...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// ReDeliver sends event again to group. DispatchingFailureGroup events are
// re-dispatched to every group, without keys; other groups get it on their
// retry topic.
func (b *EventBus) ReDeliver(ctx context.Context, group Group, event Event) error {
	_, _, dispatcher, err := b.components()
	if err != nil {
		return err
	}
	if group == nil {
		return errspkg.ErrGroupRequired
	}
	if event == nil {
		return errspkg.ErrEventRequired
	}
	if event.IsNoop() {
		return nil
	}
	if IsDispatchingFailureGroup(group) {
		return dispatcher.DispatchToAllGroups(ctx, event)
	}
	return dispatcher.DispatchToGroup(ctx, group, event)
}

// ListRegisteredGroups returns the groups registered on this node. It is
// empty when the bus is not running.
func (b *EventBus) ListRegisteredGroups() []Group {
	_, groups, _, err := b.components()
	if err != nil {
		return nil
	}
	return groups.ListRegisteredGroups()
}

// DeadLetters exposes the store groups write failed events to.
func (b *EventBus) DeadLetters() EventDeadLetters {
	return b.deps.DeadLetters
}
