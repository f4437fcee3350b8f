package runtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport"
)

// GroupRegistrationHandlerConfig wires a GroupRegistrationHandler.
type GroupRegistrationHandlerConfig struct {
	Exchange    string
	Transport   transport.Transport
	Serializer  EventSerializer
	DeadLetters EventDeadLetters
	Retry       RetryPolicy

	Logger  loggingpkg.ServiceLogger
	Metrics *Metrics
	Hooks   ListenerHooks
}

// GroupRegistrationHandler consumes one durable queue per registered group.
// A failing listener is retried, then the event is stored as a dead letter
// of its group.
type GroupRegistrationHandler struct {
	conf   GroupRegistrationHandlerConfig
	logger loggingpkg.ServiceLogger
	runner listenerRunner

	mu      sync.Mutex
	groups  map[string]*groupConsumer
	// pending holds names reserved by a Register still subscribing.
	pending map[string]struct{}
	stopped bool
}

type groupConsumer struct {
	group      Group
	listener   EventListener
	subscriber message.Subscriber
	cancel     context.CancelFunc
	done       sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

func NewGroupRegistrationHandler(conf GroupRegistrationHandlerConfig) (*GroupRegistrationHandler, error) {
	if conf.Serializer == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	if conf.Transport.NewGroupSubscriber == nil {
		return nil, errors.New("group registration handler requires a transport")
	}
	if conf.DeadLetters == nil {
		conf.DeadLetters = NewMemoryEventDeadLetters()
	}
	logger := loggingpkg.OrNop(conf.Logger)
	return &GroupRegistrationHandler{
		conf:    conf,
		logger:  logger,
		runner:  listenerRunner{logger: logger, metrics: conf.Metrics, hooks: conf.Hooks},
		groups:  make(map[string]*groupConsumer),
		pending: make(map[string]struct{}),
	}, nil
}

// Register starts consuming the group's queue. A group can be registered once
// per node. The name is reserved while the broker subscription is set up, so
// other groups and Stop do not wait for the broker.
func (h *GroupRegistrationHandler) Register(ctx context.Context, listener EventListener, group Group) (Registration, error) {
	if listener == nil {
		return nil, errspkg.ErrListenerRequired
	}
	if group == nil || group.GroupName() == "" {
		return nil, errspkg.ErrGroupRequired
	}
	name := group.GroupName()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, errspkg.ErrHandlerStopped
	}
	_, exists := h.groups[name]
	_, reserved := h.pending[name]
	if exists || reserved {
		h.mu.Unlock()
		return nil, errspkg.ErrGroupAlreadyRegistered
	}
	h.pending[name] = struct{}{}
	h.mu.Unlock()

	consumer, err := h.subscribe(ctx, listener, group)

	h.mu.Lock()
	delete(h.pending, name)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if h.stopped {
		h.mu.Unlock()
		_ = consumer.stop()
		return nil, errspkg.ErrHandlerStopped
	}
	h.groups[name] = consumer
	h.mu.Unlock()

	h.logger.Info("Registered group", loggingpkg.LogFields{"group": name})
	return &groupRegistration{handler: h, consumer: consumer}, nil
}

// subscribe opens the group's queue and starts consuming the event and retry
// topics.
func (h *GroupRegistrationHandler) subscribe(ctx context.Context, listener EventListener, group Group) (*groupConsumer, error) {
	name := group.GroupName()
	subscriber, err := h.conf.Transport.NewGroupSubscriber(name)
	if err != nil {
		return nil, err
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	consumer := &groupConsumer{group: group, listener: listener, subscriber: subscriber, cancel: cancel}

	topics := []string{transport.EventTopic(h.conf.Exchange), transport.RetryTopic(h.conf.Exchange, name)}
	for _, topic := range topics {
		messages, err := subscriber.Subscribe(consumeCtx, topic)
		if err != nil {
			cancel()
			consumer.done.Wait()
			_ = subscriber.Close()
			return nil, err
		}
		consumer.done.Add(1)
		go func() {
			defer consumer.done.Done()
			h.consume(consumeCtx, consumer, messages)
		}()
	}
	return consumer, nil
}

type groupRegistration struct {
	handler  *GroupRegistrationHandler
	consumer *groupConsumer
	once     sync.Once
}

func (r *groupRegistration) Unregister(context.Context) error {
	var err error
	r.once.Do(func() {
		h := r.handler
		h.mu.Lock()
		if h.groups[r.consumer.group.GroupName()] == r.consumer {
			delete(h.groups, r.consumer.group.GroupName())
		}
		h.mu.Unlock()
		err = r.consumer.stop()
	})
	return err
}

func (c *groupConsumer) stop() error {
	c.stopOnce.Do(func() {
		c.cancel()
		c.done.Wait()
		c.stopErr = c.subscriber.Close()
	})
	return c.stopErr
}

func (h *GroupRegistrationHandler) consume(ctx context.Context, consumer *groupConsumer, messages <-chan *message.Message) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			h.handleMessage(ctx, consumer, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (h *GroupRegistrationHandler) handleMessage(ctx context.Context, consumer *groupConsumer, msg *message.Message) {
	name := consumer.group.GroupName()

	event, err := h.conf.Serializer.FromJSON(string(msg.Payload))
	if err != nil {
		h.logger.Error("Dropping undecodable group message", err, loggingpkg.LogFields{
			"group":        name,
			"message_uuid": msg.UUID,
		})
		msg.Ack()
		return
	}
	if event.IsNoop() {
		msg.Ack()
		return
	}

	attempt := 0
	err = h.conf.Retry.Do(ctx, h.logger, "group listener", func(ctx context.Context) error {
		attempt++
		return h.runner.run(ctx, ListenerContext{
			Kind:    RegistrationKindGroup,
			Group:   name,
			Event:   event,
			Attempt: attempt,
		}, consumer.listener)
	})
	if err == nil {
		msg.Ack()
		return
	}
	if ctx.Err() != nil {
		msg.Nack()
		return
	}

	h.conf.Metrics.RecordListenerError(RegistrationKindGroup)
	fields := listenerFailureFields(event, "")
	fields["group"] = name
	h.logger.Error("Group listener failed, storing dead letter", err, fields)

	if _, dlErr := h.conf.DeadLetters.Store(context.WithoutCancel(ctx), consumer.group, event); dlErr != nil {
		h.logger.Error("Failed to store dead letter", dlErr, fields)
		msg.Nack()
		return
	}
	h.conf.Metrics.RecordDeadLetter(name)
	msg.Ack()
}

// ListRegisteredGroups returns the groups registered on this node, by name.
func (h *GroupRegistrationHandler) ListRegisteredGroups() []Group {
	h.mu.Lock()
	defer h.mu.Unlock()
	groups := make([]Group, 0, len(h.groups))
	for _, c := range h.groups {
		groups = append(groups, c.group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupName() < groups[j].GroupName() })
	return groups
}

// Stop stops every group consumer. The handler cannot be reused.
func (h *GroupRegistrationHandler) Stop() error {
	h.mu.Lock()
	h.stopped = true
	consumers := make([]*groupConsumer, 0, len(h.groups))
	for _, c := range h.groups {
		consumers = append(consumers, c)
	}
	h.groups = make(map[string]*groupConsumer)
	h.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		errs = append(errs, c.stop())
	}
	return errors.Join(errs...)
}
