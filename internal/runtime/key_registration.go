package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/keychannel"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport/postgres"
)

// ChannelSubscriber runs a LISTEN loop. See postgres.ChannelListener.
type ChannelSubscriber interface {
	Listen(ctx context.Context, channel string, ready func(), onNotification func(payload string)) error
}

// ChannelPublisher sends a notification to one node channel.
type ChannelPublisher interface {
	Notify(ctx context.Context, channel, payload string) error
}

// KeyRegistrationHandlerConfig wires a KeyRegistrationHandler.
type KeyRegistrationHandlerConfig struct {
	EventBusID EventBusID
	Registry   *LocalListenerRegistry
	Serializer EventSerializer
	Converter  *RoutingKeyConverter
	Bindings   postgres.Bindings
	Subscriber ChannelSubscriber

	Retry          RetryPolicy
	BindingTimeout time.Duration
	ExecutionRate  int
	// Reconnect re-opens the notification stream after a failure, giving up
	// after Retry.MaxRetries consecutive failures.
	Reconnect bool

	Logger  loggingpkg.ServiceLogger
	Metrics *Metrics
	Hooks   ListenerHooks
}

type handlerState int

const (
	handlerNew handlerState = iota
	handlerListening
	handlerStopped
)

// KeyRegistrationHandler delivers key notifications received on this node's
// channel to the local key listeners, and keeps the bindings table in sync
// with them.
type KeyRegistrationHandler struct {
	conf    KeyRegistrationHandlerConfig
	channel string
	binder  *postgres.KeyRegistrationBinder
	logger  loggingpkg.ServiceLogger
	runner  listenerRunner

	keyLocks keyLocks

	mu       sync.Mutex
	state    handlerState
	cancel   context.CancelFunc
	loopDone chan struct{}
	pool     *semaphore.Weighted
}

func NewKeyRegistrationHandler(conf KeyRegistrationHandlerConfig) (*KeyRegistrationHandler, error) {
	if conf.Serializer == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	if conf.Converter == nil {
		return nil, errspkg.ErrKeyConverterRequired
	}
	if conf.Bindings == nil || conf.Subscriber == nil {
		return nil, errors.New("key registration handler requires bindings and a channel subscriber")
	}
	if conf.Registry == nil {
		conf.Registry = NewLocalListenerRegistry()
	}
	if conf.ExecutionRate <= 0 {
		conf.ExecutionRate = 1
	}

	channel := conf.EventBusID.String()
	logger := loggingpkg.OrNop(conf.Logger).With(loggingpkg.LogFields{"channel": channel})

	return &KeyRegistrationHandler{
		conf:    conf,
		channel: channel,
		binder:  postgres.NewKeyRegistrationBinder(conf.Bindings, channel, logger),
		logger:  logger,
		runner:  listenerRunner{logger: logger, metrics: conf.Metrics, hooks: conf.Hooks},
	}, nil
}

// Channel is the notification channel of this node.
func (h *KeyRegistrationHandler) Channel() string { return h.channel }

// Start opens the notification stream and returns once LISTEN is in effect.
func (h *KeyRegistrationHandler) Start(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case handlerListening:
		h.mu.Unlock()
		return errspkg.ErrAlreadyRunning
	case handlerStopped:
		h.mu.Unlock()
		return errspkg.ErrHandlerStopped
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	failed := make(chan error, 1)
	done := make(chan struct{})

	h.pool = semaphore.NewWeighted(int64(h.conf.ExecutionRate))
	h.cancel = cancel
	h.loopDone = done
	h.state = handlerListening
	h.mu.Unlock()

	var readyOnce sync.Once
	go h.listenLoop(loopCtx, done, func() { readyOnce.Do(func() { close(ready) }) }, failed)

	select {
	case <-ready:
		return nil
	case err := <-failed:
		h.abortStart(cancel, done)
		return err
	case <-ctx.Done():
		h.abortStart(cancel, done)
		return ctx.Err()
	}
}

func (h *KeyRegistrationHandler) abortStart(cancel context.CancelFunc, done chan struct{}) {
	cancel()
	<-done
	h.mu.Lock()
	h.state = handlerNew
	h.cancel = nil
	h.mu.Unlock()
}

// Stop cancels the notification stream. In-flight listener invocations keep
// running to completion. Stop is idempotent and the handler cannot be
// restarted.
func (h *KeyRegistrationHandler) Stop() {
	h.mu.Lock()
	if h.state != handlerListening {
		h.state = handlerStopped
		h.mu.Unlock()
		return
	}
	h.state = handlerStopped
	cancel, done := h.cancel, h.loopDone
	h.mu.Unlock()

	cancel()
	<-done
	h.logger.Info("Key registration handler stopped", nil)
}

func (h *KeyRegistrationHandler) checkListening() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case handlerNew:
		return errspkg.ErrHandlerNotStarted
	case handlerStopped:
		return errspkg.ErrHandlerStopped
	}
	return nil
}

// keyLocks serializes registry changes and the remote bind or unbind of one
// routing key. Locks exist only while held or awaited, so a slow bind never
// blocks another key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[RoutingKey]*countedLock
}

type countedLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key RoutingKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[RoutingKey]*countedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &countedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Register adds listener for key. The first listener of a key on this node
// binds the key to the node channel; the bind is retried and a final failure
// rolls the local registration back.
func (h *KeyRegistrationHandler) Register(ctx context.Context, listener EventListener, key RegistrationKey) (Registration, error) {
	if listener == nil {
		return nil, errspkg.ErrListenerRequired
	}
	routingKey, err := routingKeyOf(key)
	if err != nil {
		return nil, err
	}
	if err := h.checkListening(); err != nil {
		return nil, err
	}

	unlock := h.keyLocks.lock(routingKey)
	defer unlock()

	local := h.conf.Registry.AddListener(routingKey, listener)
	if local.IsFirstListener() {
		if err := h.bindingRetry().Do(ctx, h.logger, "bind", func(ctx context.Context) error {
			return h.binder.Bind(ctx, string(routingKey))
		}); err != nil {
			local.Unregister()
			return nil, fmt.Errorf("bind %s: %w", routingKey, err)
		}
	}

	return &keyRegistration{handler: h, key: routingKey, local: local}, nil
}

func (h *KeyRegistrationHandler) bindingRetry() RetryPolicy {
	return h.conf.Retry.WithAttemptTimeout(h.conf.BindingTimeout)
}

type keyRegistration struct {
	handler *KeyRegistrationHandler
	key     RoutingKey
	local   *LocalRegistration

	// unbindPending is set while the last listener is gone but the binding
	// row could not be removed. Guarded by the key lock.
	unbindPending bool
}

// Unregister removes the listener; the last one of the key unbinds it. When
// the unbind fails, calling Unregister again retries it.
func (r *keyRegistration) Unregister(ctx context.Context) error {
	h := r.handler
	unlock := h.keyLocks.lock(r.key)
	defer unlock()

	if r.local.Unregister() {
		r.unbindPending = true
	}
	if !r.unbindPending {
		return nil
	}
	if len(h.conf.Registry.Listeners(r.key)) > 0 {
		// registered again since; the new first listener owns the binding
		r.unbindPending = false
		return nil
	}
	if err := h.bindingRetry().Do(ctx, h.logger, "unbind", func(ctx context.Context) error {
		return h.binder.Unbind(ctx, string(r.key))
	}); err != nil {
		h.logger.Error("Failed to unbind routing key", err, loggingpkg.LogFields{"routing_key": string(r.key)})
		return fmt.Errorf("unbind %s: %w", r.key, err)
	}
	r.unbindPending = false
	return nil
}

func (h *KeyRegistrationHandler) listenLoop(ctx context.Context, done chan struct{}, ready func(), failed chan<- error) {
	defer close(done)

	reconnect := &backoff.ExponentialBackOff{
		InitialInterval:     h.conf.Retry.withDefaults().FirstBackoff,
		RandomizationFactor: h.conf.Retry.JitterFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         h.conf.Retry.withDefaults().MaxBackoff,
	}
	reconnect.Reset()
	failures := 0

	for {
		var received atomic.Bool
		err := h.conf.Subscriber.Listen(ctx, h.channel, ready, func(payload string) {
			received.Store(true)
			h.onNotification(ctx, payload)
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("notification stream closed")
		}
		h.logger.Error("Key notification stream failed", err, nil)

		if received.Load() {
			failures = 0
			reconnect.Reset()
		}
		failures++
		if !h.conf.Reconnect || failures > h.conf.Retry.MaxRetries {
			select {
			case failed <- err:
			default:
			}
			if h.conf.Reconnect {
				h.logger.Error("Giving up on key notification stream", err, loggingpkg.LogFields{"attempts": failures})
			}
			return
		}

		wait := reconnect.NextBackOff()
		h.logger.Info("Reconnecting key notification stream", loggingpkg.LogFields{"in": wait.String(), "attempt": failures})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// onNotification runs on the loop goroutine. It blocks while the pool is
// full so a slow node applies backpressure to its own stream.
func (h *KeyRegistrationHandler) onNotification(loopCtx context.Context, payload string) {
	if payload == "" {
		return
	}
	if err := h.pool.Acquire(loopCtx, 1); err != nil {
		return
	}
	go func() {
		defer h.pool.Release(1)
		h.handleChannelMessage(context.WithoutCancel(loopCtx), payload)
	}()
}

func (h *KeyRegistrationHandler) handleChannelMessage(ctx context.Context, payload string) {
	if payload == "" {
		return
	}

	msg, err := keychannel.Parse(payload)
	if err != nil {
		h.conf.Metrics.RecordNotification(notificationMalformed)
		h.logger.Error("Dropping malformed key notification", err, nil)
		return
	}

	routingKey := RoutingKey(msg.RoutingKey)
	if _, err := h.conf.Converter.ToRegistrationKey(routingKey); err != nil {
		h.conf.Metrics.RecordNotification(notificationMalformed)
		h.logger.Error("Dropping key notification with unknown routing key", err, loggingpkg.LogFields{"routing_key": msg.RoutingKey})
		return
	}

	listeners := h.deliverableListeners(routingKey, msg.EventBusID == h.conf.EventBusID)
	if len(listeners) == 0 {
		h.conf.Metrics.RecordNotification(notificationFiltered)
		return
	}

	event, err := h.conf.Serializer.FromJSON(msg.EventJSON)
	if err != nil {
		h.conf.Metrics.RecordNotification(notificationMalformed)
		h.logger.Error("Dropping key notification with undecodable event", err, loggingpkg.LogFields{"routing_key": msg.RoutingKey})
		return
	}

	h.conf.Metrics.RecordNotification(notificationHandled)
	h.fanOut(ctx, event, routingKey, listeners)
}

// deliverableListeners skips synchronous listeners for events this node
// published: Dispatch already ran them inline.
func (h *KeyRegistrationHandler) deliverableListeners(key RoutingKey, ownEvent bool) []EventListener {
	all := h.conf.Registry.Listeners(key)
	if !ownEvent {
		return all
	}
	out := all[:0:0]
	for _, l := range all {
		if l.ExecutionMode() != Synchronous {
			out = append(out, l)
		}
	}
	return out
}

func (h *KeyRegistrationHandler) fanOut(ctx context.Context, event Event, key RoutingKey, listeners []EventListener) {
	var g errgroup.Group
	g.SetLimit(h.conf.ExecutionRate)
	for _, l := range listeners {
		g.Go(func() error {
			h.runner.runKey(ctx, l, event, key)
			return nil
		})
	}
	_ = g.Wait()
}
