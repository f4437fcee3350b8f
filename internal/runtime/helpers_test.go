package runtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/transport"
	"github.com/drblury/eventbus/transport/channel"
)

const testEventType = "MailboxAdded"

type testEvent struct {
	ID   string `json:"id"`
	User string `json:"username"`
	Noop bool   `json:"noop"`
}

func newTestEvent(user string) *testEvent {
	return &testEvent{ID: uuid.NewString(), User: user}
}

func (e *testEvent) EventID() string   { return e.ID }
func (e *testEvent) Username() string  { return e.User }
func (e *testEvent) EventType() string { return testEventType }
func (e *testEvent) IsNoop() bool      { return e.Noop }

func testSerializer() *JSONEventSerializer {
	s := NewJSONEventSerializer()
	s.RegisterEventType(testEventType, func() Event { return &testEvent{} })
	return s
}

// recordingListener collects received events.
type recordingListener struct {
	mode   ExecutionMode
	err    error
	events chan Event
}

func newRecordingListener(mode ExecutionMode) *recordingListener {
	return &recordingListener{mode: mode, events: make(chan Event, 64)}
}

func (l *recordingListener) Handle(_ context.Context, event Event) error {
	l.events <- event
	return l.err
}

func (l *recordingListener) ExecutionMode() ExecutionMode { return l.mode }

func (l *recordingListener) await(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-l.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func (l *recordingListener) assertNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-l.events:
		t.Fatalf("unexpected event %s", e.EventID())
	case <-time.After(wait):
	}
}

// memoryBindings is a shared in-memory bindings table.
type memoryBindings struct {
	mu      sync.Mutex
	rows    map[string]map[string]struct{}
	binds   int
	unbinds int
	err     error
}

func newMemoryBindings() *memoryBindings {
	return &memoryBindings{rows: make(map[string]map[string]struct{})}
}

func (m *memoryBindings) Bind(_ context.Context, routingKey, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.binds++
	if m.rows[routingKey] == nil {
		m.rows[routingKey] = make(map[string]struct{})
	}
	m.rows[routingKey][channel] = struct{}{}
	return nil
}

func (m *memoryBindings) Unbind(_ context.Context, routingKey, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.unbinds++
	delete(m.rows[routingKey], channel)
	if len(m.rows[routingKey]) == 0 {
		delete(m.rows, routingKey)
	}
	return nil
}

func (m *memoryBindings) Channels(_ context.Context, routingKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows[routingKey]))
	for ch := range m.rows[routingKey] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryBindings) counts() (binds, unbinds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binds, m.unbinds
}

func (m *memoryBindings) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// notificationHub stands in for LISTEN/NOTIFY between in-process nodes.
// Notifications to channels nobody listens on are dropped.
type notificationHub struct {
	mu        sync.Mutex
	listeners map[string]chan string
	notified  int
	listenErr error
}

func newNotificationHub() *notificationHub {
	return &notificationHub{listeners: make(map[string]chan string)}
}

func (h *notificationHub) Listen(ctx context.Context, channel string, ready func(), onNotification func(payload string)) error {
	h.mu.Lock()
	if h.listenErr != nil {
		err := h.listenErr
		h.mu.Unlock()
		return err
	}
	ch := make(chan string, 256)
	h.listeners[channel] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.listeners, channel)
		h.mu.Unlock()
	}()

	if ready != nil {
		ready()
	}
	for {
		select {
		case payload := <-ch:
			onNotification(payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *notificationHub) Notify(_ context.Context, channel, payload string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notified++
	if ch, ok := h.listeners[channel]; ok {
		ch <- payload
	}
	return nil
}

func (h *notificationHub) notifyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notified
}

// countingPublisher wraps a publisher and can be made to fail.
type countingPublisher struct {
	inner message.Publisher

	mu     sync.Mutex
	topics []string
	err    error
}

func (p *countingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.inner.Publish(topic, messages...)
}

func (p *countingPublisher) Close() error { return nil }

func (p *countingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func (p *countingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// failingDeadLetters refuses to store anything.
type failingDeadLetters struct {
	*MemoryEventDeadLetters
}

func (failingDeadLetters) Store(context.Context, Group, Event) (InsertionID, error) {
	return uuid.Nil, errors.New("dead letters unavailable")
}

// cluster is the shared infrastructure of in-process test nodes.
type cluster struct {
	bindings    *memoryBindings
	hub         *notificationHub
	pubSub      *gochannel.GoChannel
	publisher   *countingPublisher
	deadLetters *MemoryEventDeadLetters
	serializer  *JSONEventSerializer
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return &cluster{
		bindings:    newMemoryBindings(),
		hub:         newNotificationHub(),
		pubSub:      pubSub,
		publisher:   &countingPublisher{inner: pubSub},
		deadLetters: NewMemoryEventDeadLetters(),
		serializer:  testSerializer(),
	}
}

func testConfig() configpkg.Config {
	return configpkg.Config{
		GroupTransport:    "channel",
		ExecutionRate:     4,
		RetryMaxRetries:   2,
		RetryFirstBackoff: time.Millisecond,
		RetryJitterFactor: 0.1,
		BindingTimeout:    time.Second,
	}
}

func (c *cluster) dependencies(metrics *Metrics) Dependencies {
	groupTransport := channel.NewTransport(c.pubSub)
	return Dependencies{
		Serializer:  c.serializer,
		Bindings:    c.bindings,
		Subscriber:  c.hub,
		Notifier:    c.hub,
		Transport:   transport.Transport{Publisher: c.publisher, NewGroupSubscriber: groupTransport.NewGroupSubscriber},
		DeadLetters: c.deadLetters,
		Metrics:     metrics,
	}
}

// startNode starts a bus on the cluster and stops it at cleanup.
func (c *cluster) startNode(t *testing.T, deps Dependencies) *EventBus {
	t.Helper()
	bus, err := NewEventBus(testConfig(), deps)
	if err != nil {
		t.Fatalf("new event bus: %v", err)
	}
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start event bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Stop() })
	return bus
}

func (h *notificationHub) listening(channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.listeners[channel]
	return ok
}

func (h *notificationHub) setListenErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listenErr = err
}
