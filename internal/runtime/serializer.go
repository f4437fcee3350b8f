package runtime

import (
	"encoding/json"
	"fmt"
	"sync"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/jsoncodec"
)

// EventSerializer converts events to the JSON carried by notifications,
// group messages and dead letters.
type EventSerializer interface {
	ToJSON(event Event) (string, error)
	FromJSON(data string) (Event, error)
}

type eventEnvelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// JSONEventSerializer wraps every event in a {"type","event"} envelope and
// decodes it back through the factory registered for the type.
type JSONEventSerializer struct {
	mu        sync.RWMutex
	factories map[string]func() Event
}

func NewJSONEventSerializer() *JSONEventSerializer {
	return &JSONEventSerializer{factories: make(map[string]func() Event)}
}

// RegisterEventType makes events of eventType decodable. factory must return
// a pointer the JSON payload can be decoded into.
func (s *JSONEventSerializer) RegisterEventType(eventType string, factory func() Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[eventType] = factory
}

func (s *JSONEventSerializer) ToJSON(event Event) (string, error) {
	if event == nil {
		return "", errspkg.ErrEventRequired
	}
	body, err := jsoncodec.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	return jsoncodec.MarshalToString(eventEnvelope{Type: event.EventType(), Event: body})
}

func (s *JSONEventSerializer) FromJSON(data string) (Event, error) {
	var envelope eventEnvelope
	if err := jsoncodec.UnmarshalFromString(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	s.mu.RLock()
	factory, ok := s.factories[envelope.Type]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, envelope.Type)
	}

	event := factory()
	if err := jsoncodec.Unmarshal(envelope.Event, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return event, nil
}

// GenericEvent is a schemaless event whose type is carried as data. It is
// handy for tools and tests that do not own typed events.
type GenericEvent struct {
	ID      string          `json:"id"`
	User    string          `json:"username"`
	Type    string          `json:"type"`
	Noop    bool            `json:"noop,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e *GenericEvent) EventID() string   { return e.ID }
func (e *GenericEvent) Username() string  { return e.User }
func (e *GenericEvent) EventType() string { return e.Type }
func (e *GenericEvent) IsNoop() bool      { return e.Noop }

// RegisterGenericEventType decodes eventType as a *GenericEvent.
func (s *JSONEventSerializer) RegisterGenericEventType(eventType string) {
	s.RegisterEventType(eventType, func() Event { return &GenericEvent{} })
}
