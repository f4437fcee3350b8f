// Package keychannel frames key-registration events for transport over a
// PostgreSQL notification channel.
//
// A frame is the text
//
//	<eventBusId>|||<routingKey>|||<eventJson>
//
// split into at most three parts, so the JSON payload is never split further.
// Bus ids never contain the delimiter; routing keys holding it are rejected
// at registration and dispatch.
package keychannel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Delimiter separates the three fields of a frame.
const Delimiter = "|||"

// ErrMalformedMessage is wrapped by every Parse failure.
var ErrMalformedMessage = errors.New("keychannel: malformed message")

// Message is one key-registration event on the wire.
type Message struct {
	EventBusID uuid.UUID
	RoutingKey string
	EventJSON  string
}

// New builds a Message.
func New(eventBusID uuid.UUID, routingKey, eventJSON string) Message {
	return Message{EventBusID: eventBusID, RoutingKey: routingKey, EventJSON: eventJSON}
}

// Serialize renders the frame.
func (m Message) Serialize() string {
	var b strings.Builder
	b.Grow(36 + len(m.RoutingKey) + len(m.EventJSON) + 2*len(Delimiter))
	b.WriteString(m.EventBusID.String())
	b.WriteString(Delimiter)
	b.WriteString(m.RoutingKey)
	b.WriteString(Delimiter)
	b.WriteString(m.EventJSON)
	return b.String()
}

// Parse reads a frame produced by Serialize.
func Parse(payload string) (Message, error) {
	parts := strings.SplitN(payload, Delimiter, 3)
	if len(parts) != 3 {
		return Message{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedMessage, len(parts))
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return Message{}, fmt.Errorf("%w: event bus id %q: %w", ErrMalformedMessage, parts[0], err)
	}

	return Message{EventBusID: id, RoutingKey: parts[1], EventJSON: parts[2]}, nil
}

// QuoteChannel renders a channel name as a quoted SQL identifier, suitable for
// LISTEN "<name>". Channel names derive from bus ids, which are not valid bare
// identifiers.
func QuoteChannel(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
