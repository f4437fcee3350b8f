package runtime

import (
	"context"

	"github.com/google/uuid"
)

// EventBusID identifies one running event bus. It names the node's private
// notification channel and marks the origin of key-registration messages.
type EventBusID = uuid.UUID

// Event is a domain event carried by the bus. Events are owned by the
// publishing subsystem; the bus only needs their identity and a serializer.
type Event interface {
	EventID() string
	Username() string
	// EventType is the class identity used by serializers and logs.
	EventType() string
	// IsNoop reports events that carry no change. They are never dispatched.
	IsNoop() bool
}

// Group is a named, durable consumer identity. Each group receives every
// dispatched event at least once, on whichever node registered it.
type Group interface {
	GroupName() string
}

// GenericGroup is a Group identified by its name only.
type GenericGroup string

func (g GenericGroup) GroupName() string { return string(g) }

// NewGroup returns a Group with the given name.
func NewGroup(name string) Group {
	return GenericGroup(name)
}

type dispatchingFailureGroup struct{}

func (dispatchingFailureGroup) GroupName() string { return "eventbus.DispatchingFailureGroup" }

// DispatchingFailureGroup holds dead letters for events whose dispatch to the
// group transport failed. Redelivering it re-dispatches to every group.
var DispatchingFailureGroup Group = dispatchingFailureGroup{}

// IsDispatchingFailureGroup compares by name so groups rebuilt from storage match.
func IsDispatchingFailureGroup(g Group) bool {
	return g != nil && g.GroupName() == DispatchingFailureGroup.GroupName()
}

func groupFromName(name string) Group {
	if name == DispatchingFailureGroup.GroupName() {
		return DispatchingFailureGroup
	}
	return GenericGroup(name)
}

// Registration is returned by the bus for every registered listener.
// Unregister is idempotent.
type Registration interface {
	Unregister(ctx context.Context) error
}
