/*
Package runtime implements the event bus behind the eventbus facade.

# Architecture Overview

A node runs one EventBus. The bus owns two registration handlers and a
dispatcher that feeds both:

## Key registrations (key_registration.go)

KeyRegistrationHandler keeps the local listener registry and the node's
LISTEN channel, named after its EventBusID. The first listener for a key
binds the routing key to the channel in the bindings table; the last one to
leave removes the binding. Notifications are "<eventBusId>|||<routingKey>|||<eventJson>"
and are delivered to every local listener of the key. Synchronous listeners
are skipped for notifications sent by the same node because the dispatcher
already ran them inline.

## Group registrations (group_registration.go)

GroupRegistrationHandler consumes one durable queue per group from the
transport selected in config. A failing listener is retried according to
RetryPolicy on the group's retry topic; exhausted events are stored in
EventDeadLetters.

## Dispatch (dispatcher.go)

EventDispatcher runs synchronous local listeners, publishes the event for
groups and notifies every node bound to the event's keys. Publish failures
are stored under DispatchingFailureGroup.

## Dead letters (deadletters.go, redeliver.go)

EventDeadLetters has memory and PostgreSQL implementations. Redeliverer
replays stored events to their group, or to every group for
DispatchingFailureGroup, and removes them once redelivered.

## Observability (metrics.go, hooks.go)

Metrics registers Prometheus collectors. ListenerHooks observe each
listener execution with its attempt number and duration.

## Wiring (wiring.go)

BuildDependencies opens PostgreSQL, creates the schema and builds the group
transport through the transport registry.
*/
package runtime
