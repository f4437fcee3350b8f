// Package eventbus is a distributed event bus for mail server nodes. Events
// reach listeners two ways:
//
//   - Key registrations: a listener registered for a RegistrationKey (a
//     mailbox id, a username) on any node receives the events dispatched
//     with that key. Each node owns a PostgreSQL LISTEN channel named after
//     its EventBusID; the bindings table maps routing keys to the channels
//     of the nodes that hold listeners for them, and Dispatch NOTIFYs each
//     bound channel. Synchronous listeners of the dispatching node run inline
//     before Dispatch returns.
//   - Group registrations: a listener registered under a Group consumes a
//     durable queue fed by every dispatched event. Failing group listeners
//     are retried with exponential backoff, then their event is stored in
//     EventDeadLetters and can be replayed with a Redeliverer.
//
// BuildDependencies connects to PostgreSQL, prepares the schema and builds
// the group transport selected by Config.GroupTransport:
//   - rabbitmq: one durable work queue per group (the default)
//   - kafka: one consumer group per group
//   - nats: NATS JetStream durable queue groups
//   - aws: SNS topics fanned out to per-group SQS queues
//   - channel: in-process Go channels for tests
//
// A minimal node fills Config, builds the dependencies, creates the bus with
// NewEventBus and calls Start:
//
//	deps, closeDeps, err := eventbus.BuildDependencies(ctx, conf, eventbus.DependencyOptions{
//		Serializer: serializer,
//	})
//	bus, err := eventbus.NewEventBus(conf, deps)
//	err = bus.Start(ctx)
//	reg, err := bus.Register(ctx, listener, eventbus.MailboxIDRegistrationKey(id))
//	err = bus.Dispatch(ctx, event, eventbus.MailboxIDRegistrationKey(id))
//
// ListenerHooks observe every listener execution; Metrics exposes
// Prometheus collectors for dispatch latency, listener failures, key
// notifications and dead letters.
package eventbus
