package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
)

// Registration kinds reported in ListenerContext.
const (
	RegistrationKindKey   = "key"
	RegistrationKindGroup = "group"
)

// ListenerContext describes one listener execution to hooks.
type ListenerContext struct {
	// Context is the context the listener runs with.
	Context context.Context
	// Kind is RegistrationKindKey or RegistrationKindGroup.
	Kind string
	// RoutingKey is set for key listeners.
	RoutingKey string
	// Group is set for group listeners.
	Group string
	Event Event
	// Attempt starts at 1 and grows with group listener retries.
	Attempt   int
	StartedAt time.Time
	// Duration is only set in OnDone and OnError.
	Duration time.Duration
}

// ListenerHooks are callbacks around listener executions. Nil hooks are
// skipped. Hooks run on the listener goroutine and must not block.
type ListenerHooks struct {
	OnStart func(ctx ListenerContext)
	OnDone  func(ctx ListenerContext)
	OnError func(ctx ListenerContext, err error)
}

// Merge combines two ListenerHooks. The hooks from other are called after
// the hooks from h.
func (h ListenerHooks) Merge(other ListenerHooks) ListenerHooks {
	return ListenerHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(ListenerContext)) func(ListenerContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ListenerContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(ListenerContext, error)) func(ListenerContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ListenerContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks logs every listener execution at debug level.
func LoggingHooks(logger loggingpkg.ServiceLogger) ListenerHooks {
	logger = loggingpkg.OrNop(logger)
	return ListenerHooks{
		OnStart: func(ctx ListenerContext) {
			logger.Debug("Listener started", hookFields(ctx))
		},
		OnDone: func(ctx ListenerContext) {
			fields := hookFields(ctx)
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Listener completed", fields)
		},
		OnError: func(ctx ListenerContext, err error) {
			fields := hookFields(ctx)
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			fields["error"] = err.Error()
			logger.Debug("Listener failed", fields)
		},
	}
}

// AlertingHooks calls alert for every failed listener execution.
func AlertingHooks(alert func(ctx ListenerContext, err error)) ListenerHooks {
	return ListenerHooks{OnError: alert}
}

func hookFields(ctx ListenerContext) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"registration": ctx.Kind,
		"attempt":      ctx.Attempt,
	}
	if ctx.Event != nil {
		fields["event_id"] = ctx.Event.EventID()
		fields["event_class"] = ctx.Event.EventType()
	}
	if ctx.RoutingKey != "" {
		fields["routing_key"] = ctx.RoutingKey
	}
	if ctx.Group != "" {
		fields["group"] = ctx.Group
	}
	return fields
}

// listenerRunner runs listeners with the hooks, metrics and logger of a bus.
type listenerRunner struct {
	logger  loggingpkg.ServiceLogger
	metrics *Metrics
	hooks   ListenerHooks
}

func (r listenerRunner) run(ctx context.Context, lc ListenerContext, listener EventListener) error {
	lc.Context = ctx
	lc.StartedAt = time.Now()
	if lc.Attempt == 0 {
		lc.Attempt = 1
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart(lc)
	}

	err := invokeListener(ctx, listener, lc.Event)

	lc.Duration = time.Since(lc.StartedAt)
	if err != nil {
		if r.hooks.OnError != nil {
			r.hooks.OnError(lc, err)
		}
	} else if r.hooks.OnDone != nil {
		r.hooks.OnDone(lc)
	}
	return err
}

// runKey runs one key listener and logs its failure. Key listeners are not
// retried.
func (r listenerRunner) runKey(ctx context.Context, listener EventListener, event Event, key RoutingKey) {
	lc := ListenerContext{Kind: RegistrationKindKey, RoutingKey: string(key), Event: event}
	if err := r.run(ctx, lc, listener); err != nil {
		r.metrics.RecordListenerError(RegistrationKindKey)
		r.logger.Error("Key listener failed", err, listenerFailureFields(event, string(key)))
	}
}
