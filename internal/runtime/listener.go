package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
)

// ExecutionMode tells the bus where a key listener runs.
type ExecutionMode int

const (
	// Asynchronous listeners run when the node receives the notification.
	Asynchronous ExecutionMode = iota
	// Synchronous listeners also run inline on the publishing node during
	// Dispatch; the notification fan-out then skips them on that node.
	Synchronous
)

func (m ExecutionMode) String() string {
	switch m {
	case Synchronous:
		return "SYNCHRONOUS"
	case Asynchronous:
		return "ASYNCHRONOUS"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// EventListener receives events. Errors are logged by the bus and never
// reach sibling listeners or the publisher.
type EventListener interface {
	Handle(ctx context.Context, event Event) error
	ExecutionMode() ExecutionMode
}

type listenerFunc struct {
	mode ExecutionMode
	fn   func(ctx context.Context, event Event) error
}

func (l *listenerFunc) Handle(ctx context.Context, event Event) error { return l.fn(ctx, event) }
func (l *listenerFunc) ExecutionMode() ExecutionMode                  { return l.mode }

// NewListener adapts a function into an EventListener.
func NewListener(mode ExecutionMode, fn func(ctx context.Context, event Event) error) EventListener {
	return &listenerFunc{mode: mode, fn: fn}
}

// PanicError is returned when a listener panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panicked: %v", e.Value)
}

var tracer = otel.Tracer("github.com/drblury/eventbus")

// invokeListener runs one listener and turns panics into errors.
func invokeListener(ctx context.Context, listener EventListener, event Event) (err error) {
	ctx, span := tracer.Start(ctx, "EventListener.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.EventID()),
		attribute.String("event.type", event.EventType()),
		attribute.String("listener.execution_mode", listener.ExecutionMode().String()),
	)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return listener.Handle(ctx, event)
}

// listenerFailureFields is the structured context logged for a failed listener.
func listenerFailureFields(event Event, key string) loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"event_id":         event.EventID(),
		"event_class":      event.EventType(),
		"username":         event.Username(),
		"registration_key": key,
	}
}
