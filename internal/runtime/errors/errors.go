package errors

import sterrors "errors"

var (
	ErrNotRunning             = sterrors.New("eventbus: event bus is not running")
	ErrAlreadyRunning         = sterrors.New("eventbus: event bus is already running")
	ErrHandlerNotStarted      = sterrors.New("eventbus: registration handler is not started")
	ErrHandlerStopped         = sterrors.New("eventbus: registration handler is stopped")
	ErrGroupAlreadyRegistered = sterrors.New("eventbus: group is already registered")
	ErrListenerRequired       = sterrors.New("eventbus: listener is required")
	ErrKeyRequired            = sterrors.New("eventbus: registration key is required")
	ErrInvalidKey             = sterrors.New("eventbus: invalid registration key")
	ErrGroupRequired          = sterrors.New("eventbus: group is required")
	ErrEventRequired          = sterrors.New("eventbus: event is required")
	ErrUnknownKeyType         = sterrors.New("eventbus: unknown registration key type")
	ErrUnknownEventType       = sterrors.New("eventbus: unknown event type")
	ErrPayloadTooLarge        = sterrors.New("eventbus: notification payload exceeds PostgreSQL NOTIFY limit")
	ErrSerializerRequired     = sterrors.New("eventbus: event serializer is required")
	ErrKeyConverterRequired   = sterrors.New("eventbus: routing key converter is required")
)

// ConfigValidationError wraps configuration problems reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "eventbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
