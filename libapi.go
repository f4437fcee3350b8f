package eventbus

import (
	runtimepkg "github.com/drblury/eventbus/internal/runtime"
	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	idspkg "github.com/drblury/eventbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	transportpkg "github.com/drblury/eventbus/transport"
)

type (
	Config            = configpkg.Config
	EventBus          = runtimepkg.EventBus
	Dependencies      = runtimepkg.Dependencies
	DependencyOptions = runtimepkg.DependencyOptions
	EventBusID        = runtimepkg.EventBusID

	Event         = runtimepkg.Event
	GenericEvent  = runtimepkg.GenericEvent
	Group         = runtimepkg.Group
	GenericGroup  = runtimepkg.GenericGroup
	Registration  = runtimepkg.Registration
	EventListener = runtimepkg.EventListener
	ExecutionMode = runtimepkg.ExecutionMode
	PanicError    = runtimepkg.PanicError

	RegistrationKey          = runtimepkg.RegistrationKey
	RegistrationKeyFactory   = runtimepkg.RegistrationKeyFactory
	RoutingKey               = runtimepkg.RoutingKey
	RoutingKeyConverter      = runtimepkg.RoutingKeyConverter
	MailboxIDRegistrationKey = runtimepkg.MailboxIDRegistrationKey
	UsernameRegistrationKey  = runtimepkg.UsernameRegistrationKey
	MailboxIDKeyFactory      = runtimepkg.MailboxIDKeyFactory
	UsernameKeyFactory       = runtimepkg.UsernameKeyFactory

	EventSerializer     = runtimepkg.EventSerializer
	JSONEventSerializer = runtimepkg.JSONEventSerializer

	InsertionID              = runtimepkg.InsertionID
	EventDeadLetters         = runtimepkg.EventDeadLetters
	MemoryEventDeadLetters   = runtimepkg.MemoryEventDeadLetters
	PostgresEventDeadLetters = runtimepkg.PostgresEventDeadLetters
	DeadLetterRecords        = runtimepkg.DeadLetterRecords
	Redeliverer              = runtimepkg.Redeliverer
	RedeliveryReport         = runtimepkg.RedeliveryReport

	RetryPolicy            = runtimepkg.RetryPolicy
	Metrics                = runtimepkg.Metrics
	GroupDeadLetterMetrics = runtimepkg.GroupDeadLetterMetrics

	// Listener lifecycle hooks
	ListenerContext = runtimepkg.ListenerContext
	ListenerHooks   = runtimepkg.ListenerHooks

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
	GroupTransport        = transportpkg.Transport
)

const (
	Asynchronous = runtimepkg.Asynchronous
	Synchronous  = runtimepkg.Synchronous

	RegistrationKindKey   = runtimepkg.RegistrationKindKey
	RegistrationKindGroup = runtimepkg.RegistrationKindGroup
)

var (
	NewEventBus       = runtimepkg.NewEventBus
	BuildDependencies = runtimepkg.BuildDependencies
	NewRedeliverer    = runtimepkg.NewRedeliverer
	NewListener       = runtimepkg.NewListener
	NewGroup          = runtimepkg.NewGroup
	ValidateConfig    = configpkg.ValidateConfig

	NewRoutingKeyConverter     = runtimepkg.NewRoutingKeyConverter
	DefaultRoutingKeyConverter = runtimepkg.DefaultRoutingKeyConverter
	ToRoutingKey               = runtimepkg.ToRoutingKey

	NewJSONEventSerializer = runtimepkg.NewJSONEventSerializer

	NewMemoryEventDeadLetters   = runtimepkg.NewMemoryEventDeadLetters
	NewPostgresEventDeadLetters = runtimepkg.NewPostgresEventDeadLetters
	IsDispatchingFailureGroup   = runtimepkg.IsDispatchingFailureGroup

	RetryPolicyFromConfig = runtimepkg.RetryPolicyFromConfig
	NewMetrics            = runtimepkg.NewMetrics

	// Listener lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewEventBusID   = idspkg.NewEventBusID
	ParseEventBusID = idspkg.ParseEventBusID

	// Group transport registry. Built-in transports register themselves when
	// github.com/drblury/eventbus/transport/transports is imported, which
	// BuildDependencies does.
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	GetCapabilities          = transportpkg.GetCapabilities

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrNotRunning             = errspkg.ErrNotRunning
	ErrAlreadyRunning         = errspkg.ErrAlreadyRunning
	ErrHandlerNotStarted      = errspkg.ErrHandlerNotStarted
	ErrHandlerStopped         = errspkg.ErrHandlerStopped
	ErrGroupAlreadyRegistered = errspkg.ErrGroupAlreadyRegistered
	ErrListenerRequired       = errspkg.ErrListenerRequired
	ErrKeyRequired            = errspkg.ErrKeyRequired
	ErrInvalidKey             = errspkg.ErrInvalidKey
	ErrGroupRequired          = errspkg.ErrGroupRequired
	ErrEventRequired          = errspkg.ErrEventRequired
	ErrUnknownKeyType         = errspkg.ErrUnknownKeyType
	ErrUnknownEventType       = errspkg.ErrUnknownEventType
	ErrPayloadTooLarge        = errspkg.ErrPayloadTooLarge
	ErrSerializerRequired     = errspkg.ErrSerializerRequired
	ErrKeyConverterRequired   = errspkg.ErrKeyConverterRequired
)

// DispatchingFailureGroup holds events whose dispatch to the group transport
// failed. Redelivering it re-dispatches to every group.
var DispatchingFailureGroup = runtimepkg.DispatchingFailureGroup
