package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport"
	"github.com/drblury/eventbus/transport/postgres"

	_ "github.com/drblury/eventbus/transport/transports"
)

// DependencyOptions customizes BuildDependencies. Serializer is required;
// other zero values select defaults.
type DependencyOptions struct {
	Serializer EventSerializer
	Converter  *RoutingKeyConverter
	Logger     loggingpkg.ServiceLogger
	// Registerer receives the bus metrics when MetricsEnabled is set.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Registry selects the group transport builders. Defaults to
	// transport.DefaultRegistry.
	Registry *transport.Registry
}

// BuildDependencies connects to PostgreSQL, prepares the schema and builds
// the configured group transport. The returned closer releases them.
func BuildDependencies(ctx context.Context, conf configpkg.Config, opts DependencyOptions) (Dependencies, func() error, error) {
	if opts.Serializer == nil {
		return Dependencies{}, nil, errspkg.ErrSerializerRequired
	}
	conf = conf.WithDefaults()
	if err := errors.Join(conf.Validate(), conf.ValidatePostgres()); err != nil {
		return Dependencies{}, nil, errspkg.NewConfigValidationError(err)
	}

	logger := loggingpkg.OrNop(opts.Logger)
	converter := opts.Converter
	if converter == nil {
		converter = DefaultRoutingKeyConverter()
	}
	registry := opts.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}

	var metrics *Metrics
	if conf.MetricsEnabled {
		metrics = NewMetrics(opts.Registerer, conf.MetricsNamespace)
		if err := metrics.Register(); err != nil {
			return Dependencies{}, nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	exec, err := postgres.Open(ctx, postgres.Options{
		URL:              conf.PostgresURL,
		BindingsTable:    conf.BindingsTable,
		DeadLettersTable: conf.DeadLettersTable,
	})
	if err != nil {
		return Dependencies{}, nil, err
	}
	if err := exec.EnsureSchema(ctx); err != nil {
		_ = exec.Close()
		return Dependencies{}, nil, err
	}

	groupTransport, err := registry.Build(ctx, &conf, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		_ = exec.Close()
		return Dependencies{}, nil, err
	}

	caps := registry.GetCapabilities(conf.GroupTransport)
	logger.Info("Group transport ready", loggingpkg.LogFields{
		"transport": caps.Name,
		"durable":   caps.Durable,
		"reliable":  caps.SupportsReliableDelivery(),
	})

	deps := Dependencies{
		Serializer:  opts.Serializer,
		Converter:   converter,
		Bindings:    postgres.NewBindingStore(exec),
		Subscriber:  postgres.NewChannelListener(exec, logger),
		Notifier:    postgres.NewNotifier(exec),
		Transport:   groupTransport,
		DeadLetters: NewPostgresEventDeadLetters(postgres.NewDeadLetterStore(exec), opts.Serializer),
		Logger:      logger,
		Metrics:     metrics,
	}

	closer := func() error {
		var errs []error
		if groupTransport.Close != nil {
			errs = append(errs, groupTransport.Close())
		}
		errs = append(errs, exec.Close())
		return errors.Join(errs...)
	}
	return deps, closer, nil
}
