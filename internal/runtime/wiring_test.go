package runtime

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/transport/postgres"
)

func TestBuildDependencies_RequiresSerializer(t *testing.T) {
	_, _, err := BuildDependencies(context.Background(), configpkg.Config{}, DependencyOptions{})
	require.ErrorIs(t, err, errspkg.ErrSerializerRequired)
}

func TestBuildDependencies_InvalidConfig(t *testing.T) {
	_, _, err := BuildDependencies(context.Background(), configpkg.Config{
		GroupTransport:    "kafka",
		RetryJitterFactor: 2,
	}, DependencyOptions{Serializer: testSerializer()})

	var validation errspkg.ConfigValidationError
	require.True(t, errors.As(err, &validation))
	assert.ErrorContains(t, err, "postgres: URL is required")
	assert.ErrorContains(t, err, "kafka: brokers are required")
	assert.ErrorContains(t, err, "jitter factor")
}

// Set EVENTBUS_TEST_POSTGRES_URL to run the end-to-end test.
func postgresTestConfig(t *testing.T) configpkg.Config {
	t.Helper()
	url := os.Getenv("EVENTBUS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("EVENTBUS_TEST_POSTGRES_URL not set")
	}

	suffix := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	conf := testConfig()
	conf.PostgresURL = url
	conf.BindingsTable = "test_bus_bindings_" + suffix
	conf.DeadLettersTable = "test_bus_dead_letters_" + suffix

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exec, err := postgres.Open(ctx, postgres.Options{URL: url})
		if err != nil {
			return
		}
		defer exec.Close()
		for _, table := range []string{conf.BindingsTable, conf.DeadLettersTable} {
			if _, err := exec.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(table)); err != nil {
				t.Logf("Warning: failed to drop %s: %v", table, err)
			}
		}
	})
	return conf
}

func startPostgresNode(t *testing.T, conf configpkg.Config, reg prometheus.Registerer) *EventBus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps, closer, err := BuildDependencies(ctx, conf, DependencyOptions{Serializer: testSerializer(), Registerer: reg})
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	bus, err := NewEventBus(conf, deps)
	require.NoError(t, err)
	require.NoError(t, bus.Start(ctx))
	t.Cleanup(func() {
		_ = bus.Stop()
		_ = closer()
	})
	return bus
}

func TestEventBus_PostgresKeyDelivery(t *testing.T) {
	conf := postgresTestConfig(t)
	conf.MetricsEnabled = true
	reg := prometheus.NewRegistry()
	nodeA := startPostgresNode(t, conf, reg)
	nodeB := startPostgresNode(t, conf, reg)
	ctx := context.Background()
	key := MailboxIDRegistrationKey(uuid.NewString())

	local := newRecordingListener(Synchronous)
	remote := newRecordingListener(Asynchronous)
	_, err := nodeA.Register(ctx, local, key)
	require.NoError(t, err)
	regB, err := nodeB.Register(ctx, remote, key)
	require.NoError(t, err)

	event := newTestEvent("bob")
	require.NoError(t, nodeA.Dispatch(ctx, event, key))
	assert.Equal(t, event.ID, local.await(t).EventID())
	assert.Equal(t, event.ID, remote.await(t).EventID())
	local.assertNothing(t, 100*time.Millisecond)

	require.NoError(t, regB.Unregister(ctx))
	require.NoError(t, nodeA.Dispatch(ctx, newTestEvent("bob"), key))
	remote.assertNothing(t, 200*time.Millisecond)
}

func TestEventBus_PostgresDeadLetters(t *testing.T) {
	conf := postgresTestConfig(t)
	bus := startPostgresNode(t, conf, nil)
	ctx := context.Background()
	group := NewGroup("indexer")

	listener := newSwitchableListener()
	listener.failing.Store(true)
	_, err := bus.RegisterGroup(ctx, listener, group)
	require.NoError(t, err)

	event := newTestEvent("bob")
	require.NoError(t, bus.Dispatch(ctx, event))
	awaitDeadLetters(t, bus.DeadLetters(), group, 1)

	listener.failing.Store(false)
	report, err := NewRedeliverer(bus, nil, nil).RedeliverAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedeliveryReport{Succeeded: 1}, report)
	assert.Equal(t, event.ID, listener.await(t).EventID())
}
