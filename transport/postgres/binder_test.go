package postgres

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBindings struct {
	mu   sync.Mutex
	rows map[string]map[string]struct{}
	err  error
}

func newMemoryBindings() *memoryBindings {
	return &memoryBindings{rows: make(map[string]map[string]struct{})}
}

func (m *memoryBindings) Bind(_ context.Context, routingKey, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.rows[routingKey] == nil {
		m.rows[routingKey] = make(map[string]struct{})
	}
	m.rows[routingKey][channel] = struct{}{}
	return nil
}

func (m *memoryBindings) Unbind(_ context.Context, routingKey, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.rows[routingKey], channel)
	if len(m.rows[routingKey]) == 0 {
		delete(m.rows, routingKey)
	}
	return nil
}

func (m *memoryBindings) Channels(_ context.Context, routingKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows[routingKey]))
	for ch := range m.rows[routingKey] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

func TestKeyRegistrationBinder_BindIsIdempotent(t *testing.T) {
	store := newMemoryBindings()
	binder := NewKeyRegistrationBinder(store, "node-a", nil)
	ctx := context.Background()

	require.NoError(t, binder.Bind(ctx, "mailbox_id:1"))
	require.NoError(t, binder.Bind(ctx, "mailbox_id:1"))

	channels, err := store.Channels(ctx, "mailbox_id:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a"}, channels)
}

func TestKeyRegistrationBinder_UnbindKeepsOtherNodes(t *testing.T) {
	store := newMemoryBindings()
	a := NewKeyRegistrationBinder(store, "node-a", nil)
	b := NewKeyRegistrationBinder(store, "node-b", nil)
	ctx := context.Background()

	require.NoError(t, a.Bind(ctx, "username:bob"))
	require.NoError(t, b.Bind(ctx, "username:bob"))
	require.NoError(t, a.Unbind(ctx, "username:bob"))
	require.NoError(t, a.Unbind(ctx, "username:bob"))

	channels, err := store.Channels(ctx, "username:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-b"}, channels)
	assert.Equal(t, "node-a", a.Channel())
}

func TestKeyRegistrationBinder_ReturnsStoreErrors(t *testing.T) {
	store := newMemoryBindings()
	store.err = errors.New("connection refused")
	binder := NewKeyRegistrationBinder(store, "node-a", nil)

	require.Error(t, binder.Bind(context.Background(), "username:bob"))
	require.Error(t, binder.Unbind(context.Background(), "username:bob"))
}
