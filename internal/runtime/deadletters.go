package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

// InsertionID identifies one dead letter within its group.
type InsertionID = uuid.UUID

// EventDeadLetters keeps events a group could not handle so they can be
// redelivered later.
type EventDeadLetters interface {
	Store(ctx context.Context, group Group, event Event) (InsertionID, error)
	Remove(ctx context.Context, group Group, id InsertionID) error
	// Failed returns found=false when no such dead letter exists.
	Failed(ctx context.Context, group Group, id InsertionID) (event Event, found bool, err error)
	FailedIDs(ctx context.Context, group Group) ([]InsertionID, error)
	Groups(ctx context.Context) ([]Group, error)
	ContainEvents(ctx context.Context) (bool, error)
}

// MemoryEventDeadLetters is an in-process EventDeadLetters.
type MemoryEventDeadLetters struct {
	mu      sync.RWMutex
	byGroup map[string]*groupLetters
}

type groupLetters struct {
	order  []InsertionID
	events map[InsertionID]Event
}

func NewMemoryEventDeadLetters() *MemoryEventDeadLetters {
	return &MemoryEventDeadLetters{byGroup: make(map[string]*groupLetters)}
}

func (m *MemoryEventDeadLetters) Store(_ context.Context, group Group, event Event) (InsertionID, error) {
	if group == nil {
		return uuid.Nil, errspkg.ErrGroupRequired
	}
	if event == nil {
		return uuid.Nil, errspkg.ErrEventRequired
	}
	id := uuid.New()

	m.mu.Lock()
	defer m.mu.Unlock()
	letters, ok := m.byGroup[group.GroupName()]
	if !ok {
		letters = &groupLetters{events: make(map[InsertionID]Event)}
		m.byGroup[group.GroupName()] = letters
	}
	letters.order = append(letters.order, id)
	letters.events[id] = event
	return id, nil
}

func (m *MemoryEventDeadLetters) Remove(_ context.Context, group Group, id InsertionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	letters, ok := m.byGroup[group.GroupName()]
	if !ok {
		return nil
	}
	if _, ok := letters.events[id]; !ok {
		return nil
	}
	delete(letters.events, id)
	for i, existing := range letters.order {
		if existing == id {
			letters.order = append(letters.order[:i], letters.order[i+1:]...)
			break
		}
	}
	if len(letters.order) == 0 {
		delete(m.byGroup, group.GroupName())
	}
	return nil
}

func (m *MemoryEventDeadLetters) Failed(_ context.Context, group Group, id InsertionID) (Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	letters, ok := m.byGroup[group.GroupName()]
	if !ok {
		return nil, false, nil
	}
	event, ok := letters.events[id]
	return event, ok, nil
}

// FailedIDs lists ids in insertion order.
func (m *MemoryEventDeadLetters) FailedIDs(_ context.Context, group Group) ([]InsertionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	letters, ok := m.byGroup[group.GroupName()]
	if !ok {
		return nil, nil
	}
	return append([]InsertionID(nil), letters.order...), nil
}

func (m *MemoryEventDeadLetters) Groups(context.Context) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.byGroup))
	for name := range m.byGroup {
		names = append(names, name)
	}
	sort.Strings(names)
	groups := make([]Group, 0, len(names))
	for _, name := range names {
		groups = append(groups, groupFromName(name))
	}
	return groups, nil
}

func (m *MemoryEventDeadLetters) ContainEvents(context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byGroup) > 0, nil
}

// DeadLetterRecords is the raw storage behind PostgresEventDeadLetters.
// postgres.DeadLetterStore implements it.
type DeadLetterRecords interface {
	Store(ctx context.Context, group string, insertionID uuid.UUID, event string) error
	Remove(ctx context.Context, group string, insertionID uuid.UUID) error
	Failed(ctx context.Context, group string, insertionID uuid.UUID) (string, bool, error)
	FailedIDs(ctx context.Context, group string) ([]uuid.UUID, error)
	Groups(ctx context.Context) ([]string, error)
	ContainEvents(ctx context.Context) (bool, error)
}

// PostgresEventDeadLetters stores serialized events through DeadLetterRecords.
type PostgresEventDeadLetters struct {
	records    DeadLetterRecords
	serializer EventSerializer
}

func NewPostgresEventDeadLetters(records DeadLetterRecords, serializer EventSerializer) *PostgresEventDeadLetters {
	return &PostgresEventDeadLetters{records: records, serializer: serializer}
}

func (p *PostgresEventDeadLetters) Store(ctx context.Context, group Group, event Event) (InsertionID, error) {
	if group == nil {
		return uuid.Nil, errspkg.ErrGroupRequired
	}
	data, err := p.serializer.ToJSON(event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("serialize dead letter: %w", err)
	}
	id := uuid.New()
	if err := p.records.Store(ctx, group.GroupName(), id, data); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (p *PostgresEventDeadLetters) Remove(ctx context.Context, group Group, id InsertionID) error {
	return p.records.Remove(ctx, group.GroupName(), id)
}

func (p *PostgresEventDeadLetters) Failed(ctx context.Context, group Group, id InsertionID) (Event, bool, error) {
	data, found, err := p.records.Failed(ctx, group.GroupName(), id)
	if err != nil || !found {
		return nil, found, err
	}
	event, err := p.serializer.FromJSON(data)
	if err != nil {
		return nil, true, fmt.Errorf("deserialize dead letter %s: %w", id, err)
	}
	return event, true, nil
}

func (p *PostgresEventDeadLetters) FailedIDs(ctx context.Context, group Group) ([]InsertionID, error) {
	return p.records.FailedIDs(ctx, group.GroupName())
}

func (p *PostgresEventDeadLetters) Groups(ctx context.Context) ([]Group, error) {
	names, err := p.records.Groups(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	groups := make([]Group, 0, len(names))
	for _, name := range names {
		groups = append(groups, groupFromName(name))
	}
	return groups, nil
}

func (p *PostgresEventDeadLetters) ContainEvents(ctx context.Context) (bool, error) {
	return p.records.ContainEvents(ctx)
}
