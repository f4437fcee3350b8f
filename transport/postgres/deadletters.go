package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DeadLetterStore keeps serialized events a group failed to handle.
type DeadLetterStore struct {
	exec  *Executor
	table string
}

func NewDeadLetterStore(exec *Executor) *DeadLetterStore {
	return &DeadLetterStore{exec: exec, table: pq.QuoteIdentifier(exec.DeadLettersTable())}
}

func (s *DeadLetterStore) Store(ctx context.Context, group string, insertionID uuid.UUID, event string) error {
	query := fmt.Sprintf(`INSERT INTO %s (group_name, insertion_id, event) VALUES ($1, $2, $3)`, s.table)
	if _, err := s.exec.DB().ExecContext(ctx, query, group, insertionID, event); err != nil {
		return fmt.Errorf("store dead letter for %s: %w", group, err)
	}
	return nil
}

func (s *DeadLetterStore) Remove(ctx context.Context, group string, insertionID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE group_name = $1 AND insertion_id = $2`, s.table)
	if _, err := s.exec.DB().ExecContext(ctx, query, group, insertionID); err != nil {
		return fmt.Errorf("remove dead letter %s of %s: %w", insertionID, group, err)
	}
	return nil
}

// Failed returns the stored event, or found=false when there is none.
func (s *DeadLetterStore) Failed(ctx context.Context, group string, insertionID uuid.UUID) (event string, found bool, err error) {
	query := fmt.Sprintf(`SELECT event FROM %s WHERE group_name = $1 AND insertion_id = $2`, s.table)
	err = s.exec.DB().GetContext(ctx, &event, query, group, insertionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read dead letter %s of %s: %w", insertionID, group, err)
	}
	return event, true, nil
}

func (s *DeadLetterStore) FailedIDs(ctx context.Context, group string) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`SELECT insertion_id FROM %s WHERE group_name = $1`, s.table)
	var ids []uuid.UUID
	if err := s.exec.DB().SelectContext(ctx, &ids, query, group); err != nil {
		return nil, fmt.Errorf("list dead letters of %s: %w", group, err)
	}
	return ids, nil
}

func (s *DeadLetterStore) Groups(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT group_name FROM %s`, s.table)
	var groups []string
	if err := s.exec.DB().SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list dead letter groups: %w", err)
	}
	return groups, nil
}

func (s *DeadLetterStore) ContainEvents(ctx context.Context) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s)`, s.table)
	var exists bool
	if err := s.exec.DB().GetContext(ctx, &exists, query); err != nil {
		return false, fmt.Errorf("check dead letters: %w", err)
	}
	return exists, nil
}
