package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const triggerName = "prevent_delete_on_analytics_events"

// ErrTriggerExists is returned when installing a delete guard that is
// already present.
var ErrTriggerExists = errors.New("delete guard already installed")

// ErrTriggerMissing is returned when removing a delete guard that is not
// installed.
var ErrTriggerMissing = errors.New("delete guard not installed")

func (s *Store) triggerExists(ctx context.Context) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='trigger' AND name = ? LIMIT 1`, triggerName)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InstallDeleteGuard creates a trigger that aborts deletions on the
// analytics event log, so the device's own cleanup cannot purge history
// before it has been extracted.
func (s *Store) InstallDeleteGuard(ctx context.Context) error {
	exists, err := s.triggerExists(ctx)
	if err != nil {
		return fmt.Errorf("inspect triggers: %w", err)
	}
	if exists {
		return ErrTriggerExists
	}
	_, err = s.db.ExecContext(ctx, `CREATE TRIGGER `+triggerName+`
		BEFORE DELETE ON AnalyticsEvents
		BEGIN
			SELECT RAISE(ABORT, 'Deletion is not allowed on AnalyticsEvents table');
		END`)
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

// RemoveDeleteGuard drops the delete guard trigger.
func (s *Store) RemoveDeleteGuard(ctx context.Context) error {
	exists, err := s.triggerExists(ctx)
	if err != nil {
		return fmt.Errorf("inspect triggers: %w", err)
	}
	if !exists {
		return ErrTriggerMissing
	}
	if _, err := s.db.ExecContext(ctx, `DROP TRIGGER `+triggerName); err != nil {
		return fmt.Errorf("drop trigger: %w", err)
	}
	return nil
}
