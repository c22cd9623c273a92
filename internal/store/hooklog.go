package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"registration-service/internal/models"

	"github.com/google/uuid"
)

// InsertHookLog persists a hook work item inside the transaction.
func (t *Tx) InsertHookLog(ctx context.Context, log *models.HookLog) error {
	_, err := t.ExecContext(ctx,
		"INSERT INTO hook_log (id, attempts, retry_at, config, body) VALUES ($1, $2, $3, $4, $5)",
		log.ID, log.Attempts, log.RetryAt, log.Config, log.Body)
	if err != nil {
		return fmt.Errorf("failed to insert hook log: %w", err)
	}
	return nil
}

// GetHookLog retrieves a hook work item, optionally row-locked.
// Returns nil if not found.
func (t *Tx) GetHookLog(ctx context.Context, id uuid.UUID, lock bool) (*models.HookLog, error) {
	query := "SELECT * FROM hook_log WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var log models.HookLog
	err := t.GetContext(ctx, &log, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hook log: %w", err)
	}
	return &log, nil
}

// UpdateHookLog writes the item's attempt count and retry time.
func (t *Tx) UpdateHookLog(ctx context.Context, log *models.HookLog) error {
	_, err := t.ExecContext(ctx,
		"UPDATE hook_log SET attempts = $2, retry_at = $3 WHERE id = $1",
		log.ID, log.Attempts, log.RetryAt)
	if err != nil {
		return fmt.Errorf("failed to update hook log: %w", err)
	}
	return nil
}

// DeleteHookLog removes a delivered work item.
func (t *Tx) DeleteHookLog(ctx context.Context, id uuid.UUID) error {
	_, err := t.ExecContext(ctx, "DELETE FROM hook_log WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete hook log: %w", err)
	}
	return nil
}

// ListDueHookLogs returns the IDs of work items whose retry time has passed,
// oldest first. Used by the sweeper to resume deliveries after a restart.
func (s *Store) ListDueHookLogs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM hook_log WHERE retry_at IS NOT NULL AND retry_at <= $1 ORDER BY retry_at LIMIT $2",
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due hook logs: %w", err)
	}
	return ids, nil
}
